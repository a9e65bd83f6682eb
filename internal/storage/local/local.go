package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/storage"

	"github.com/rs/zerolog"
)

const metaDir = ".meta"

// Storage 将文件写入本地文件系统，适用于单实例开发环境。
type Storage struct {
	baseDir      string
	baseURL      string
	staticPrefix string
	log          zerolog.Logger
}

var (
	_ storage.Backend         = (*Storage)(nil)
	_ storage.FilenameDeleter = (*Storage)(nil)
	_ storage.FolderLister    = (*Storage)(nil)
)

// New 创建本地存储，baseURL 为空时使用 staticPrefix 生成相对地址。
func New(baseDir, baseURL, staticPrefix string, log zerolog.Logger) (*Storage, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("local storage dir is empty")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	if staticPrefix == "" {
		staticPrefix = "/uploads/"
	}
	return &Storage{
		baseDir:      abs,
		baseURL:      strings.TrimRight(baseURL, "/"),
		staticPrefix: "/" + strings.Trim(staticPrefix, "/") + "/",
		log:          log.With().Str("component", "local-storage").Logger(),
	}, nil
}

func (s *Storage) Name() string { return "local" }

// BaseDir 返回存储根目录，供静态文件服务使用。
func (s *Storage) BaseDir() string { return s.baseDir }

// Upload 先写临时文件再原子重命名，同时写入元数据旁路文件。
func (s *Storage) Upload(ctx context.Context, in storage.UploadInput) (storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.UploadResult{}, err
	}

	targetPath, err := s.resolve(in.Key)
	if err != nil {
		return storage.UploadResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.UploadResult{}, apperr.StorageWrite(err, "ensure dir")
	}

	// 临时文件以点开头，列表和按文件名查找都会跳过
	tempPath := filepath.Join(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+".tmp")
	file, err := os.Create(tempPath)
	if err != nil {
		return storage.UploadResult{}, apperr.StorageWrite(err, "create temp file")
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(file, hash), in.Body); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.UploadResult{}, apperr.StorageWrite(err, "write file")
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.UploadResult{}, apperr.StorageWrite(err, "sync file")
	}

	if err := file.Close(); err != nil {
		return storage.UploadResult{}, apperr.StorageWrite(err, "close file")
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return storage.UploadResult{}, apperr.StorageWrite(err, "rename temp file")
	}

	etag := hex.EncodeToString(hash.Sum(nil))
	side := sidecar{ContentType: in.ContentType, ETag: etag, Metadata: in.Metadata}
	if err := s.writeSidecar(in.Key, side); err != nil {
		s.log.Warn().Err(err).Str("key", in.Key).Msg("write metadata sidecar failed")
	}

	s.log.Debug().Str("key", in.Key).Int64("bytes", in.Size).Msg("file stored")

	return storage.UploadResult{
		URL:  s.PublicURL(in.Key),
		Key:  in.Key,
		ETag: etag,
	}, nil
}

// Delete 删除指定 key 的文件。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	targetPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	info, err := os.Stat(targetPath)
	if err != nil || info.IsDir() {
		if err == nil || os.IsNotExist(err) {
			return apperr.NotFound("file not found: %s", key)
		}
		return apperr.StorageWrite(err, "stat file")
	}
	if err := os.Remove(targetPath); err != nil {
		return apperr.StorageWrite(err, "remove file")
	}
	_ = os.Remove(s.sidecarPath(key))
	return nil
}

// DeleteByFilename 在目录树中深度优先查找文件名并删除第一个匹配项，返回其 key。
func (s *Storage) DeleteByFilename(ctx context.Context, folder, filename string) (string, error) {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		return "", apperr.Validation("invalid filename: %q", filename)
	}

	root := s.baseDir
	if f := storage.CleanFolder(folder); f != "" {
		candidate := filepath.Join(s.baseDir, filepath.FromSlash(f))
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			root = candidate
		}
	}

	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && d.Name() == name {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", apperr.StorageRead(err, "search %s", filename)
	}
	if found == "" {
		return "", apperr.NotFound("file not found: %s", filename)
	}

	key, err := s.keyFor(found)
	if err != nil {
		return "", err
	}
	if err := s.Delete(ctx, key); err != nil {
		return "", err
	}
	return key, nil
}

// List 以 key 字典序遍历目录树，使用最后一个 key 作为续页 token。
func (s *Storage) List(ctx context.Context, opts storage.ListOptions) (storage.ListResult, error) {
	startAfter, err := storage.DecodeToken(opts.ContinuationToken)
	if err != nil {
		return storage.ListResult{}, apperr.Validation("invalid continuation token")
	}

	root := s.baseDir
	if dir := storage.CleanFolder(path.Dir(opts.Prefix + "x")); dir != "" {
		root = filepath.Join(s.baseDir, filepath.FromSlash(dir))
	}

	var all []storage.ObjectInfo
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		key, err := s.keyFor(p)
		if err != nil {
			return nil
		}
		if !strings.HasPrefix(key, opts.Prefix) || key <= startAfter {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		all = append(all, storage.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
			ETag:         s.readSidecar(key).ETag,
		})
		return nil
	})
	if err != nil {
		return storage.ListResult{}, apperr.StorageRead(err, "list %s", opts.Prefix)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	limit := opts.Limit()
	result := storage.ListResult{Files: all}
	if len(all) > limit {
		result.Files = all[:limit]
		result.IsTruncated = true
		result.NextContinuationToken = storage.EncodeToken(all[limit-1].Key)
	}
	return result, nil
}

// ListFolders 读取 folder 下一层的子目录名，目录不存在时返回空。
func (s *Storage) ListFolders(ctx context.Context, folder string) ([]string, error) {
	dir := s.baseDir
	if f := storage.CleanFolder(folder); f != "" {
		resolved, err := s.resolve(f)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.StorageRead(err, "read dir %s", folder)
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			folders = append(folders, e.Name())
		}
	}
	return folders, nil
}

// Stat 返回文件大小、修改时间与写入时记录的元数据。
func (s *Storage) Stat(ctx context.Context, key string) (storage.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectMetadata{}, err
	}
	targetPath, err := s.resolve(key)
	if err != nil {
		return storage.ObjectMetadata{}, err
	}
	info, err := os.Stat(targetPath)
	if err != nil || info.IsDir() {
		if err == nil || os.IsNotExist(err) {
			return storage.ObjectMetadata{}, apperr.NotFound("file not found: %s", key)
		}
		return storage.ObjectMetadata{}, apperr.StorageRead(err, "stat file")
	}
	side := s.readSidecar(key)
	return storage.ObjectMetadata{
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
		ContentType:  side.ContentType,
		ETag:         side.ETag,
		Metadata:     side.Metadata,
	}, nil
}

// PublicURL 优先使用配置的公开地址，否则返回静态服务路径。
func (s *Storage) PublicURL(key string) string {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")
	if s.baseURL != "" {
		if u, err := url.JoinPath(s.baseURL, key); err == nil {
			return u
		}
	}
	return s.staticPrefix + key
}

func (s *Storage) resolve(key string) (string, error) {
	clean := storage.CleanFolder(key)
	if clean == "" {
		return "", apperr.Validation("invalid key: %q", key)
	}
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", apperr.Validation("invalid key: %q", key)
		}
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Storage) keyFor(fullPath string) (string, error) {
	rel, err := filepath.Rel(s.baseDir, fullPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

type sidecar struct {
	ContentType string            `json:"contentType,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	WrittenAt   time.Time         `json:"writtenAt"`
}

func (s *Storage) sidecarPath(key string) string {
	return filepath.Join(s.baseDir, metaDir, filepath.FromSlash(storage.CleanFolder(key))+".json")
}

func (s *Storage) writeSidecar(key string, side sidecar) error {
	side.WrittenAt = time.Now().UTC()
	p := s.sidecarPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(side)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *Storage) readSidecar(key string) sidecar {
	var side sidecar
	data, err := os.ReadFile(s.sidecarPath(key))
	if err != nil {
		return side
	}
	if err := json.Unmarshal(data, &side); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt metadata sidecar")
	}
	return side
}
