package media

import (
	"context"
	"net/url"
	"path"
	"sort"
	"strings"

	"newsdesk/internal/metrics"
	"newsdesk/internal/storage"
	"newsdesk/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ListRequest 指定要浏览的目录与分页参数。
type ListRequest struct {
	Folder            string
	MaxKeys           int
	ContinuationToken string
}

// ListResult 是一层目录的视图。
type ListResult struct {
	Files                 []File   `json:"files"`
	Folders               []string `json:"folders"`
	IsTruncated           bool     `json:"isTruncated"`
	NextContinuationToken string   `json:"nextContinuationToken,omitempty"`
}

// List 以 folder 为前缀列举对象，把更深层的 key 折叠为子目录名。
// 原始文件名从对象元数据读取，读取失败时记录 warn 并退回存储文件名。
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	folder := storage.CleanFolder(req.Folder)
	prefix := storage.FolderPrefix(folder)

	ctx, span := telemetry.Tracer().Start(ctx, "media.List", trace.WithAttributes(
		attribute.String("storage.backend", s.store.Name()),
		attribute.String("media.folder", folder),
	))
	defer span.End()

	page, err := s.store.List(ctx, storage.ListOptions{
		Prefix:            prefix,
		MaxKeys:           req.MaxKeys,
		ContinuationToken: req.ContinuationToken,
	})
	metrics.StorageOps.WithLabelValues(s.store.Name(), "list", metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	folders := newFolderSet()
	if lister, ok := s.store.(storage.FolderLister); ok && req.ContinuationToken == "" {
		names, err := lister.ListFolders(ctx, folder)
		if err != nil {
			s.log.Warn().Err(err).Str("folder", folder).Msg("read subfolders failed")
		}
		for _, name := range names {
			folders.add(name)
		}
	}

	bucket := ""
	if namer, ok := s.store.(storage.BucketNamer); ok {
		bucket = namer.Bucket()
	}

	files := make([]File, 0, len(page.Files))
	keys := make([]string, 0, len(page.Files))
	for _, obj := range page.Files {
		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == "" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			folders.add(rest[:i])
			continue
		}
		file := s.describe(ctx, obj, folder)
		if s.objectStore() {
			file.Bucket = bucket
			file.Key = obj.Key
			file.ETag = obj.ETag
			file.StorageClass = obj.StorageClass
		}
		files = append(files, file)
		keys = append(keys, obj.Key)
	}
	s.mergeRecords(ctx, files, keys)

	span.SetAttributes(attribute.Int("media.files", len(files)))
	return &ListResult{
		Files:                 files,
		Folders:               folders.sorted(),
		IsTruncated:           page.IsTruncated,
		NextContinuationToken: page.NextContinuationToken,
	}, nil
}

func (s *Service) describe(ctx context.Context, obj storage.ObjectInfo, folder string) File {
	name := path.Base(obj.Key)
	mimeType := MIMEFromExtension(name)
	return File{
		ID:           IDFromKey(obj.Key),
		Filename:     name,
		OriginalName: s.originalName(ctx, obj),
		URL:          s.store.PublicURL(obj.Key),
		Type:         TypeFromMIME(mimeType),
		MIMEType:     mimeType,
		Size:         obj.Size,
		Folder:       folder,
		Tags:         []string{},
		UploadedAt:   obj.LastModified,
		LastModified: obj.LastModified,
	}
}

func (s *Service) originalName(ctx context.Context, obj storage.ObjectInfo) string {
	fallback := path.Base(obj.Key)
	cacheKey := nameCacheKey(obj.Key, obj.ETag)
	if name, ok := s.names.Get(cacheKey); ok {
		metrics.MetadataCacheLookups.WithLabelValues("hit").Inc()
		return name
	}
	metrics.MetadataCacheLookups.WithLabelValues("miss").Inc()

	meta, err := s.store.Stat(ctx, obj.Key)
	metrics.StorageOps.WithLabelValues(s.store.Name(), "stat", metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn().Err(err).Str("key", obj.Key).Msg("original name lookup failed, using storage filename")
		return fallback
	}

	name := decodeMeta(meta.Metadata[storage.MetaOriginalName])
	if name == "" {
		name = fallback
	}
	s.names.Add(cacheKey, name)
	return name
}

func (s *Service) mergeRecords(ctx context.Context, files []File, keys []string) {
	if s.repo == nil || len(keys) == 0 {
		return
	}
	records, err := s.repo.ListByKeys(ctx, s.store.Name(), keys)
	if err != nil {
		s.log.Warn().Err(err).Msg("load media records failed")
		return
	}
	for i := range files {
		rec, ok := records[keys[i]]
		if !ok {
			continue
		}
		f := &files[i]
		f.ID = rec.ID
		f.Alt = rec.Alt
		f.Caption = rec.Caption
		f.UploadedBy = rec.UploadedBy
		f.Width = rec.Width
		f.Height = rec.Height
		if len(rec.Tags) > 0 {
			f.Tags = rec.Tags
		}
		if rec.OriginalName != "" {
			f.OriginalName = rec.OriginalName
		}
		if !rec.CreatedAt.IsZero() {
			f.UploadedAt = rec.CreatedAt
		}
	}
}

func decodeMeta(v string) string {
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

type folderSet map[string]struct{}

func newFolderSet() folderSet { return folderSet{} }

func (f folderSet) add(name string) {
	if name != "" {
		f[name] = struct{}{}
	}
}

func (f folderSet) sorted() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
