package media

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/event"
	"newsdesk/internal/imageproc"
	"newsdesk/internal/metrics"
	"newsdesk/internal/repository"
	"newsdesk/internal/storage"
	"newsdesk/internal/telemetry"

	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	metaMediaID    = "media-id"
	metaUploadedBy = "uploaded-by"

	defaultNameCacheSize = 2048

	// LegacyImageFolder 和 LegacyImageQuality 是 /api/upload/image 的固定参数。
	LegacyImageFolder  = "images"
	LegacyImageQuality = 90
)

// UploadRequest 是一次上传的输入。
type UploadRequest struct {
	Data         []byte
	MIMEType     string
	OriginalName string
	UploadedBy   string
	Options      UploadOptions
}

// Service 在 storage.Backend 之上实现上传、浏览与删除。
type Service struct {
	store  storage.Backend
	repo   repository.MediaRepository
	events event.Publisher
	names  *lru.Cache[string, string]
	log    zerolog.Logger
}

// Option 配置 Service 的可选依赖。
type Option func(*Service)

// WithRepository 在上传时写入媒体目录记录，浏览时合并编辑信息。
func WithRepository(repo repository.MediaRepository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithPublisher 设置事件发布器。
func WithPublisher(pub event.Publisher) Option {
	return func(s *Service) { s.events = pub }
}

// WithNameCacheSize 设置原始文件名缓存容量。
func WithNameCacheSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.names, _ = lru.New[string, string](size)
		}
	}
}

// NewService 创建绑定到单个存储后端的媒体服务。
func NewService(store storage.Backend, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: event.Noop{},
		log:    log.With().Str("component", "media").Str("backend", store.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.names == nil {
		// 容量为正数时 lru.New 不会返回错误
		s.names, _ = lru.New[string, string](defaultNameCacheSize)
	}
	return s
}

// Backend 返回底层存储后端名称。
func (s *Service) Backend() string { return s.store.Name() }

func (s *Service) objectStore() bool { return s.store.Name() != "local" }

// Upload 分类、校验大小、按需缩放后写入存储，返回新文件的描述。
// 超出类别上限时不会触发任何存储调用。
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*File, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "media.Upload", trace.WithAttributes(
		attribute.String("storage.backend", s.store.Name()),
		attribute.Int("media.size", len(req.Data)),
	))
	defer span.End()

	file, mediaType, err := s.upload(ctx, req)
	metrics.UploadsTotal.WithLabelValues(s.store.Name(), string(mediaType), metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.UploadBytes.WithLabelValues(s.store.Name(), string(mediaType)).Observe(float64(file.Size))
	span.SetAttributes(attribute.String("media.key", file.Key), attribute.String("media.type", string(mediaType)))
	return file, nil
}

func (s *Service) upload(ctx context.Context, req UploadRequest) (*File, Type, error) {
	if len(req.Data) == 0 {
		return nil, TypeOther, apperr.Validation("no file provided")
	}

	mimeType := detectMIME(req.Data, req.MIMEType)
	mediaType := TypeFromMIME(mimeType)

	size := int64(len(req.Data))
	if limit := MaxSizeFor(mediaType); size > limit {
		return nil, mediaType, apperr.PayloadTooLarge(string(mediaType), limit, size)
	}

	opts := req.Options.withDefaults()
	data := req.Data
	name := req.OriginalName
	var width, height *int

	if mediaType == TypeImage {
		if mimeType == "image/gif" || mimeType == "image/svg+xml" {
			if dims, err := imageproc.Inspect(data, mimeType); err == nil {
				width, height = intPtr(dims.Width), intPtr(dims.Height)
			} else {
				s.log.Debug().Err(err).Str("name", name).Msg("dimensions unavailable")
			}
		} else if !imageproc.Decodable(mimeType) {
			s.log.Debug().Str("mime", mimeType).Msg("no decoder for image, storing original bytes")
		} else {
			res, err := imageproc.Resize(data, mimeType, imageproc.Options{
				MaxWidth:  opts.MaxWidth,
				MaxHeight: opts.MaxHeight,
				Quality:   opts.Quality,
			})
			switch {
			case errors.Is(err, imageproc.ErrTooManyPixels):
				return nil, mediaType, apperr.Validation("image %s exceeds %d pixels", name, imageproc.MaxPixels)
			case errors.Is(err, imageproc.ErrInvalidImage):
				return nil, mediaType, apperr.Validation("file %s is not a valid %s image", name, mimeType)
			case err != nil:
				return nil, mediaType, apperr.Internal(err, "process image %s", name)
			default:
				if res.Resized {
					metrics.ImagesResized.Inc()
					if res.MIMEType != mimeType {
						name = replaceExt(name, imageproc.ExtensionFor(res.MIMEType))
						mimeType = res.MIMEType
					}
					data = res.Data
				}
				width, height = intPtr(res.Width), intPtr(res.Height)
			}
		}
	}

	id := NewID()
	key := storage.GenerateFileKey(name, opts.Folder, id)
	meta := map[string]string{
		storage.MetaOriginalName: url.PathEscape(req.OriginalName),
		metaMediaID:              id,
	}
	if req.UploadedBy != "" {
		meta[metaUploadedBy] = url.PathEscape(req.UploadedBy)
	}

	res, err := s.store.Upload(ctx, storage.UploadInput{
		Key:         key,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: mimeType,
		Metadata:    meta,
	})
	metrics.StorageOps.WithLabelValues(s.store.Name(), "upload", metrics.Result(err)).Inc()
	if err != nil {
		return nil, mediaType, err
	}

	now := time.Now().UTC()
	file := &File{
		ID:           id,
		Filename:     path.Base(res.Key),
		OriginalName: displayName(req.OriginalName, res.Key),
		URL:          res.URL,
		Type:         mediaType,
		MIMEType:     mimeType,
		Size:         int64(len(data)),
		Width:        width,
		Height:       height,
		Alt:          opts.Alt,
		Caption:      opts.Caption,
		Folder:       opts.Folder,
		Tags:         opts.Tags,
		UploadedAt:   now,
		LastModified: now,
		UploadedBy:   req.UploadedBy,
	}
	if s.objectStore() {
		file.Bucket = res.Bucket
		file.Key = res.Key
		file.ETag = res.ETag
	}
	s.names.Add(nameCacheKey(res.Key, res.ETag), file.OriginalName)

	s.log.Info().
		Str("key", res.Key).
		Str("type", string(mediaType)).
		Int64("size", file.Size).
		Msg("media uploaded")

	s.record(ctx, file, res.Key)
	event.Emit(ctx, s.events, s.log, event.SubjectMediaUploaded, file)
	return file, mediaType, nil
}

// LegacyImageUpload 只接受图片，固定写入 images 目录，只限制宽度，质量 90。
func (s *Service) LegacyImageUpload(ctx context.Context, req UploadRequest, maxWidth int) (*File, error) {
	if len(req.Data) == 0 {
		return nil, apperr.Validation("no file provided")
	}
	req.MIMEType = detectMIME(req.Data, req.MIMEType)
	if TypeFromMIME(req.MIMEType) != TypeImage {
		return nil, apperr.Validation("only image files are supported")
	}
	req.Options = UploadOptions{
		Folder:    LegacyImageFolder,
		MaxWidth:  maxWidth,
		MaxHeight: -1,
		Quality:   LegacyImageQuality,
	}
	return s.Upload(ctx, req)
}

// Delete 按 key 删除对象，不存在时返回 NotFound。
func (s *Service) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperr.Validation("file key is required")
	}

	ctx, span := telemetry.Tracer().Start(ctx, "media.Delete", trace.WithAttributes(attribute.String("media.key", key)))
	defer span.End()

	err := s.store.Delete(ctx, key)
	metrics.StorageOps.WithLabelValues(s.store.Name(), "delete", metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.forget(ctx, key)
	return nil
}

// DeleteByFilename 先按 folder/filename 精确删除，找不到时在 folder 下递归查找同名文件。
// 仅支持实现了 storage.FilenameDeleter 的后端，返回实际删除的 key。
func (s *Service) DeleteByFilename(ctx context.Context, folder, filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", apperr.Validation("filename is required")
	}
	if strings.ContainsAny(filename, `/\`) {
		return "", apperr.Validation("invalid filename: %q", filename)
	}
	finder, ok := s.store.(storage.FilenameDeleter)
	if !ok {
		return "", apperr.Configuration("backend %s does not support delete by filename", s.store.Name())
	}

	key := filename
	if f := storage.CleanFolder(folder); f != "" {
		key = f + "/" + filename
	}
	err := s.Delete(ctx, key)
	if err == nil {
		return key, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) && !apperr.Is(err, apperr.KindValidation) {
		return "", err
	}

	found, err := finder.DeleteByFilename(ctx, folder, filename)
	metrics.StorageOps.WithLabelValues(s.store.Name(), "delete_by_filename", metrics.Result(err)).Inc()
	if err != nil {
		return "", err
	}
	s.forget(ctx, found)
	return found, nil
}

func (s *Service) record(ctx context.Context, file *File, key string) {
	if s.repo == nil {
		return
	}
	_, err := s.repo.Create(ctx, &repository.MediaRecord{
		ID:           file.ID,
		StorageKey:   key,
		Backend:      s.store.Name(),
		OriginalName: file.OriginalName,
		MimeType:     file.MIMEType,
		MediaType:    string(file.Type),
		SizeBytes:    file.Size,
		Width:        file.Width,
		Height:       file.Height,
		Alt:          file.Alt,
		Caption:      file.Caption,
		Folder:       file.Folder,
		Tags:         file.Tags,
		UploadedBy:   file.UploadedBy,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("record media failed")
	}
}

func (s *Service) forget(ctx context.Context, key string) {
	if s.repo != nil {
		if err := s.repo.DeleteByKey(ctx, s.store.Name(), key); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("delete media record failed")
		}
	}
	s.log.Info().Str("key", key).Msg("media deleted")
	event.Emit(ctx, s.events, s.log, event.SubjectMediaDeleted, map[string]string{
		"key":     key,
		"backend": s.store.Name(),
	})
}

// detectMIME 在未声明或声明为通用二进制时按内容嗅探。
func detectMIME(data []byte, declared string) string {
	mimeType := NormalizeMIME(declared)
	if mimeType == "" || mimeType == DefaultMIMEType {
		mimeType = NormalizeMIME(mimetype.Detect(data).String())
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func replaceExt(name, ext string) string {
	if ext == "" {
		return name
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

func displayName(original, key string) string {
	if strings.TrimSpace(original) != "" {
		return original
	}
	return path.Base(key)
}

func nameCacheKey(key, etag string) string {
	return key + "|" + etag
}

func intPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}
