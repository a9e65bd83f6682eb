package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"newsdesk/internal/apperr"
	"newsdesk/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config 包含 MinIO / S3 兼容存储所需的配置。
type Config struct {
	Endpoint  string // 可以带协议，如 "http://localhost:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string // 自定义公开访问域名，可为空
}

// Storage 实现了 storage.Backend 接口，使用 minio-go 访问 S3 兼容存储。
type Storage struct {
	client    *minio.Client
	bucket    string
	baseURL   string
	publicURL string
}

var (
	_ storage.Backend     = (*Storage)(nil)
	_ storage.BucketNamer = (*Storage)(nil)
)

// New 创建新的存储实例，bucket 不存在时自动创建。
func New(ctx context.Context, cfg Config) (*Storage, error) {
	host, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if host == "" {
		return nil, apperr.Configuration("minio endpoint is empty")
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}

	return &Storage{
		client:    client,
		bucket:    cfg.Bucket,
		baseURL:   scheme + "://" + host,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (s *Storage) Name() string { return "minio" }

// Bucket 返回对象所在的 bucket。
func (s *Storage) Bucket() string { return s.bucket }

// Upload 将文件写入 bucket。
func (s *Storage) Upload(ctx context.Context, in storage.UploadInput) (storage.UploadResult, error) {
	if s == nil || s.client == nil {
		return storage.UploadResult{}, apperr.Configuration("minio storage uninitialized")
	}

	size := in.Size
	if size <= 0 {
		size = -1
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, in.Key, in.Body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: in.Metadata,
	})
	if err != nil {
		return storage.UploadResult{}, apperr.StorageWrite(err, "put object %s", in.Key)
	}

	return storage.UploadResult{
		URL:    s.PublicURL(in.Key),
		Key:    in.Key,
		ETag:   info.ETag,
		Bucket: s.bucket,
	}, nil
}

// Delete 删除对象；S3 的删除对不存在的 key 也会成功，因此先做一次 Stat。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return apperr.Configuration("minio storage uninitialized")
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return apperr.NotFound("file not found: %s", key)
		}
		return apperr.StorageWrite(err, "stat object %s", key)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperr.StorageWrite(err, "remove object %s", key)
	}
	return nil
}

// List 使用 StartAfter 续页，多读一个对象用于判断是否还有下一页。
func (s *Storage) List(ctx context.Context, opts storage.ListOptions) (storage.ListResult, error) {
	if s == nil || s.client == nil {
		return storage.ListResult{}, apperr.Configuration("minio storage uninitialized")
	}
	startAfter, err := storage.DecodeToken(opts.ContinuationToken)
	if err != nil {
		return storage.ListResult{}, apperr.Validation("invalid continuation token")
	}

	limit := opts.Limit()
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:     opts.Prefix,
		Recursive:  true,
		StartAfter: startAfter,
		MaxKeys:    limit + 1,
	})

	var result storage.ListResult
	for obj := range objects {
		if obj.Err != nil {
			return storage.ListResult{}, apperr.StorageRead(obj.Err, "list objects")
		}
		if len(result.Files) == limit {
			result.IsTruncated = true
			result.NextContinuationToken = storage.EncodeToken(result.Files[limit-1].Key)
			break
		}
		result.Files = append(result.Files, storage.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         strings.Trim(obj.ETag, `"`),
			StorageClass: obj.StorageClass,
		})
	}
	return result, nil
}

// Stat 读取对象元数据，用户元数据的 key 统一为小写。
func (s *Storage) Stat(ctx context.Context, key string) (storage.ObjectMetadata, error) {
	if s == nil || s.client == nil {
		return storage.ObjectMetadata{}, apperr.Configuration("minio storage uninitialized")
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return storage.ObjectMetadata{}, apperr.NotFound("file not found: %s", key)
		}
		return storage.ObjectMetadata{}, apperr.StorageRead(err, "stat object %s", key)
	}

	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}
	return storage.ObjectMetadata{
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		ETag:         strings.Trim(info.ETag, `"`),
		Metadata:     meta,
	}, nil
}

// PublicURL 优先拼接自定义域名，否则使用 path-style 地址。
func (s *Storage) PublicURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return s.baseURL + "/" + s.bucket + "/" + key
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), useSSL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", useSSL
	}
	return u.Host, u.Scheme == "https"
}
