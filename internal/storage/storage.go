package storage

import (
	"context"
	"io"
	"time"
)

// DefaultMaxKeys 是未指定分页大小时的默认值，也是单页上限（与 S3 一致）。
const DefaultMaxKeys = 1000

// MetaOriginalName 是记录原始文件名的对象元数据键。
const MetaOriginalName = "original-name"

// Backend 统一本地文件系统与 S3 兼容对象存储的持久化接口。
type Backend interface {
	Upload(ctx context.Context, in UploadInput) (UploadResult, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Stat(ctx context.Context, key string) (ObjectMetadata, error)
	PublicURL(key string) string
	Name() string
}

// FilenameDeleter 由只知道文件名、需要递归查找的后端实现（本地文件系统）。
type FilenameDeleter interface {
	DeleteByFilename(ctx context.Context, folder, filename string) (string, error)
}

// FolderLister 由能直接读取目录的后端实现，空目录也会出现在结果中。
type FolderLister interface {
	ListFolders(ctx context.Context, folder string) ([]string, error)
}

// BucketNamer 由对象存储后端实现，返回当前使用的 bucket。
type BucketNamer interface {
	Bucket() string
}

// UploadInput 描述一次写入。
type UploadInput struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// UploadResult 描述已经写入对象的可访问信息。
type UploadResult struct {
	URL    string
	Key    string
	ETag   string
	Bucket string
}

// ListOptions 控制前缀列举与分页。
type ListOptions struct {
	Prefix            string
	MaxKeys           int
	ContinuationToken string
}

// Limit 返回生效的分页大小，范围 1 到 DefaultMaxKeys。
func (o ListOptions) Limit() int {
	if o.MaxKeys <= 0 {
		return DefaultMaxKeys
	}
	return min(o.MaxKeys, DefaultMaxKeys)
}

// ObjectInfo 是列举结果中的单个对象。
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	StorageClass string
}

// ListResult 是一页列举结果。
type ListResult struct {
	Files                 []ObjectInfo
	IsTruncated           bool
	NextContinuationToken string
}

// ObjectMetadata 是单个对象的元信息。
type ObjectMetadata struct {
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
	Metadata     map[string]string
}
