package repository

import (
	"context"
	"time"
)

// MediaRecord 是上传时写入数据库的媒体目录项。
// 对象本身仍以存储后端为准，这里只保存存储层无法承载的编辑信息。
type MediaRecord struct {
	ID           string    `json:"id"`
	StorageKey   string    `json:"storage_key"`
	Backend      string    `json:"backend"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	MediaType    string    `json:"media_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	Alt          string    `json:"alt,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	Tags         []string  `json:"tags"`
	UploadedBy   string    `json:"uploaded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MediaRepository 统一媒体目录持久层接口。
type MediaRepository interface {
	Create(ctx context.Context, record *MediaRecord) (*MediaRecord, error)
	GetByKey(ctx context.Context, backend, key string) (*MediaRecord, error)
	ListByKeys(ctx context.Context, backend string, keys []string) (map[string]MediaRecord, error)
	DeleteByKey(ctx context.Context, backend, key string) error
}
