// Package media 实现上传入库流程与目录浏览。
package media

import (
	"path"
	"strings"
	"time"
)

// Type 是由 MIME 类型推导出的媒体类别。
type Type string

const (
	TypeImage    Type = "image"
	TypeVideo    Type = "video"
	TypeAudio    Type = "audio"
	TypeDocument Type = "document"
	TypeOther    Type = "other"
)

const mb = 1024 * 1024

var maxSizes = map[Type]int64{
	TypeImage:    10 * mb,
	TypeVideo:    100 * mb,
	TypeAudio:    50 * mb,
	TypeDocument: 25 * mb,
	TypeOther:    10 * mb,
}

// MaxSizeFor 返回该类别允许的最大字节数。
func MaxSizeFor(t Type) int64 {
	if limit, ok := maxSizes[t]; ok {
		return limit
	}
	return maxSizes[TypeOther]
}

var mimeTypes = map[string]Type{
	"image/jpeg":    TypeImage,
	"image/jpg":     TypeImage,
	"image/png":     TypeImage,
	"image/gif":     TypeImage,
	"image/webp":    TypeImage,
	"image/svg+xml": TypeImage,
	"image/bmp":     TypeImage,
	"image/tiff":    TypeImage,
	"image/avif":    TypeImage,

	"video/mp4":       TypeVideo,
	"video/mpeg":      TypeVideo,
	"video/webm":      TypeVideo,
	"video/ogg":       TypeVideo,
	"video/quicktime": TypeVideo,
	"video/x-msvideo": TypeVideo,

	"audio/mpeg": TypeAudio,
	"audio/mp3":  TypeAudio,
	"audio/wav":  TypeAudio,
	"audio/ogg":  TypeAudio,
	"audio/webm": TypeAudio,
	"audio/aac":  TypeAudio,
	"audio/flac": TypeAudio,
	"audio/mp4":  TypeAudio,

	"application/pdf":               TypeDocument,
	"application/msword":            TypeDocument,
	"application/vnd.ms-excel":      TypeDocument,
	"application/vnd.ms-powerpoint": TypeDocument,
	"application/rtf":               TypeDocument,
	"text/plain":                    TypeDocument,
	"text/csv":                      TypeDocument,
	"text/markdown":                 TypeDocument,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   TypeDocument,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         TypeDocument,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": TypeDocument,
}

var extensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".avif": "image/avif",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rtf":  "application/rtf",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
}

// DefaultMIMEType 是无法识别扩展名时的回退值。
const DefaultMIMEType = "application/octet-stream"

// NormalizeMIME 小写并去掉参数部分，如 "text/plain; charset=utf-8"。
func NormalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// TypeFromMIME 按固定映射表分类，未收录的类型一律为 other。
func TypeFromMIME(mimeType string) Type {
	if t, ok := mimeTypes[NormalizeMIME(mimeType)]; ok {
		return t
	}
	return TypeOther
}

// MIMEFromExtension 根据文件扩展名推断 MIME 类型。
func MIMEFromExtension(name string) string {
	if m, ok := extensions[strings.ToLower(path.Ext(name))]; ok {
		return m
	}
	return DefaultMIMEType
}

// File 是一个已存储资源的描述。bucket / key / etag / storageClass 只在对象存储后端下填充。
type File struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	URL          string    `json:"url"`
	Type         Type      `json:"type"`
	MIMEType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	Alt          string    `json:"alt,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	Tags         []string  `json:"tags"`
	UploadedAt   time.Time `json:"uploadedAt"`
	LastModified time.Time `json:"lastModified"`
	UploadedBy   string    `json:"uploadedBy,omitempty"`
	Bucket       string    `json:"bucket,omitempty"`
	Key          string    `json:"key,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	StorageClass string    `json:"storageClass,omitempty"`
}
