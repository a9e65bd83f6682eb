package media

import (
	"encoding/json"
	"strings"

	"newsdesk/internal/apperr"
	"newsdesk/internal/storage"

	"github.com/xeipuuv/gojsonschema"
)

const (
	DefaultMaxWidth  = 1920
	DefaultMaxHeight = 1080
	DefaultQuality   = 85
)

// UploadOptions 是上传表单 options 字段的内容。
// MaxWidth / MaxHeight 为 0 时使用默认值，为负数时该方向不限制。
type UploadOptions struct {
	Folder    string   `json:"folder,omitempty"`
	Alt       string   `json:"alt,omitempty"`
	Caption   string   `json:"caption,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	MaxWidth  int      `json:"maxWidth,omitempty"`
	MaxHeight int      `json:"maxHeight,omitempty"`
	Quality   int      `json:"quality,omitempty"`
}

const uploadOptionsSchema = `{
	"type": "object",
	"properties": {
		"folder":    {"type": "string", "maxLength": 255},
		"alt":       {"type": "string", "maxLength": 1000},
		"caption":   {"type": "string", "maxLength": 2000},
		"tags":      {"type": "array", "maxItems": 50, "items": {"type": "string", "maxLength": 100}},
		"maxWidth":  {"type": "integer", "minimum": 1, "maximum": 10000},
		"maxHeight": {"type": "integer", "minimum": 1, "maximum": 10000},
		"quality":   {"type": "integer", "minimum": 1, "maximum": 100}
	}
}`

var optionsSchema = mustSchema(uploadOptionsSchema)

func mustSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(err)
	}
	return schema
}

// DefaultUploadOptions 返回默认的缩放边界与质量。
func DefaultUploadOptions() UploadOptions {
	return UploadOptions{
		MaxWidth:  DefaultMaxWidth,
		MaxHeight: DefaultMaxHeight,
		Quality:   DefaultQuality,
	}
}

// ParseUploadOptions 解析并校验 options JSON，空字符串得到默认值。
func ParseUploadOptions(raw string) (UploadOptions, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultUploadOptions(), nil
	}

	result, err := optionsSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return UploadOptions{}, apperr.Validation("invalid options JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return UploadOptions{}, apperr.Validation("invalid options: %s", strings.Join(msgs, "; "))
	}

	var opts UploadOptions
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return UploadOptions{}, apperr.Validation("invalid options JSON: %v", err)
	}
	return opts.withDefaults(), nil
}

func (o UploadOptions) withDefaults() UploadOptions {
	if o.MaxWidth == 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight == 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	o.Folder = storage.CleanFolder(o.Folder)
	o.Alt = strings.TrimSpace(o.Alt)
	o.Caption = strings.TrimSpace(o.Caption)
	tags := make([]string, 0, len(o.Tags))
	seen := make(map[string]struct{}, len(o.Tags))
	for _, tag := range o.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	o.Tags = tags
	return o
}
