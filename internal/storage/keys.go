package storage

import (
	"encoding/base64"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedDashes  = regexp.MustCompile(`-{2,}`)
)

// now 便于测试替换。
var now = time.Now

// SanitizeFileName 只保留 [a-zA-Z0-9.-]，合并连续的 '-' 并去掉首尾的 '-'。
func SanitizeFileName(name string) string {
	cleaned := unsafeNameChars.ReplaceAllString(name, "-")
	cleaned = repeatedDashes.ReplaceAllString(cleaned, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

// CleanFolder 规范化目录段：去掉首尾斜杠与 "." / ".." 段。
func CleanFolder(folder string) string {
	folder = strings.ReplaceAll(strings.TrimSpace(folder), "\\", "/")
	parts := strings.Split(folder, "/")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}

// GenerateFileKey 按 [folder/]timestamp-id-sanitizedName 生成对象 key。
// fileID 为空时生成新的随机 token，因此同名文件的两次上传不会冲突。
func GenerateFileKey(originalName, folder, fileID string) string {
	if fileID == "" {
		fileID = NewToken()
	}
	name := SanitizeFileName(path.Base(strings.ReplaceAll(originalName, "\\", "/")))
	base := strconv.FormatInt(now().UnixMilli(), 10) + "-" + SanitizeFileName(fileID) + "-" + name
	if f := CleanFolder(folder); f != "" {
		return f + "/" + base
	}
	return base
}

// NewToken 返回 8 位随机 token。
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// EncodeToken 将最后一个 key 编码为不透明的续页 token。
func EncodeToken(lastKey string) string {
	if lastKey == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeToken 解析 EncodeToken 生成的续页 token。
func DecodeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FolderPrefix 把目录名转换为列举前缀（带结尾斜杠）。
func FolderPrefix(folder string) string {
	f := CleanFolder(folder)
	if f == "" {
		return ""
	}
	return f + "/"
}
