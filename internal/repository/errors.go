package repository

import "errors"

// ErrNotFound 表示目标媒体记录不存在。
var ErrNotFound = errors.New("repository: media record not found")
