package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 标识错误类别，决定对外的 HTTP 状态码。
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindPayloadTooLarge Kind = "PAYLOAD_TOO_LARGE"
	KindConfiguration   Kind = "CONFIGURATION"
	KindNotFound        Kind = "NOT_FOUND"
	KindStorageWrite    Kind = "STORAGE_WRITE"
	KindStorageRead     Kind = "STORAGE_READ"
	KindAuthorization   Kind = "AUTHORIZATION"
	KindUpstream        Kind = "UPSTREAM"
	KindInternal        Kind = "INTERNAL"
)

// Error 是服务内统一的错误类型。
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus 返回该错误对应的 HTTP 状态码。
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// StatusFor 将错误类别映射为 HTTP 状态码。
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindPayloadTooLarge:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Configuration(format string, args ...any) *Error {
	return newError(KindConfiguration, nil, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return newError(KindAuthorization, nil, format, args...)
}

func StorageWrite(err error, format string, args ...any) *Error {
	return newError(KindStorageWrite, err, format, args...)
}

func StorageRead(err error, format string, args ...any) *Error {
	return newError(KindStorageRead, err, format, args...)
}

func Upstream(err error, format string, args ...any) *Error {
	return newError(KindUpstream, err, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}

// PayloadTooLarge 描述超出类别上限的上传，limit 与 size 均以字节计。
func PayloadTooLarge(mediaType string, limit, size int64) *Error {
	return &Error{
		Kind:    KindPayloadTooLarge,
		Message: fmt.Sprintf("file size exceeds %s limit of %s", mediaType, FormatBytes(limit)),
		Details: map[string]any{"limit": limit, "size": size, "mediaType": mediaType},
	}
}

// KindOf 返回错误链中第一个 *Error 的类别，找不到时视为内部错误。
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is 判断错误链中是否存在指定类别的错误。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FormatBytes 以 MB/KB 的形式输出字节数。
func FormatBytes(n int64) string {
	const mb = 1024 * 1024
	switch {
	case n >= mb && n%mb == 0:
		return fmt.Sprintf("%dMB", n/mb)
	case n >= mb:
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	case n >= 1024:
		return fmt.Sprintf("%dKB", n/1024)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
