package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"newsdesk/internal/apperr"
	"newsdesk/internal/media"
	"newsdesk/internal/middleware"
)

const (
	// 最大类别上限之外再留出表单字段的余量
	maxRequestBytes       int64 = 100*1024*1024 + 2*1024*1024
	multipartMemoryBudget int64 = 16 * 1024 * 1024
)

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 把错误转换为 {success:false, message, code}，prefix 非空时加在消息前。
func writeError(w http.ResponseWriter, err error, prefix string) {
	resp := errorResponse{Code: string(apperr.KindInternal), Message: err.Error()}
	status := http.StatusInternalServerError

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		resp.Code = string(appErr.Kind)
		resp.Message = appErr.Error()
		resp.Details = appErr.Details
		status = appErr.HTTPStatus()
	}
	if prefix != "" {
		resp.Message = prefix + ": " + resp.Message
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// readUpload 解析 multipart 表单中的文件字段，fields 按顺序尝试。
func readUpload(w http.ResponseWriter, r *http.Request, fields ...string) (media.UploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return media.UploadRequest{}, apperr.Validation("request body exceeds %s", apperr.FormatBytes(tooLarge.Limit))
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return media.UploadRequest{}, apperr.Validation("no file provided")
		}
		return media.UploadRequest{}, apperr.Validation("invalid multipart form: %v", err)
	}

	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return media.UploadRequest{}, apperr.Validation("read %s field: %v", field, err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return media.UploadRequest{}, apperr.Validation("read uploaded file: %v", err)
		}
		return media.UploadRequest{
			Data:         data,
			MIMEType:     header.Header.Get("Content-Type"),
			OriginalName: header.Filename,
			UploadedBy:   actorID(r),
		}, nil
	}
	return media.UploadRequest{}, apperr.Validation("no file provided")
}

func cleanupMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func actorID(r *http.Request) string {
	if actor, ok := middleware.ActorFrom(r.Context()); ok {
		return actor.ID
	}
	return ""
}

// queryInt 解析可选的整数查询参数，缺省时返回 0。
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validation("invalid %s: %q", name, raw)
	}
	return v, nil
}
