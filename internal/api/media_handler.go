package api

import (
	"net/http"
	"strings"

	"newsdesk/internal/apperr"
	"newsdesk/internal/media"
	"newsdesk/internal/middleware"
	"newsdesk/internal/rbac"
	"newsdesk/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MediaHandler 提供上传、浏览与删除三个端点，对象存储和本地存储各挂一份。
type MediaHandler struct {
	service *media.Service
	// 对象存储未配置时缺少的环境变量
	missing []string
	// 本地存储按 filename 删除，并支持递归查找
	byFilename bool
	log        zerolog.Logger
}

type uploadResponse struct {
	Success bool        `json:"success"`
	File    *media.File `json:"file"`
	Message string      `json:"message"`
}

type listResponse struct {
	Success bool `json:"success"`
	*media.ListResult
}

// NewObjectMediaHandler 用于对象存储后端。
func NewObjectMediaHandler(svc *media.Service, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{service: svc, log: log.With().Str("component", "media-api").Logger()}
}

// NewUnconfiguredMediaHandler 在对象存储配置缺失时使用，所有请求返回配置错误且不访问网络。
func NewUnconfiguredMediaHandler(missing []string, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{missing: missing, log: log.With().Str("component", "media-api").Logger()}
}

// NewLocalMediaHandler 用于本地文件系统后端。
func NewLocalMediaHandler(svc *media.Service, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{service: svc, byFilename: true, log: log.With().Str("component", "local-media-api").Logger()}
}

// Routes 注册到调用方选择的前缀下。上传与浏览需要写稿或媒体管理权限，删除需要媒体管理权限。
func (h *MediaHandler) Routes(r chi.Router) {
	r.With(middleware.RequirePermission(rbac.CreateArticle, rbac.ManageMedia)).Post("/", h.Upload)
	r.With(middleware.RequirePermission(rbac.CreateArticle, rbac.ManageMedia)).Get("/", h.List)
	r.With(middleware.RequirePermission(rbac.ManageMedia)).Delete("/", h.Delete)
}

func (h *MediaHandler) ready(w http.ResponseWriter) bool {
	if h.service != nil {
		return true
	}
	err := apperr.Configuration("object storage is not configured")
	if len(h.missing) > 0 {
		err = apperr.Configuration("object storage is not configured, missing %s", strings.Join(h.missing, ", "))
	}
	writeError(w, err, "")
	return false
}

// Upload 接受 multipart 的 file 与 options 字段。
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	defer cleanupMultipart(r)

	req, err := readUpload(w, r, "file")
	if err != nil {
		writeError(w, err, "upload failed")
		return
	}
	req.Options, err = media.ParseUploadOptions(r.FormValue("options"))
	if err != nil {
		writeError(w, err, "upload failed")
		return
	}

	file, err := h.service.Upload(r.Context(), req)
	if err != nil {
		h.logFailure(err, "upload failed")
		writeError(w, err, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, File: file, Message: "File uploaded successfully"})
}

// List 支持 folder、maxKeys 与 continuationToken 查询参数。
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	maxKeys, err := queryInt(r, "maxKeys")
	if err != nil {
		writeError(w, err, "")
		return
	}
	maxKeys = min(maxKeys, storage.DefaultMaxKeys)

	q := r.URL.Query()
	result, err := h.service.List(r.Context(), media.ListRequest{
		Folder:            q.Get("folder"),
		MaxKeys:           maxKeys,
		ContinuationToken: q.Get("continuationToken"),
	})
	if err != nil {
		h.logFailure(err, "list failed")
		writeError(w, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, ListResult: result})
}

// Delete 对象存储按 id（对象 key）删除；本地存储需要 id 与 filename，按文件名查找。
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("id"))
	filename := strings.TrimSpace(q.Get("filename"))

	if id == "" {
		writeError(w, apperr.Validation("file id is required"), "")
		return
	}

	var err error
	if h.byFilename {
		if filename == "" {
			writeError(w, apperr.Validation("id and filename are required"), "")
			return
		}
		if embedded := media.IDFromKey(filename); embedded != filename && embedded != strings.ToLower(id) {
			writeError(w, apperr.Validation("id %q does not match filename %q", id, filename), "")
			return
		}
		_, err = h.service.DeleteByFilename(r.Context(), q.Get("folder"), filename)
	} else {
		err = h.service.Delete(r.Context(), id)
	}
	if err != nil {
		h.logFailure(err, "delete failed")
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "File deleted successfully"})
}

// LegacyUpload 处理 /api/upload/image：只接受图片，不支持 folder 与 options。
func (h *MediaHandler) LegacyUpload(maxWidth int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready(w) {
			return
		}
		defer cleanupMultipart(r)

		req, err := readUpload(w, r, "file", "image")
		if err != nil {
			writeError(w, err, "upload failed")
			return
		}
		file, err := h.service.LegacyImageUpload(r.Context(), req, maxWidth)
		if err != nil {
			h.logFailure(err, "legacy upload failed")
			writeError(w, err, "upload failed")
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse{Success: true, File: file, Message: "Image uploaded successfully"})
	}
}

func (h *MediaHandler) logFailure(err error, msg string) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindPayloadTooLarge, apperr.KindNotFound:
		h.log.Debug().Err(err).Msg(msg)
	default:
		h.log.Error().Err(err).Msg(msg)
	}
}
