package api

import (
	"net/http"
	"strings"

	"newsdesk/internal/config"
	ndmiddleware "newsdesk/internal/middleware"
	"newsdesk/internal/rbac"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 汇总路由需要的处理器，nil 的处理器不注册对应路由。
type Handlers struct {
	ObjectMedia *MediaHandler
	LocalMedia  *MediaHandler
	Articles    *ArticleHandler
	// 本地存储根目录，非空时挂载静态文件
	StaticRoot string
}

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
// auth 为 nil 时视为开发模式，所有请求以 ADMIN 身份执行。
func NewRouter(cfg *config.Config, auth func(http.Handler) http.Handler, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(ndmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(ndmiddleware.Metrics)

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if h.StaticRoot != "" {
		prefix := cfg.LocalStaticPrefix
		r.Handle("/"+strings.Trim(prefix, "/")+"/*", StaticFiles(prefix, h.StaticRoot))
	}

	if auth == nil {
		auth = ndmiddleware.Anonymous(rbac.Actor{ID: "anonymous", Name: "development", Role: rbac.RoleAdmin})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(ndmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/rbac", RBACRoutes)

		if h.ObjectMedia != nil {
			r.Route("/media/upload", h.ObjectMedia.Routes)
		}
		if h.LocalMedia != nil {
			r.Route("/media/local", h.LocalMedia.Routes)
		}
		if legacy := legacyImageHandler(h); legacy != nil {
			r.With(ndmiddleware.RequirePermission(rbac.CreateArticle, rbac.ManageMedia)).
				Post("/upload/image", legacy.LegacyUpload(cfg.LegacyImageMaxWidth))
		}
		if h.Articles != nil {
			r.Route("/articles", h.Articles.Routes)
		}
	})

	return r
}

// legacyImageHandler 优先使用已配置的对象存储，否则退回本地存储。
func legacyImageHandler(h Handlers) *MediaHandler {
	if h.ObjectMedia != nil && h.ObjectMedia.service != nil {
		return h.ObjectMedia
	}
	return h.LocalMedia
}
