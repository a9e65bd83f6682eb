package api

import (
	"net/http"

	"newsdesk/internal/apperr"
	"newsdesk/internal/middleware"
	"newsdesk/internal/rbac"

	"github.com/go-chi/chi/v5"
)

type featuresResponse struct {
	Success     bool              `json:"success"`
	Actor       rbac.Actor        `json:"actor"`
	Permissions []rbac.Permission `json:"permissions"`
	Features    rbac.Features     `json:"features"`
}

type permissionResponse struct {
	Success    bool            `json:"success"`
	Role       rbac.Role       `json:"role"`
	Permission rbac.Permission `json:"permission"`
	Allowed    bool            `json:"allowed"`
}

// RBACRoutes 让前端按当前调用方的角色决定展示哪些功能。
func RBACRoutes(r chi.Router) {
	r.Get("/features", features)
	r.Get("/permissions/{permission}", checkPermission)
}

func features(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Authorization("no authenticated actor"), "")
		return
	}
	writeJSON(w, http.StatusOK, featuresResponse{
		Success:     true,
		Actor:       actor,
		Permissions: rbac.PermissionsFor(actor.Role),
		Features:    rbac.AccessibleFeatures(actor.Role),
	})
}

func checkPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Authorization("no authenticated actor"), "")
		return
	}
	perm, err := rbac.ParsePermission(chi.URLParam(r, "permission"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, permissionResponse{
		Success:    true,
		Role:       actor.Role,
		Permission: perm,
		Allowed:    rbac.HasPermission(actor.Role, perm),
	})
}
