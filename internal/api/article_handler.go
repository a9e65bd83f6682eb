package api

import (
	"net/http"

	"newsdesk/internal/apperr"
	"newsdesk/internal/middleware"
	"newsdesk/internal/workflow"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ArticleHandler 暴露稿件状态流转。engine 为 nil 表示未配置编辑后端。
type ArticleHandler struct {
	engine *workflow.Engine
	log    zerolog.Logger
}

type articleResponse struct {
	Success            bool                  `json:"success"`
	Article            *workflow.Article     `json:"article"`
	AllowedTransitions []workflow.Transition `json:"allowedTransitions"`
	CanEdit            bool                  `json:"canEdit"`
	Message            string                `json:"message,omitempty"`
}

type transitionBody struct {
	Reason string `json:"reason"`
}

func NewArticleHandler(engine *workflow.Engine, log zerolog.Logger) *ArticleHandler {
	return &ArticleHandler{engine: engine, log: log.With().Str("component", "article-api").Logger()}
}

func (h *ArticleHandler) Routes(r chi.Router) {
	r.Get("/{id}", h.Get)
	r.Post("/{id}/transitions/{transition}", h.Transition)
}

func (h *ArticleHandler) ready(w http.ResponseWriter) bool {
	if h.engine != nil {
		return true
	}
	writeError(w, apperr.Configuration("article backend is not configured"), "")
	return false
}

// Get 返回稿件以及当前调用方可执行的流转。
func (h *ArticleHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Authorization("no authenticated actor"), "")
		return
	}
	article, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, articleResponse{
		Success:            true,
		Article:            article,
		AllowedTransitions: workflow.AllowedTransitions(actor, *article),
		CanEdit:            workflow.CanEdit(actor, *article),
	})
}

// Transition 校验权限后提交状态变更，请求体可带 {"reason": "..."}。
func (h *ArticleHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Authorization("no authenticated actor"), "")
		return
	}
	transition, err := workflow.ParseTransition(chi.URLParam(r, "transition"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	var body transitionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err, "")
		return
	}

	article, err := h.engine.Transition(r.Context(), actor, chi.URLParam(r, "id"), workflow.TransitionRequest{
		Transition: transition,
		Reason:     body.Reason,
	})
	if err != nil {
		writeError(w, err, string(transition)+" failed")
		return
	}
	writeJSON(w, http.StatusOK, articleResponse{
		Success:            true,
		Article:            article,
		AllowedTransitions: workflow.AllowedTransitions(actor, *article),
		CanEdit:            workflow.CanEdit(actor, *article),
		Message:            "Article status updated",
	})
}
