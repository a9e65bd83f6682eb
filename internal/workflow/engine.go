package workflow

import (
	"context"
	"strings"

	"newsdesk/internal/apperr"
	"newsdesk/internal/event"
	"newsdesk/internal/metrics"
	"newsdesk/internal/rbac"
	"newsdesk/internal/telemetry"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ArticleBackend 是稿件状态的权威存储。
type ArticleBackend interface {
	GetArticle(ctx context.Context, id string) (*Article, error)
	UpdateStatus(ctx context.Context, id string, status Status, reason string) (*Article, error)
}

// StatusChanged 是状态变更事件的负载。
type StatusChanged struct {
	ArticleID  string     `json:"articleId"`
	From       Status     `json:"from"`
	To         Status     `json:"to"`
	Transition Transition `json:"transition"`
	ActorID    string     `json:"actorId"`
	Reason     string     `json:"reason,omitempty"`
}

// Engine 在本地做权限校验后把流转提交给后端。
type Engine struct {
	backend ArticleBackend
	events  event.Publisher
	log     zerolog.Logger
}

// NewEngine 创建工作流引擎，events 为 nil 时不发布事件。
func NewEngine(backend ArticleBackend, events event.Publisher, log zerolog.Logger) *Engine {
	if events == nil {
		events = event.Noop{}
	}
	return &Engine{
		backend: backend,
		events:  events,
		log:     log.With().Str("component", "workflow").Logger(),
	}
}

// Get 从后端读取稿件。
func (e *Engine) Get(ctx context.Context, id string) (*Article, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("article id is required")
	}
	article, err := e.backend.GetArticle(ctx, id)
	if err != nil {
		return nil, upstream(err, "load article")
	}
	return article, nil
}

// Transition 读取稿件后执行 Apply。
func (e *Engine) Transition(ctx context.Context, actor rbac.Actor, id string, req TransitionRequest) (*Article, error) {
	article, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, actor, *article, req)
}

// Apply 校验通过后请求后端修改状态，成功时返回新状态的稿件副本。
// 校验失败时不会发出请求；后端失败时不重试，返回的错误中不含状态变更。
func (e *Engine) Apply(ctx context.Context, actor rbac.Actor, article Article, req TransitionRequest) (*Article, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.Apply", trace.WithAttributes(
		attribute.String("article.id", article.ID),
		attribute.String("workflow.transition", string(req.Transition)),
	))
	defer span.End()

	updated, err := e.apply(ctx, actor, article, req)
	metrics.Transitions.WithLabelValues(string(req.Transition), metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return updated, nil
}

func (e *Engine) apply(ctx context.Context, actor rbac.Actor, article Article, req TransitionRequest) (*Article, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := Authorize(actor, article, req); err != nil {
		e.log.Debug().Err(err).
			Str("article_id", article.ID).
			Str("actor_id", actor.ID).
			Str("transition", string(req.Transition)).
			Msg("transition refused")
		return nil, err
	}
	to, _ := Target(req.Transition)

	remote, err := e.backend.UpdateStatus(ctx, article.ID, to, req.Reason)
	if err != nil {
		e.log.Error().Err(err).
			Str("article_id", article.ID).
			Str("transition", string(req.Transition)).
			Msg("status update failed")
		return nil, upstream(err, "%s article", req.Transition)
	}

	result := article
	result.Status = to
	if remote != nil && !remote.UpdatedAt.IsZero() {
		result.UpdatedAt = remote.UpdatedAt
	}

	e.log.Info().
		Str("article_id", article.ID).
		Str("actor_id", actor.ID).
		Str("from", string(article.Status)).
		Str("to", string(to)).
		Msg("article status changed")
	event.Emit(ctx, e.events, e.log, event.SubjectArticleStatusChanged, StatusChanged{
		ArticleID:  article.ID,
		From:       article.Status,
		To:         to,
		Transition: req.Transition,
		ActorID:    actor.ID,
		Reason:     req.Reason,
	})
	return &result, nil
}

// upstream 保留后端已分类的错误，其余归为 Upstream。
func upstream(err error, format string, args ...any) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return apperr.Upstream(err, format, args...)
}
