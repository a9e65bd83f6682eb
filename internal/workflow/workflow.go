// Package workflow 实现稿件状态机：在向编辑后端发出请求之前做权限与状态校验。
package workflow

import (
	"strings"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/rbac"
)

// Status 是稿件状态，后端是权威来源。
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusReview    Status = "REVIEW"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// ParseStatus 不区分大小写地解析状态名。
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusDraft, StatusReview, StatusPublished, StatusArchived:
		return s, nil
	}
	return "", apperr.Validation("unknown article status: %q", raw)
}

// Transition 是一次状态流转的名称。
type Transition string

const (
	TransitionSubmit    Transition = "submit"
	TransitionPublish   Transition = "publish"
	TransitionApprove   Transition = "approve"
	TransitionReject    Transition = "reject"
	TransitionUnpublish Transition = "unpublish"
	TransitionArchive   Transition = "archive"
	TransitionRestore   Transition = "restore"
)

// Transitions 按展示顺序列出全部流转。
var Transitions = []Transition{
	TransitionSubmit,
	TransitionPublish,
	TransitionApprove,
	TransitionReject,
	TransitionUnpublish,
	TransitionArchive,
	TransitionRestore,
}

// Article 是状态机关心的稿件字段。
type Article struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    Status        `json:"status"`
	Owner     rbac.OwnerRef `json:"owner"`
	UpdatedAt time.Time     `json:"updatedAt,omitempty"`
}

// TransitionRequest 描述调用方请求的流转，驳回时必须带原因。
type TransitionRequest struct {
	Transition Transition `json:"transition"`
	Reason     string     `json:"reason,omitempty"`
}

type rule struct {
	from []Status // 为空表示任意状态
	to   Status
	// 持有 any 中任一权限即可
	any []rbac.Permission
	// 作者本人持有 own 时也可执行
	own           rbac.Permission
	requireReason bool
}

var rules = map[Transition]rule{
	TransitionSubmit: {
		from: []Status{StatusDraft},
		to:   StatusReview,
		any:  []rbac.Permission{rbac.UpdateAnyArticle},
		own:  rbac.UpdateOwnArticle,
	},
	TransitionPublish: {
		to:  StatusPublished,
		any: []rbac.Permission{rbac.PublishArticle},
	},
	TransitionApprove: {
		from: []Status{StatusReview},
		to:   StatusPublished,
		any:  []rbac.Permission{rbac.ReviewArticles},
	},
	TransitionReject: {
		from:          []Status{StatusReview},
		to:            StatusDraft,
		any:           []rbac.Permission{rbac.ReviewArticles},
		requireReason: true,
	},
	TransitionUnpublish: {
		from: []Status{StatusPublished},
		to:   StatusDraft,
		any:  []rbac.Permission{rbac.UpdateAnyArticle},
	},
	TransitionArchive: {
		from: []Status{StatusPublished},
		to:   StatusArchived,
		any:  []rbac.Permission{rbac.UpdateAnyArticle},
	},
	TransitionRestore: {
		from: []Status{StatusArchived},
		to:   StatusDraft,
		any:  []rbac.Permission{rbac.UpdateAnyArticle},
	},
}

// ParseTransition 解析流转名称。
func ParseTransition(raw string) (Transition, error) {
	t := Transition(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := rules[t]; !ok {
		return "", apperr.Validation("unknown transition: %q", raw)
	}
	return t, nil
}

// Target 返回流转的目标状态。
func Target(t Transition) (Status, bool) {
	r, ok := rules[t]
	return r.to, ok
}

// Authorize 是纯函数：检查权限、源状态和驳回原因。
// 权限不足返回 Authorization 错误，其余返回 Validation 错误。
func Authorize(actor rbac.Actor, article Article, req TransitionRequest) error {
	r, ok := rules[req.Transition]
	if !ok {
		return apperr.Validation("unknown transition: %q", req.Transition)
	}
	if err := r.permit(actor, article, req.Transition); err != nil {
		return err
	}
	if err := r.accepts(article, req.Transition); err != nil {
		return err
	}
	if r.requireReason && strings.TrimSpace(req.Reason) == "" {
		return apperr.Validation("a reason is required to %s an article", req.Transition)
	}
	return nil
}

func (r rule) permit(actor rbac.Actor, article Article, t Transition) error {
	if rbac.HasAnyPermission(actor.Role, r.any...) {
		return nil
	}
	if r.own != "" && rbac.HasPermission(actor.Role, r.own) && rbac.IsOwner(actor, article.Owner) {
		return nil
	}
	return apperr.Authorization("role %s may not %s this article", actor.Role, t)
}

func (r rule) accepts(article Article, t Transition) error {
	if len(r.from) == 0 {
		return nil
	}
	for _, s := range r.from {
		if article.Status == s {
			return nil
		}
	}
	return apperr.Validation("cannot %s an article in status %s", t, article.Status)
}

// AllowedTransitions 返回调用方当前可以对稿件执行的流转，不检查驳回原因。
func AllowedTransitions(actor rbac.Actor, article Article) []Transition {
	out := make([]Transition, 0, len(Transitions))
	for _, t := range Transitions {
		r := rules[t]
		if r.permit(actor, article, t) != nil || r.accepts(article, t) != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// CanEdit 报告调用方能否编辑稿件内容。
func CanEdit(actor rbac.Actor, article Article) bool {
	if rbac.HasPermission(actor.Role, rbac.UpdateAnyArticle) {
		return true
	}
	return rbac.HasPermission(actor.Role, rbac.UpdateOwnArticle) && rbac.IsOwner(actor, article.Owner)
}
