// Package graphql 通过 GraphQL 接口读写编辑后端中的稿件状态。
package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/rbac"
	"newsdesk/internal/workflow"

	"github.com/go-resty/resty/v2"
)

const articleFields = `id title status authorId authorEmail authorName updatedAt`

const articleQuery = `query Article($id: ID!) {
  article(id: $id) { ` + articleFields + ` }
}`

const updateStatusMutation = `mutation UpdateArticleStatus($id: ID!, $status: ArticleStatus!, $reason: String) {
  updateArticleStatus(id: $id, status: $status, reason: $reason) { ` + articleFields + ` }
}`

// Client 实现 workflow.ArticleBackend。
type Client struct {
	endpoint   string
	httpClient *resty.Client
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
	Ext     struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type articleNode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	AuthorID    string `json:"authorId"`
	AuthorEmail string `json:"authorEmail"`
	AuthorName  string `json:"authorName"`
	UpdatedAt   string `json:"updatedAt"`
}

// New 创建客户端；endpoint 为空时返回 nil，调用方据此关闭稿件接口。
func New(endpoint, token string, timeout time.Duration) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetHeader("User-Agent", "newsdesk/1.0").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{endpoint: endpoint, httpClient: client}
}

// IsEnabled 报告客户端是否已配置。
func (c *Client) IsEnabled() bool {
	return c != nil && c.endpoint != ""
}

// GetArticle 查询单篇稿件，不存在时返回 NotFound。
func (c *Client) GetArticle(ctx context.Context, id string) (*workflow.Article, error) {
	var data struct {
		Article *articleNode `json:"article"`
	}
	if err := c.do(ctx, articleQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Article == nil {
		return nil, apperr.NotFound("article %s not found", id)
	}
	return data.Article.toArticle()
}

// UpdateStatus 提交状态变更，驳回原因随请求发送。
func (c *Client) UpdateStatus(ctx context.Context, id string, status workflow.Status, reason string) (*workflow.Article, error) {
	vars := map[string]any{"id": id, "status": string(status)}
	if reason != "" {
		vars["reason"] = reason
	}
	var data struct {
		UpdateArticleStatus *articleNode `json:"updateArticleStatus"`
	}
	if err := c.do(ctx, updateStatusMutation, vars, &data); err != nil {
		return nil, err
	}
	if data.UpdateArticleStatus == nil {
		return nil, apperr.NotFound("article %s not found", id)
	}
	return data.UpdateArticleStatus.toArticle()
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	if !c.IsEnabled() {
		return apperr.Configuration("graphql endpoint is not configured")
	}
	var resp response
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(request{Query: query, Variables: vars}).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)
	if err != nil {
		return apperr.Upstream(err, "graphql request failed")
	}
	if len(resp.Errors) > 0 {
		return resp.Errors[0].asError()
	}
	if httpResp.IsError() {
		return apperr.Upstream(fmt.Errorf("status %d: %s", httpResp.StatusCode(), httpResp.String()), "graphql request failed")
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return apperr.Upstream(nil, "graphql response has no data")
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return apperr.Upstream(err, "decode graphql data")
	}
	return nil
}

func (e gqlError) asError() error {
	switch strings.ToUpper(e.Ext.Code) {
	case "NOT_FOUND":
		return apperr.NotFound("%s", e.Message)
	case "FORBIDDEN", "UNAUTHENTICATED":
		return apperr.Authorization("%s", e.Message)
	case "BAD_USER_INPUT":
		return apperr.Validation("%s", e.Message)
	}
	return apperr.Upstream(nil, "graphql: %s", e.Message)
}

func (n articleNode) toArticle() (*workflow.Article, error) {
	status, err := workflow.ParseStatus(n.Status)
	if err != nil {
		return nil, apperr.Upstream(err, "article %s", n.ID)
	}
	a := &workflow.Article{
		ID:     n.ID,
		Title:  n.Title,
		Status: status,
		Owner: rbac.OwnerRef{
			ID:    n.AuthorID,
			Email: n.AuthorEmail,
			Name:  n.AuthorName,
		},
	}
	if n.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, n.UpdatedAt); err == nil {
			a.UpdatedAt = ts
		}
	}
	return a, nil
}

var _ workflow.ArticleBackend = (*Client)(nil)
