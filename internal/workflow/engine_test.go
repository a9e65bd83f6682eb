package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/event"
	"newsdesk/internal/rbac"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updateCall struct {
	id     string
	status Status
	reason string
}

type fakeBackend struct {
	articles  map[string]Article
	calls     []updateCall
	updateErr error
}

func newFakeBackend(articles ...Article) *fakeBackend {
	b := &fakeBackend{articles: map[string]Article{}}
	for _, a := range articles {
		b.articles[a.ID] = a
	}
	return b
}

func (b *fakeBackend) GetArticle(_ context.Context, id string) (*Article, error) {
	a, ok := b.articles[id]
	if !ok {
		return nil, apperr.NotFound("article %s not found", id)
	}
	return &a, nil
}

func (b *fakeBackend) UpdateStatus(_ context.Context, id string, status Status, reason string) (*Article, error) {
	b.calls = append(b.calls, updateCall{id: id, status: status, reason: reason})
	if b.updateErr != nil {
		return nil, b.updateErr
	}
	a := b.articles[id]
	a.Status = status
	a.UpdatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.articles[id] = a
	return &a, nil
}

type capturedEvent struct {
	subject string
	payload any
}

type capturePublisher struct{ events []capturedEvent }

func (p *capturePublisher) Publish(_ context.Context, subject string, payload any) error {
	p.events = append(p.events, capturedEvent{subject: subject, payload: payload})
	return nil
}
func (p *capturePublisher) Close() error { return nil }

func TestApply_EditorApprovesReview(t *testing.T) {
	a := article(StatusReview, rbac.OwnerRef{ID: author.ID})
	backend := newFakeBackend(a)
	pub := &capturePublisher{}
	engine := NewEngine(backend, pub, zerolog.Nop())

	got, err := engine.Apply(context.Background(), editor, a, TransitionRequest{Transition: TransitionApprove})
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)
	assert.Equal(t, 2024, got.UpdatedAt.Year())
	assert.Equal(t, StatusReview, a.Status, "input article is not mutated")

	require.Len(t, backend.calls, 1)
	assert.Equal(t, updateCall{id: "a-1", status: StatusPublished}, backend.calls[0])

	require.Len(t, pub.events, 1)
	assert.Equal(t, event.SubjectArticleStatusChanged, pub.events[0].subject)
	assert.Equal(t, StatusChanged{
		ArticleID:  "a-1",
		From:       StatusReview,
		To:         StatusPublished,
		Transition: TransitionApprove,
		ActorID:    editor.ID,
	}, pub.events[0].payload)
}

func TestApply_UnauthorizedMakesNoBackendCall(t *testing.T) {
	a := article(StatusReview, rbac.OwnerRef{ID: "u-other"})
	backend := newFakeBackend(a)
	pub := &capturePublisher{}
	engine := NewEngine(backend, pub, zerolog.Nop())

	_, err := engine.Apply(context.Background(), author, a, TransitionRequest{Transition: TransitionApprove})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	assert.Empty(t, backend.calls)
	assert.Empty(t, pub.events)
}

func TestApply_RejectRequiresReason(t *testing.T) {
	a := article(StatusReview, rbac.OwnerRef{ID: author.ID})
	backend := newFakeBackend(a)
	engine := NewEngine(backend, nil, zerolog.Nop())

	_, err := engine.Apply(context.Background(), editor, a, TransitionRequest{Transition: TransitionReject})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, backend.calls)

	got, err := engine.Apply(context.Background(), editor, a, TransitionRequest{Transition: TransitionReject, Reason: " needs a second source "})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, "needs a second source", backend.calls[0].reason)
}

func TestApply_BackendFailureLeavesStateUnchanged(t *testing.T) {
	a := article(StatusPublished, rbac.OwnerRef{ID: author.ID})
	backend := newFakeBackend(a)
	backend.updateErr = errors.New("connection reset")
	pub := &capturePublisher{}
	engine := NewEngine(backend, pub, zerolog.Nop())

	got, err := engine.Apply(context.Background(), editor, a, TransitionRequest{Transition: TransitionUnpublish})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, backend.calls, 1, "no retry")
	assert.Equal(t, StatusPublished, backend.articles["a-1"].Status)
	assert.Empty(t, pub.events)
}

func TestTransition_LoadsArticle(t *testing.T) {
	backend := newFakeBackend(article(StatusDraft, rbac.OwnerRef{Email: author.Email}))
	engine := NewEngine(backend, nil, zerolog.Nop())

	got, err := engine.Transition(context.Background(), author, "a-1", TransitionRequest{Transition: TransitionSubmit})
	require.NoError(t, err)
	assert.Equal(t, StatusReview, got.Status)
	assert.Equal(t, StatusReview, backend.articles["a-1"].Status)
}

func TestTransition_MissingArticle(t *testing.T) {
	engine := NewEngine(newFakeBackend(), nil, zerolog.Nop())

	_, err := engine.Transition(context.Background(), admin, "nope", TransitionRequest{Transition: TransitionPublish})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = engine.Get(context.Background(), " ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
