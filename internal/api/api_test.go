package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/config"
	"newsdesk/internal/media"
	"newsdesk/internal/middleware"
	"newsdesk/internal/rbac"
	"newsdesk/internal/storage/local"
	"newsdesk/internal/workflow"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubArticles struct {
	article workflow.Article
	updates int
	err     error
}

func (s *stubArticles) GetArticle(_ context.Context, id string) (*workflow.Article, error) {
	if id != s.article.ID {
		return nil, apperr.NotFound("article %s not found", id)
	}
	a := s.article
	return &a, nil
}

func (s *stubArticles) UpdateStatus(_ context.Context, _ string, status workflow.Status, _ string) (*workflow.Article, error) {
	s.updates++
	if s.err != nil {
		return nil, s.err
	}
	s.article.Status = status
	a := s.article
	return &a, nil
}

type testEnv struct {
	router   http.Handler
	root     string
	articles *stubArticles
}

// actorHeader 让测试通过请求头选择调用方角色。
func actorHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := rbac.Role(r.Header.Get("X-Test-Role"))
		if role == "" {
			role = rbac.RoleAdmin
		}
		actor := rbac.Actor{ID: r.Header.Get("X-Test-User"), Role: role}
		if actor.ID == "" {
			actor.ID = "u-test"
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithActor(r.Context(), actor)))
	})
}

func newTestEnv(t *testing.T, objectConfigured bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	store, err := local.New(root, "", "/uploads/", zerolog.Nop())
	require.NoError(t, err)

	svc := media.NewService(store, zerolog.Nop())
	articles := &stubArticles{article: workflow.Article{
		ID:     "a-1",
		Title:  "Budget vote",
		Status: workflow.StatusReview,
		Owner:  rbac.OwnerRef{ID: "u-author"},
	}}

	objectHandler := NewUnconfiguredMediaHandler([]string{"OBJECT_STORAGE_BUCKET"}, zerolog.Nop())
	if objectConfigured {
		// 用本地后端模拟对象存储路由
		objectHandler = NewObjectMediaHandler(svc, zerolog.Nop())
	}

	cfg := &config.Config{
		CORSAllowedOrigins:  []string{"*"},
		LocalStaticPrefix:   "/uploads/",
		LegacyImageMaxWidth: 1600,
	}
	router := NewRouter(cfg, actorHeader, Handlers{
		ObjectMedia: objectHandler,
		LocalMedia:  NewLocalMediaHandler(svc, zerolog.Nop()),
		Articles:    NewArticleHandler(workflow.NewEngine(articles, nil, zerolog.Nop()), zerolog.Nop()),
		StaticRoot:  store.BaseDir(),
	})
	return &testEnv{router: router, root: store.BaseDir(), articles: articles}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, field, filename, contentType string, content []byte, options string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if field != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if options != "" {
		require.NoError(t, writer.WriteField("options", options))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUpload_Success(t *testing.T) {
	env := newTestEnv(t, true)

	req := multipartRequest(t, "/api/media/upload", "file", "Team Photo.png", "image/png", pngImage(t, 64, 32),
		`{"folder":"news/2024","alt":"the team","tags":["staff"]}`)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[uploadResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.File)
	assert.Equal(t, "Team Photo.png", resp.File.OriginalName)
	assert.Equal(t, media.TypeImage, resp.File.Type)
	assert.Equal(t, "news/2024", resp.File.Folder)
	assert.Equal(t, "the team", resp.File.Alt)
	require.NotNil(t, resp.File.Width)
	assert.Equal(t, 64, *resp.File.Width)
	assert.Equal(t, "u-test", resp.File.UploadedBy)

	stored := filepath.Join(env.root, "news", "2024", resp.File.Filename)
	_, err := os.Stat(stored)
	assert.NoError(t, err)

	// 上传后的文件可以通过静态路径读取
	static := env.do(httptest.NewRequest(http.MethodGet, "/uploads/news/2024/"+resp.File.Filename, nil))
	assert.Equal(t, http.StatusOK, static.Code)
	assert.Equal(t, "image/png", static.Header().Get("Content-Type"))
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t, true)

	tooLarge := multipartRequest(t, "/api/media/upload", "file", "huge.png", "image/png", make([]byte, 10*1024*1024+1), "")
	rec := env.do(tooLarge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, string(apperr.KindPayloadTooLarge), body.Code)
	assert.Contains(t, body.Message, "upload failed")
	assert.Contains(t, body.Message, "10MB")

	missing := multipartRequest(t, "/api/media/upload", "", "", "", nil, `{"folder":"x"}`)
	rec = env.do(missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Message, "no file provided")

	badOptions := multipartRequest(t, "/api/media/upload", "file", "a.txt", "text/plain", []byte("hi"), `{"quality":500}`)
	rec = env.do(badOptions)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	notMultipart := httptest.NewRequest(http.MethodPost, "/api/media/upload", bytes.NewBufferString(`{}`))
	notMultipart.Header.Set("Content-Type", "application/json")
	rec = env.do(notMultipart)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := os.ReadDir(env.root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.Name() == ".meta" || e.IsDir(), "unexpected file %s", e.Name())
	}
}

func TestObjectStorageUnconfigured(t *testing.T) {
	env := newTestEnv(t, false)

	for _, req := range []*http.Request{
		multipartRequest(t, "/api/media/upload", "file", "a.txt", "text/plain", []byte("hi"), ""),
		httptest.NewRequest(http.MethodGet, "/api/media/upload", nil),
		httptest.NewRequest(http.MethodDelete, "/api/media/upload?id=x", nil),
	} {
		rec := env.do(req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, req.Method)
		body := decodeBody[errorResponse](t, rec)
		assert.Equal(t, string(apperr.KindConfiguration), body.Code)
		assert.Contains(t, body.Message, "OBJECT_STORAGE_BUCKET")
	}

	// 对象存储缺失时旧图片接口退回本地存储
	rec := env.do(multipartRequest(t, "/api/upload/image", "image", "p.png", "image/png", pngImage(t, 8, 8), ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "images", decodeBody[uploadResponse](t, rec).File.Folder)
}

func TestListAndPagination(t *testing.T) {
	env := newTestEnv(t, true)
	for _, name := range []string{"a.txt", "b.txt"} {
		rec := env.do(multipartRequest(t, "/api/media/upload", "file", name, "text/plain", []byte(name), `{"folder":"docs"}`))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(multipartRequest(t, "/api/media/upload", "file", "root.txt", "text/plain", []byte("root"), ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/media/upload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	root := decodeBody[struct {
		Success bool         `json:"success"`
		Files   []media.File `json:"files"`
		Folders []string     `json:"folders"`
	}](t, rec)
	assert.True(t, root.Success)
	assert.Equal(t, []string{"docs"}, root.Folders)
	require.Len(t, root.Files, 1)
	assert.Equal(t, "root.txt", root.Files[0].OriginalName)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/media/upload?folder=docs&maxKeys=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[media.ListResult](t, rec)
	assert.Len(t, first.Files, 1)
	assert.True(t, first.IsTruncated)
	require.NotEmpty(t, first.NextContinuationToken)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/media/upload?folder=docs&maxKeys=1&continuationToken="+first.NextContinuationToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[media.ListResult](t, rec)
	assert.Len(t, second.Files, 1)
	assert.False(t, second.IsTruncated)
	assert.NotEqual(t, first.Files[0].Filename, second.Files[0].Filename)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/media/upload?maxKeys=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 超大分页参数按上限处理
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/media/upload?folder=docs&maxKeys=9223372036854775807", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[media.ListResult](t, rec)
	assert.Len(t, all.Files, 2)
	assert.False(t, all.IsTruncated)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/media/upload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/media/upload?id=never/uploaded.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeBody[errorResponse](t, rec).Success)

	rec = env.do(multipartRequest(t, "/api/media/upload", "file", "gone.txt", "text/plain", []byte("bye"), `{"folder":"tmp"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	file := decodeBody[uploadResponse](t, rec).File

	forbidden := httptest.NewRequest(http.MethodDelete, "/api/media/upload?id=tmp/"+file.Filename, nil)
	forbidden.Header.Set("X-Test-Role", string(rbac.RoleAuthor))
	rec = env.do(forbidden)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/media/upload?id=tmp/"+file.Filename, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "File deleted successfully", decodeBody[successResponse](t, rec).Message)
}

func TestLocalDelete_ByFilename(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(multipartRequest(t, "/api/media/local", "file", "deep.txt", "text/plain", []byte("x"), `{"folder":"a/b/c"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file := decodeBody[uploadResponse](t, rec).File

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/media/local?id="+file.ID, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "filename is required")

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/media/local?id=someoneelse&filename="+file.Filename, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "id must match the filename")

	// 不带 folder，依靠递归查找
	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/media/local?id="+file.ID+"&filename="+file.Filename, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := os.Stat(filepath.Join(env.root, "a", "b", "c", file.Filename))
	assert.True(t, os.IsNotExist(err))

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/media/local?id="+file.ID+"&filename="+file.Filename, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticHidesMetadata(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(multipartRequest(t, "/api/media/local", "file", "n.txt", "text/plain", []byte("x"), ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/uploads/.meta/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRBACEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/rbac/features", nil)
	req.Header.Set("X-Test-Role", string(rbac.RoleAuthor))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	features := decodeBody[featuresResponse](t, rec)
	assert.False(t, features.Features.CanPublish)
	assert.Contains(t, features.Permissions, rbac.CreateArticle)

	req = httptest.NewRequest(http.MethodGet, "/api/rbac/permissions/manage_users", nil)
	req.Header.Set("X-Test-Role", string(rbac.RoleAuthor))
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[permissionResponse](t, rec).Allowed)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/rbac/permissions/FLY", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArticleTransitions(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/articles/a-1", nil)
	req.Header.Set("X-Test-Role", string(rbac.RoleEditor))
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[articleResponse](t, rec)
	assert.Equal(t, []workflow.Transition{workflow.TransitionPublish, workflow.TransitionApprove, workflow.TransitionReject}, got.AllowedTransitions)

	// 作者不能审核，请求不会到达后端
	req = httptest.NewRequest(http.MethodPost, "/api/articles/a-1/transitions/approve", nil)
	req.Header.Set("X-Test-Role", string(rbac.RoleAuthor))
	rec = env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.articles.updates)

	req = httptest.NewRequest(http.MethodPost, "/api/articles/a-1/transitions/reject", bytes.NewBufferString(`{"reason":""}`))
	req.Header.Set("X-Test-Role", string(rbac.RoleEditor))
	rec = env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.articles.updates)

	req = httptest.NewRequest(http.MethodPost, "/api/articles/a-1/transitions/approve", nil)
	req.Header.Set("X-Test-Role", string(rbac.RoleEditor))
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatusPublished, decodeBody[articleResponse](t, rec).Article.Status)
	assert.Equal(t, 1, env.articles.updates)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/articles/a-1/transitions/teleport", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/articles/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArticleTransition_BackendFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.articles.err = apperr.Upstream(nil, "backend timed out after %s", time.Second)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/articles/a-1/transitions/publish", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Contains(t, body.Message, "publish failed")
	assert.Equal(t, workflow.StatusReview, env.articles.article.Status)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
