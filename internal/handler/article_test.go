package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lazywriting/api/internal/auth"
	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/middleware"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/service"
	"github.com/lazywriting/api/internal/store"
	"github.com/lazywriting/api/internal/store/storetest"
	"github.com/lazywriting/api/internal/stream/streamtest"
	ws "github.com/lazywriting/api/internal/websocket"
)

const secret = "test-secret"

type queue struct {
	mu       sync.Mutex
	payloads []*model.GenerationPayload
}

func (q *queue) Dispatch(_ context.Context, p *model.GenerationPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *queue) count(stage model.Stage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.payloads {
		if p.Stage == stage {
			n++
		}
	}
	return n
}

type silentGenerator struct{}

func (silentGenerator) Generate(context.Context, client.Request, func(string) error) (string, error) {
	return "", nil
}

type testServer struct {
	app      *fiber.App
	queue    *queue
	articles *store.ArticleStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zaptest.NewLogger(t)
	db := storetest.NewDB(t)
	articles := store.NewArticleStore(db)

	registry := &client.Registry{}
	for _, p := range model.Roster {
		registry.Add(client.ProviderEntry{ID: p, DisplayName: string(p), Enabled: true, Client: silentGenerator{}})
	}

	q := &queue{}
	orch := service.NewOrchestrator(service.Deps{
		Articles:   articles,
		Users:      store.NewUserStore(db, 1),
		Registry:   registry,
		Dispatcher: q,
		Publisher:  streamtest.NewRecorder(),
		Barrier:    service.NewBarrier(rdb),
		Stages: config.StagesConfig{
			Brainstorm: config.StageConfig{Timeout: time.Minute, MaxTokens: 1024, Streaming: true},
			Draft:      config.StageConfig{Timeout: time.Minute, MaxTokens: 4096, Streaming: true},
			Fusion:     config.StageConfig{Timeout: time.Minute, MaxTokens: 4096, Streaming: true},
		},
		Fusion: config.FusionConfig{Provider: model.ProviderDeepSeek},
		Logger: logger,
	})

	app := fiber.New()
	routes := &Routes{
		Articles:    NewArticleHandler(orch, validator.New(), logger),
		Export:      NewExportHandler(service.NewExportService(orch, nil)),
		Streams:     NewStreamHandler(ws.NewHub(logger)),
		Auth:        middleware.NewAuthMiddleware(secret),
		RateLimiter: middleware.NewRateLimiter(rdb, logger),
		RateLimit:   config.RateLimitConfig{StartPerHour: 100, CommandsPerMin: 100, ExportPerHour: 100},
	}
	routes.Mount(app)

	return &testServer{app: app, queue: q, articles: articles}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) start(t *testing.T, token string) model.StartAllResponse {
	t.Helper()
	resp, data := s.do(t, "POST", "/api/articles", fiber.Map{"transcript": "我今天想聊聊远程工作的效率问题"}, token)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(data))
	var out model.StartAllResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Error.Code
}

func TestStart(t *testing.T) {
	s := newTestServer(t)
	out := s.start(t, "")

	assert.NotEmpty(t, out.ArticleID)
	assert.Len(t, out.Providers, len(model.Roster))
	assert.Equal(t, out.StreamBase+"_draft", out.Topics["fusion"])
	assert.Equal(t, len(model.Roster), s.queue.count(model.StageBrainstorm))
}

func TestStart_Validation(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, "POST", "/api/articles", fiber.Map{"transcript": "太短"}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, data))

	resp, _ = s.do(t, "POST", "/api/articles", fiber.Map{}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, "POST", "/api/articles", fiber.Map{
		"transcript":   "我今天想聊聊远程工作的效率问题",
		"writingStyle": "haiku",
	}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, s.queue.count(model.StageBrainstorm))
}

func TestStart_QuotaExceeded(t *testing.T) {
	s := newTestServer(t)
	token, err := auth.IssueToken("user-1", "a@example.com", secret, time.Hour)
	require.NoError(t, err)

	s.start(t, token)

	resp, data := s.do(t, "POST", "/api/articles", fiber.Map{"transcript": "第二篇文章的口述内容在这里"}, token)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "QUOTA_EXCEEDED", errorCode(t, data))
}

func TestGet(t *testing.T) {
	s := newTestServer(t)
	out := s.start(t, "")

	resp, _ := s.do(t, "PUT", "/api/articles/"+out.ArticleID+"/content", fiber.Map{"content": "# 标题\n\n正文"}, "")
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, data := s.do(t, "GET", "/api/articles/"+out.ArticleID, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var article model.ArticleResponse
	require.NoError(t, json.Unmarshal(data, &article))
	assert.Equal(t, out.ArticleID, article.ID)
	assert.Contains(t, article.FinalContentHTML, "<h1>标题</h1>")
	assert.Len(t, article.Results, len(model.Roster))

	resp, data = s.do(t, "GET", "/api/articles/00000000-0000-0000-0000-000000000000", nil, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, data))
}

func TestGet_OtherUsersArticle(t *testing.T) {
	s := newTestServer(t)
	owner, err := auth.IssueToken("owner", "", secret, time.Hour)
	require.NoError(t, err)
	other, err := auth.IssueToken("other", "", secret, time.Hour)
	require.NoError(t, err)

	out := s.start(t, owner)

	resp, _ := s.do(t, "GET", "/api/articles/"+out.ArticleID, nil, other)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, "GET", "/api/articles/"+out.ArticleID, nil, "")
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, "GET", "/api/articles/"+out.ArticleID, nil, owner)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDrafts(t *testing.T) {
	s := newTestServer(t)
	out := s.start(t, "")
	base := "/api/articles/" + out.ArticleID

	// No brainstorm content yet
	resp, data := s.do(t, "POST", base+"/drafts", nil, "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "MISSING_PREREQUISITE", errorCode(t, data))

	resp, _ = s.do(t, "POST", base+"/drafts/qwen", fiber.Map{"writingStyle": "story"}, "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	s.queue.mu.Lock()
	var qwen *model.GenerationPayload
	for _, p := range s.queue.payloads {
		if p.Provider == model.ProviderQwen {
			qwen = p
		}
	}
	s.queue.mu.Unlock()
	require.NotNil(t, qwen)
	require.NoError(t, s.articles.SetContent(context.Background(), qwen.Key(), qwen.Generation, "观点一"))

	resp, data = s.do(t, "POST", base+"/drafts", fiber.Map{"writingStyle": "story"}, "")
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(data))
	var accepted model.CommandAcceptedResponse
	require.NoError(t, json.Unmarshal(data, &accepted))
	assert.Equal(t, []model.Provider{model.ProviderQwen}, accepted.Providers)

	resp, _ = s.do(t, "POST", base+"/drafts/qwen", nil, "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, s.queue.count(model.StageDraft))

	resp, _ = s.do(t, "POST", base+"/fusion", fiber.Map{"provider": "qwen"}, "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, s.queue.count(model.StageFusion))
}

func TestRegenerateBrainstorm(t *testing.T) {
	s := newTestServer(t)
	out := s.start(t, "")
	base := "/api/articles/" + out.ArticleID

	resp, _ := s.do(t, "POST", base+"/brainstorms/gemini", nil, "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, len(model.Roster)+1, s.queue.count(model.StageBrainstorm))

	resp, _ = s.do(t, "POST", base+"/brainstorms/gpt", nil, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSelectAndExport(t *testing.T) {
	s := newTestServer(t)
	out := s.start(t, "")
	base := "/api/articles/" + out.ArticleID

	resp, _ := s.do(t, "PUT", base+"/selection", fiber.Map{"provider": "doubao"}, "")
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(t, "PUT", base+"/selection", fiber.Map{"provider": "nobody"}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, data := s.do(t, "POST", base+"/export", nil, "")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode, string(data))

	resp, _ = s.do(t, "PUT", base+"/content", fiber.Map{"content": "正文"}, "")
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, data = s.do(t, "POST", base+"/export", nil, "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "STORAGE_NOT_CONFIGURED", errorCode(t, data))
}

func TestStreams_RequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, "GET", "/ws/streams?topics=a,b", nil, "")
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, []string{"a", "b_qwen"}, parseTopics(" a, b_qwen,,a "))
	assert.Nil(t, parseTopics(""))
}

func TestStart_ManualDraft(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, "POST", "/api/articles", fiber.Map{
		"transcript":  "我今天想聊聊远程工作的效率问题",
		"manualDraft": true,
	}, "")
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(data))

	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()
	require.NotEmpty(t, s.queue.payloads)
	for _, p := range s.queue.payloads {
		assert.Empty(t, p.BatchID, p.Provider)
	}
}
