package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/model"
)

func newTestClient(baseURL string) *LLMClient {
	return NewLLMClient(model.ProviderQwen, config.ProviderConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "qwen-plus",
	})
}

func testRequest() Request {
	return Request{Prompt: "我今天想聊聊远程工作的效率问题", MaxTokens: 256, Timeout: 2 * time.Second}
}

func TestGenerate_ConfigurationErrorBeforeIO(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		cfg   config.ProviderConfig
		req   Request
		field string
	}{
		{"missing key", config.ProviderConfig{BaseURL: srv.URL, Model: "m"}, testRequest(), "api_key"},
		{"missing url", config.ProviderConfig{APIKey: "k", Model: "m"}, testRequest(), "base_url"},
		{"missing model", config.ProviderConfig{BaseURL: srv.URL, APIKey: "k"}, testRequest(), "model"},
		{"missing timeout", config.ProviderConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, Request{Prompt: "x", MaxTokens: 1}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLLMClient(model.ProviderGrok, tt.cfg)
			_, err := c.Generate(context.Background(), tt.req, nil)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, ClassFatal, Classify(err))
		})
	}
	assert.False(t, called)
}

func TestGenerate_Blocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.Stream)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"关于效率的三个观察..."}}]}`)
	}))
	defer srv.Close()

	text, err := newTestClient(srv.URL).Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "关于效率的三个观察...", text)
}

func TestGenerate_StreamingConcatenatesChunks(t *testing.T) {
	parts := []string{"关于", "效率的", "三个观察..."}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, p := range parts {
			frame, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": p}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", frame)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var got []string
	text, err := newTestClient(srv.URL).Generate(context.Background(), testRequest(), func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, parts, got)
	assert.Equal(t, strings.Join(got, ""), text)
}

func TestGenerate_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		class  ErrorClass
	}{
		{http.StatusTooManyRequests, ClassUpstream},
		{http.StatusInternalServerError, ClassUpstream},
		{http.StatusBadGateway, ClassUpstream},
		{http.StatusBadRequest, ClassFatal},
		{http.StatusUnauthorized, ClassFatal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Generate(context.Background(), testRequest(), nil)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.class, Classify(err))
		})
	}
}

func TestGenerate_EmptyAndMalformed(t *testing.T) {
	bodies := map[string]string{
		"empty choices": `{"choices":[]}`,
		"empty content": `{"choices":[{"message":{"content":""}}]}`,
		"malformed":     `{"choices":`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Generate(context.Background(), testRequest(), nil)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Zero(t, apiErr.StatusCode)
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	req := testRequest()
	req.Timeout = 50 * time.Millisecond
	_, err := newTestClient(srv.URL).Generate(context.Background(), req, nil)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestRegistry_EnabledKeepsRosterOrder(t *testing.T) {
	providers := map[model.Provider]config.ProviderConfig{}
	for _, p := range model.Roster {
		providers[p] = config.ProviderConfig{DisplayName: strings.ToUpper(string(p)), Enabled: p != model.ProviderGemini}
	}

	r := NewRegistry(providers)
	assert.Equal(t, []model.Provider{
		model.ProviderGrok, model.ProviderQwen, model.ProviderDeepSeek, model.ProviderDoubao,
	}, r.Enabled())
	assert.Equal(t, "GROK", r.DisplayName(model.ProviderGrok))
	assert.Equal(t, "draft", r.DisplayName(model.ProviderDraft))
}

func TestRegistry_Configured(t *testing.T) {
	r := NewRegistry(map[model.Provider]config.ProviderConfig{
		model.ProviderQwen: {BaseURL: "https://example.com/v1", APIKey: "k", Model: "m", Enabled: true},
		model.ProviderGrok: {BaseURL: "https://example.com/v1", Model: "m", Enabled: true},
	})
	assert.True(t, r.Configured(model.ProviderQwen))
	assert.False(t, r.Configured(model.ProviderGrok))
	assert.False(t, r.Configured(model.ProviderGemini))
}
