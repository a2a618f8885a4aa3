package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/model"
)

// Generator is the uniform call contract over one text-generation backend.
// A nil onChunk selects blocking mode.
type Generator interface {
	Generate(ctx context.Context, req Request, onChunk func(string) error) (string, error)
}

// Request carries the per-call parameters. Endpoint and credential come from the client.
type Request struct {
	Prompt            string
	SystemInstruction string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
}

// LLMClient talks to an OpenAI-compatible chat completion endpoint
type LLMClient struct {
	httpClient *http.Client
	provider   model.Provider
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chatCompletionChunk is one SSE frame of a streamed completion
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewLLMClient creates a client for provider. Per-call timeouts come from Request.
func NewLLMClient(provider model.Provider, cfg config.ProviderConfig) *LLMClient {
	return &LLMClient{
		httpClient: &http.Client{},
		provider:   provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// Generate sends one chat completion. Chunks are delivered to onChunk in
// arrival order and the concatenated text is returned.
func (c *LLMClient) Generate(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	if err := c.validate(req); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var messages []ChatMessage
	if req.SystemInstruction != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemInstruction})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.Prompt})

	reqBody := ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      onChunk != nil,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if onChunk != nil {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if onChunk == nil {
		return c.readBlocking(ctx, resp.Body)
	}
	return c.readStream(ctx, resp.Body, onChunk)
}

func (c *LLMClient) validate(req Request) error {
	switch {
	case c.baseURL == "":
		return &ConfigurationError{Provider: c.provider, Field: "base_url"}
	case c.apiKey == "":
		return &ConfigurationError{Provider: c.provider, Field: "api_key"}
	case c.model == "":
		return &ConfigurationError{Provider: c.provider, Field: "model"}
	case req.Timeout <= 0:
		return &ConfigurationError{Provider: c.provider, Field: "timeout"}
	case req.MaxTokens <= 0:
		return &ConfigurationError{Provider: c.provider, Field: "max_tokens"}
	}
	return nil
}

func (c *LLMClient) readBlocking(ctx context.Context, body io.Reader) (string, error) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		return "", c.transportError(ctx, err)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", &APIError{Provider: c.provider, Message: "malformed response body"}
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", &APIError{Provider: c.provider, Message: "empty content in response"}
	}
	return chatResp.Choices[0].Message.Content, nil
}

func (c *LLMClient) readStream(ctx context.Context, body io.Reader, onChunk func(string) error) (string, error) {
	var full strings.Builder
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", c.transportError(ctx, err)
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			var chunk chatCompletionChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				return "", &APIError{Provider: c.provider, Message: "malformed stream frame"}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				full.WriteString(choice.Delta.Content)
				if cbErr := onChunk(choice.Delta.Content); cbErr != nil {
					return "", errors.Wrap(cbErr, "chunk callback")
				}
			}
		}

		if err == io.EOF {
			break
		}
	}

	if full.Len() == 0 {
		return "", &APIError{Provider: c.provider, Message: "empty content in response"}
	}
	return full.String(), nil
}

// transportError maps a failed round trip. Cancellation by the caller is
// passed through untouched so the worker can stop without retrying.
func (c *LLMClient) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrap(err, "request cancelled")
	}
	return &TimeoutError{Provider: c.provider, Cause: err}
}

// IsConfigured returns true if the client has credentials and an endpoint
func (c *LLMClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != "" && c.model != ""
}
