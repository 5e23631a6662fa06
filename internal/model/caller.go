// ABOUTME: Chat-completions caller for OpenAI-compatible endpoints
// ABOUTME: Classifies failures so the run-loop can decide between retry and surface

package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNetwork wraps transport-level failures (connection refused, timeout).
var ErrNetwork = errors.New("model endpoint unreachable")

// ErrEmptyResponse is returned when the endpoint answers with no usable
// completion content.
var ErrEmptyResponse = errors.New("model returned empty response")

// ErrMalformedResponse is returned when the endpoint's body could not be
// decoded as a chat completion.
var ErrMalformedResponse = errors.New("model returned malformed response")

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 120 * time.Second

// ModelAPIError is a non-2xx answer from the model endpoint.
type ModelAPIError struct {
	Status int
	Body   string
}

func (e *ModelAPIError) Error() string {
	return fmt.Sprintf("model API error %d: %s", e.Status, e.Body)
}

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Result is a completed model call.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	DurationMs       int64
}

// Config holds caller construction parameters.
type Config struct {
	// Endpoint is the server root; /v1 is appended for the OpenAI API.
	Endpoint string
	// Model is the model name passed through to the endpoint.
	Model string
	// APIKey is optional; local endpoints usually ignore it.
	APIKey string
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Caller issues non-streaming chat completions.
type Caller struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a caller for an OpenAI-compatible endpoint.
func New(cfg Config) (*Caller, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/") + "/v1"

	return &Caller{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger.With("component", "model"),
	}, nil
}

// Call sends the messages as one completion request and returns the first
// choice. Token counts are best-effort: endpoints that omit usage report
// zeros.
func (c *Caller) Call(ctx context.Context, messages []Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		return nil, c.classify(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	result := &Result{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		DurationMs:       elapsed.Milliseconds(),
	}

	c.logger.Debug("completion",
		"model", c.model,
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

// classify maps go-openai errors onto the caller's error taxonomy.
func (c *Caller) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ModelAPIError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return &ModelAPIError{Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if strings.Contains(err.Error(), "invalid character") ||
		strings.Contains(err.Error(), "unexpected end of JSON") {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
