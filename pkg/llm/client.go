// Package llm wraps an OpenAI-compatible chat-completions endpoint behind
// a structured-output contract: every call declares a Schema and returns
// JSON that validates against it, with retries, token accounting, and
// optional web search handled here so workers stay oblivious to all three.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is one structured completion.
type Request struct {
	SystemPrompt string
	UserPayload  string
	Schema       *Schema
	WebSearch    bool
	Temperature  float64
	// MaxRetries overrides the client default when > 0.
	MaxRetries int
}

// Result carries the normalized output and usage accounting. Token counts
// are aggregated across retries.
type Result struct {
	Output           json.RawMessage
	PromptTokens     int
	CompletionTokens int
	SourcesCount     int
}

// TotalTokens returns prompt plus completion tokens.
func (r *Result) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Completer is the capability workers depend on; tests substitute mocks.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// Client is the production Completer.
type Client struct {
	http        *resty.Client
	model       string
	maxRetries  int
	backoffBase time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBackoffBase overrides the first retry delay (tests shrink it).
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient creates a client for an OpenAI-compatible provider.
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(5 * time.Minute),
		model:       model,
		maxRetries:  3,
		backoffBase: time.Second,
		logger:      slog.Default().With("component", "llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat any           `json:"response_format"`
	WebSearch      *struct{}     `json:"web_search_options,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content     string `json:"content"`
			Annotations []any  `json:"annotations"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete obtains a schema-conforming JSON object. Transport failures
// retry with exponential backoff plus jitter; schema violations re-prompt
// with the validation error appended.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	if req.Schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	maxRetries := c.maxRetries
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}

	result := &Result{}
	userPayload := req.UserPayload
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * (1 << (attempt - 1))
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return nil, wrapCtxErr(ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		raw, usage, sources, err := c.call(ctx, req, userPayload)
		result.PromptTokens += usage.PromptTokens
		result.CompletionTokens += usage.CompletionTokens
		if sources > result.SourcesCount {
			result.SourcesCount = sources
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, wrapCtxErr(ctx.Err(), err)
			}
			lastErr = err
			c.logger.Warn("Completion transport failure",
				"attempt", attempt, "error", err)
			continue
		}

		normalized, err := req.Schema.Normalize(raw)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrSchema, err)
			c.logger.Warn("Completion schema violation",
				"attempt", attempt, "error", err)
			// Re-prompt with the validation error appended.
			userPayload = req.UserPayload +
				"\n\nYour previous response was rejected: " + err.Error() +
				"\nRespond again with JSON matching the required schema exactly."
			continue
		}

		result.Output = normalized
		return result, nil
	}

	return nil, fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// call performs one HTTP round trip and returns the raw message content.
func (c *Client) call(ctx context.Context, req Request, userPayload string) (raw []byte, usage struct{ PromptTokens, CompletionTokens int }, sources int, err error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: userPayload},
		},
		Temperature: req.Temperature,
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Schema.Name,
				"strict": true,
				"schema": req.Schema.JSONSchema(),
			},
		},
	}
	if req.WebSearch {
		body.WebSearch = &struct{}{}
	}

	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		Post("/chat/completions")
	if err != nil {
		return nil, usage, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	usage.PromptTokens = parsed.Usage.PromptTokens
	usage.CompletionTokens = parsed.Usage.CompletionTokens

	if resp.IsError() {
		msg := resp.Status()
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, usage, 0, fmt.Errorf("%w: provider returned %d: %s",
			ErrTransport, resp.StatusCode(), msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, usage, 0, fmt.Errorf("%w: provider returned no choices", ErrTransport)
	}

	msg := parsed.Choices[0].Message
	return []byte(msg.Content), usage, len(msg.Annotations), nil
}

func wrapCtxErr(ctxErr, lastErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		if lastErr != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, lastErr)
		}
		return ErrTimeout
	}
	if lastErr != nil {
		return fmt.Errorf("cancelled: %w", lastErr)
	}
	return ctxErr
}
