// Package llm provides an HTTP chat-completions client with retry and
// main→fallback model routing for OpenRouter and DeepSeek endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/finbrief/finbrief/pkg/config"
)

// Chatter is the minimal surface the analyzers depend on.
type Chatter interface {
	// Chat issues one request with no retry.
	Chat(ctx context.Context, req Request) (string, error)
	// ChatWithFallback applies the retry policy, then one fallback-model
	// attempt if configured.
	ChatWithFallback(ctx context.Context, req Request) (string, error)
	// Model returns the primary model identifier.
	Model() string
}

// Request is one chat-completion call. Zero-valued fields fall back to
// the client's provider defaults.
type Request struct {
	SystemPrompt string
	Prompt       string
	Model        string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

// HTTPError marks a non-2xx response. Only these are retried; transport
// errors and timeouts abort immediately.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("llm endpoint returned status %d: %s", e.StatusCode, body)
}

// ErrMissingAPIKey aborts client construction when no key is configured.
var ErrMissingAPIKey = errors.New("llm api key is not configured")

// ErrEmptyResponse indicates the endpoint returned no choices.
var ErrEmptyResponse = errors.New("llm response contained no choices")

// Client talks to one chat-completions endpoint.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	fallbackModel string
	maxTokens     int
	temperature   float64
	headers       map[string]string

	// sleep is swappable in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the given provider profile. A missing
// API key is a construction error, not a per-call error.
func NewClient(provider string, cfg *config.ProviderConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w (provider %s)", ErrMissingAPIKey, provider)
	}

	headers := map[string]string{}
	if provider == config.ProviderOpenRouter {
		// OpenRouter attributes traffic by referer and title.
		headers["HTTP-Referer"] = "https://github.com/finbrief/finbrief"
		headers["X-Title"] = "finbrief"
	}

	return &Client{
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		headers:       headers,
		sleep:         sleepCtx,
	}, nil
}

// Model returns the primary model identifier.
func (c *Client) Model() string {
	return c.model
}

// FallbackModel returns the configured fallback model, if any.
func (c *Client) FallbackModel() string {
	return c.fallbackModel
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat issues one request with no retry.
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	return c.do(ctx, model, req)
}

func (c *Client) do(ctx context.Context, model string, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatWithFallback applies the retry policy: up to three attempts
// against the primary model, retrying only HTTP failures with a
// uniformly jittered wait per attempt, then a single fallback-model
// attempt. Non-HTTP errors abort immediately.
func (c *Client) ChatWithFallback(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.Chat(ctx, req)
		if err == nil {
			return text, nil
		}

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			return "", err
		}
		lastErr = err

		if attempt < maxAttempts {
			wait := backoffWait(attempt)
			slog.Warn("LLM request failed, backing off",
				"attempt", attempt,
				"status", httpErr.StatusCode,
				"wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
	}

	if c.fallbackModel == "" {
		return "", fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
	}

	slog.Warn("Primary model exhausted, trying fallback model",
		"primary", c.model, "fallback", c.fallbackModel)

	fallbackReq := req
	fallbackReq.Model = c.fallbackModel
	text, err := c.Chat(ctx, fallbackReq)
	if err != nil {
		return "", fmt.Errorf("fallback model failed after %d primary attempts: %w", maxAttempts, err)
	}
	return text, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
