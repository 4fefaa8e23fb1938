// Package agent is the HTTP client for the external agent process.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout 默认超时时间
	DefaultTimeout = 60 * time.Second

	// UserAgent 请求头
	UserAgent = "serplexity-resilience/1.0"

	// RequestIDHeader carries the per-call request id.
	RequestIDHeader = "X-Request-ID"
)

// RetryBackoffs 重试退避时间（指数退避：1s, 2s, 4s）
var RetryBackoffs = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// ErrorResponse is the error body returned by the agent.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// StatusError is a non-2xx reply from the agent.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type invokeRequest struct {
	Operation string `json:"operation"`
	Payload   any    `json:"payload"`
	RequestID string `json:"requestId"`
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts sets how many times a transient failure is attempted.
// The breaker in front of the client sees one outcome per Invoke.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoffs overrides RetryBackoffs.
func WithBackoffs(backoffs ...time.Duration) Option {
	return func(c *Client) {
		c.backoffs = backoffs
	}
}

// Client talks to the agent process over JSON HTTP.
type Client struct {
	baseURL     string
	healthPath  string
	invokePath  string
	httpClient  *http.Client
	maxAttempts int
	backoffs    []time.Duration
	logger      *log.Helper
}

// NewClient builds a client from the agent section.
func NewClient(c *conf.Agent, logger log.Logger) (*Client, error) {
	if c == nil {
		return New(c, logger)
	}
	return New(c, logger, WithMaxAttempts(c.MaxAttempts))
}

// New builds a client with explicit options.
func New(c *conf.Agent, logger log.Logger, opts ...Option) (*Client, error) {
	if c == nil || c.BaseURL == "" {
		return nil, errors.New("agent base url is required")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient, err := CreateHTTPClient(c.ProxyURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	client := &Client{
		baseURL:     strings.TrimSuffix(c.BaseURL, "/"),
		healthPath:  c.HealthPath,
		invokePath:  c.InvokePath,
		httpClient:  httpClient,
		maxAttempts: 1,
		backoffs:    RetryBackoffs,
		logger:      log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Invoke posts an operation to the agent. Transport failures, non-2xx
// replies and undecodable bodies are errors; a decoded reply with
// Success=false is returned as a result.
func (c *Client) Invoke(ctx context.Context, operation string, payload any) (*model.AgentResponse, error) {
	requestID := uuid.NewString()
	body, err := json.Marshal(invokeRequest{Operation: operation, Payload: payload, RequestID: requestID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.invokeOnce(ctx, body, requestID)
		if err == nil {
			resp.Metadata.Attempt = attempt + 1
			return resp, nil
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		c.logger.Warnw("msg", "agent call failed", "operation", operation, "request_id", requestID, "attempt", attempt+1, "error", err)
	}

	if c.maxAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all retry attempts exhausted: %w", lastErr)
}

func (c *Client) invokeOnce(ctx context.Context, body []byte, requestID string) (*model.AgentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.invokePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var out model.AgentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid response format: %w", err)
	}
	if out.Metadata.LatencyMs == 0 {
		out.Metadata.LatencyMs = time.Since(start).Milliseconds()
	}
	return &out, nil
}

// Ping checks the agent's health endpoint once.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	if len(c.backoffs) == 0 {
		return 0
	}
	if attempt-1 < len(c.backoffs) {
		return c.backoffs[attempt-1]
	}
	return c.backoffs[len(c.backoffs)-1]
}

func statusError(code int, body []byte) *StatusError {
	var errResp ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	return &StatusError{StatusCode: code, Message: msg}
}
