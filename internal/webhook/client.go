// Package webhook delivers HTTP notifications with bounded retries.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gobby-stack/gobby/internal/config"
)

const maxResponseBytes = 1 << 20

// Request is one webhook delivery. Zero retry fields use the client defaults.
type Request struct {
	URL         string
	Method      string
	Headers     map[string]string
	Body        []byte
	MaxAttempts int
	BaseDelay   time.Duration
	RetryOn     []int // Status codes worth retrying; network errors always are
}

// Response is the final HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Attempts   int
}

// StatusError is returned for a non-2xx final response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// Client sends webhooks.
type Client struct {
	HTTP     *http.Client
	Defaults config.WebhookConfig
	Logger   *slog.Logger
}

// NewClient creates a client using cfg for timeouts and retry defaults.
func NewClient(cfg config.WebhookConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		HTTP:     &http.Client{Timeout: cfg.Timeout},
		Defaults: cfg,
		Logger:   logger,
	}
}

// Do sends the request, retrying network errors and retryable statuses with
// exponential backoff (BaseDelay, 2x, 4x, ...). The last response is returned
// alongside a *StatusError when it is not 2xx.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = c.Defaults.MaxAttempts
	}
	if attempts <= 0 {
		attempts = 1
	}
	delay := req.BaseDelay
	if delay <= 0 {
		delay = c.Defaults.BaseDelay
	}
	if delay <= 0 {
		delay = time.Second
	}
	retryOn := req.RetryOn
	if retryOn == nil {
		retryOn = c.Defaults.RetryOnStatuses
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 64 * delay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var resp *Response
	n := 0
	op := func() error {
		n++
		r, err := c.send(ctx, method, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.Logger.Warn("webhook attempt failed", "url", req.URL, "attempt", n, "error", err)
			return err
		}
		resp = r
		resp.Attempts = n
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			return nil
		}
		statusErr := &StatusError{StatusCode: r.StatusCode, Body: string(r.Body)}
		if !containsStatus(retryOn, r.StatusCode) {
			return backoff.Permanent(statusErr)
		}
		c.Logger.Warn("webhook attempt failed", "url", req.URL, "attempt", n, "status", r.StatusCode)
		return statusErr
	}

	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return resp, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method string, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: data, Header: httpResp.Header}, nil
}

func containsStatus(list []int, code int) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}
