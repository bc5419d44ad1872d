// Package client talks to a running gateway over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/muurk/btgate/internal/gateway"
	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/notify"
	"github.com/muurk/btgate/internal/server"
	"github.com/muurk/btgate/internal/version"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the initial delay between retry attempts
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 30 * time.Second
)

// Client is an HTTP client for the gateway API
type Client struct {
	// BaseURL is the scheme, host and port of the API (e.g., "http://127.0.0.1:8380")
	BaseURL string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for failed requests
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff
	MaxRetryDelay time.Duration
}

// NewClient creates a client for the API at baseURL. A missing scheme
// defaults to http.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxRetries int, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// Status returns the gateway status.
func (c *Client) Status(ctx context.Context) (*gateway.Status, error) {
	var st gateway.Status
	if err := c.do(ctx, http.MethodGet, "/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Devices returns the registered devices.
func (c *Client) Devices(ctx context.Context) ([]notify.DeviceInfo, error) {
	var devices []notify.DeviceInfo
	if err := c.do(ctx, http.MethodGet, "/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Endpoints returns the endpoint sets of resolved devices.
func (c *Client) Endpoints(ctx context.Context) ([]notify.DeviceEndpoints, error) {
	var sets []notify.DeviceEndpoints
	if err := c.do(ctx, http.MethodGet, "/endpoints", &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// Start asks the gateway to start discovery and returns the new status.
func (c *Client) Start(ctx context.Context) (*gateway.Status, error) {
	var st gateway.Status
	if err := c.do(ctx, http.MethodPost, "/start", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop asks the gateway to stop discovery and returns the new status.
func (c *Client) Stop(ctx context.Context) (*gateway.Status, error) {
	var st gateway.Status
	if err := c.do(ctx, http.MethodPost, "/stop", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// newBackOff returns the retry schedule bound to ctx.
func (c *Client) newBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryDelay
	b.MaxInterval = c.MaxRetryDelay
	b.MaxElapsedTime = 0
	var bo backoff.BackOff = b
	if maxRetries >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(maxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// do performs one API call, retrying retryable failures.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	op := func() error {
		err := c.attempt(ctx, method, path, out)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notifyFn := func(err error, next time.Duration) {
		logging.Debug("API request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(op, c.newBackOff(ctx, c.MaxRetries), notifyFn)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+server.APIPrefix+path, nil)
	if err != nil {
		return NewNetworkError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewNetworkError(method+" request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError("failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr server.ErrorResponse
		msg := fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return NewHTTPError(resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewParseError("failed to parse JSON response", err)
	}
	return nil
}
