// Package httpremote implements the offlinekit.Remote interface against an
// HTTP backend exposing mutation and query endpoints.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	offlinekit "github.com/c0deZ3R0/go-offline-kit"
	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
)

const (
	mutationPath = "/api/mutation"
	queryPath    = "/api/query"
)

// CredentialFunc supplies the bearer token for a single call. Returning an
// empty token sends the request unauthenticated.
type CredentialFunc func(ctx context.Context) (string, error)

// StaticToken returns a CredentialFunc that always yields the same token.
func StaticToken(token string) CredentialFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// Limits defines size limits for the HTTP client.
type Limits struct {
	MaxResponseBytes int64 // Maximum response body size in bytes
}

// Client talks to a backend over HTTP. Mutations and queries are POSTed as
// JSON envelopes; the raw response body is handed back to the caller.
type Client struct {
	baseURL     string
	http        *http.Client
	credentials CredentialFunc
	limits      Limits
	logger      *logging.Logger
	userAgent   string
}

var _ offlinekit.Remote = (*Client)(nil)

// Option configures a Client using the functional options pattern.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Per-call timeouts come from this
// client.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithCredentials sets the bearer token source, resolved once per call.
func WithCredentials(fn CredentialFunc) Option {
	return func(c *Client) {
		c.credentials = fn
	}
}

// WithLimits sets the size limits.
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			MaxResponseBytes: 8 << 20, // 8MB
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logging.WithComponent(logging.Component("transport"))
	}

	return c
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Mutation executes the named backend function with the given arguments.
func (c *Client) Mutation(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.post(ctx, mutationPath, name, args)
}

// Query fetches data from the named backend function.
func (c *Client) Query(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.post(ctx, queryPath, name, args)
}

type callEnvelope struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (c *Client) post(ctx context.Context, path, name string, args map[string]any) (json.RawMessage, error) {
	url := c.baseURL + path

	c.logger.Debug("Starting remote call",
		slog.String("call", name),
		slog.String("url", url))

	payload, err := json.Marshal(callEnvelope{Name: name, Args: args})
	if err != nil {
		return nil, syncErrors.NewSerializationError(syncErrors.OpTransport,
			fmt.Errorf("failed to marshal %s request: %w", name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpTransport, "transport",
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if c.credentials != nil {
		token, err := c.credentials(ctx)
		if err != nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpTransport,
				fmt.Errorf("failed to resolve credentials: %w", err))
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Remote call failed",
			slog.String("call", name),
			slog.String("url", url),
			slog.String("error", err.Error()))
		return nil, syncErrors.NewNetworkError(syncErrors.OpTransport, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	// Read one byte past the cap so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.limits.MaxResponseBytes+1))
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpTransport, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Remote call returned error status",
			slog.String("call", name),
			slog.Int("status_code", resp.StatusCode),
			slog.String("url", url))
		return nil, syncErrors.NewExecutionError(syncErrors.OpTransport, retryableStatus(resp.StatusCode),
			fmt.Errorf("server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if int64(len(body)) > c.limits.MaxResponseBytes {
		return nil, syncErrors.NewWithComponent(syncErrors.OpTransport, "transport",
			fmt.Errorf("response size exceeds limit of %d bytes", c.limits.MaxResponseBytes))
	}

	c.logger.Debug("Remote call completed",
		slog.String("call", name),
		slog.Int("response_bytes", len(body)))
	return json.RawMessage(body), nil
}

// retryableStatus reports whether a status code indicates a condition that
// may clear up on a later cycle.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// Close does nothing for this client, as the underlying http.Client needs no
// shutdown.
func (c *Client) Close() error {
	return nil
}
