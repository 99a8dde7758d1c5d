// Package client is the HTTP transport to the workspace server: the pull
// endpoint, the mutating actions, and the element and marker snapshots.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/fruitsalade/navigator/pkg/models"
	"github.com/fruitsalade/navigator/pkg/protocol"
	"github.com/fruitsalade/navigator/pkg/retry"
)

// RequestIDHeader carries a fresh id on every request.
const RequestIDHeader = "X-Request-ID"

// Client talks to one workspace server. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *zap.Logger
	onResponse  func(method, path string, status int, d time.Duration)

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
	Logger      *zap.Logger

	// OnResponse, if set, observes every response the server returned.
	OnResponse func(method, path string, status int, d time.Duration)
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger:     cfg.Logger,
		onResponse: cfg.OnResponse,
		online:     true,
		authToken:  cfg.AuthToken,
	}
	c.retryConfig = cfg.RetryConfig
	if c.retryConfig.OnRetry == nil {
		c.retryConfig.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.logger.Warn("request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}
	return c
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// LastContact returns when the server was last reached or found unreachable.
func (c *Client) LastContact() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.logger.Info("server is back online", zap.String("url", c.baseURL))
		} else {
			c.logger.Error("server is offline", zap.String("url", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	c.setOnline(true)
	return nil
}

// Pull asks the server to bring the workspace up to date for the given
// resources and reports what changed.
func (c *Client) Pull(ctx context.Context, req protocol.PullRequest) (*protocol.PullResponse, error) {
	var resp protocol.PullResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/workspace/pull", req, &resp); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	return &resp, nil
}

// Rename moves path to newPath on the server.
func (c *Client) Rename(ctx context.Context, path, newPath string) (*protocol.ActionResponse, error) {
	return c.action(ctx, "rename", protocol.RenameRequest{Path: path, NewPath: newPath})
}

// Copy copies path to newPath on the server.
func (c *Client) Copy(ctx context.Context, path, newPath string) (*protocol.ActionResponse, error) {
	return c.action(ctx, "copy", protocol.CopyRequest{Path: path, NewPath: newPath})
}

// Delete removes path on the server.
func (c *Client) Delete(ctx context.Context, path string) (*protocol.ActionResponse, error) {
	return c.action(ctx, "delete", protocol.DeleteRequest{Path: path})
}

// Create creates a file or folder at path on the server.
func (c *Client) Create(ctx context.Context, path string, typ models.ElementType) (*protocol.ActionResponse, error) {
	return c.action(ctx, "create", protocol.CreateRequest{Path: path, Type: typ})
}

func (c *Client) action(ctx context.Context, name string, body any) (*protocol.ActionResponse, error) {
	var resp protocol.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/workspace/"+name, body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &resp, nil
}

// FetchElements fetches the workspace element graph.
func (c *Client) FetchElements(ctx context.Context) (*models.Element, error) {
	var resp protocol.ElementsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workspace/elements", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch elements: %w", err)
	}
	return resp.Root, nil
}

// FetchMarkers fetches the current marker totals of every file.
func (c *Client) FetchMarkers(ctx context.Context) (protocol.MarkersResponse, error) {
	var resp protocol.MarkersResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workspace/markers", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch markers: %w", err)
	}
	return resp, nil
}

// do sends one JSON request with retries and decodes the response into out.
// Network failures and 5xx responses are retried; every other non-2xx
// status is returned as a *protocol.APIError after the first attempt.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Encoding", "gzip")
		reqID := uuid.NewString()
		req.Header.Set(RequestIDHeader, reqID)
		c.applyAuth(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		elapsed := time.Since(start)
		c.logger.Debug("request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", reqID),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", elapsed),
		)
		if c.onResponse != nil {
			c.onResponse(method, path, resp.StatusCode, elapsed)
		}

		if resp.StatusCode >= 500 {
			c.setOnline(false)
			return retry.Retryable(decodeAPIError(resp))
		}
		c.setOnline(true)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeAPIError(resp)
		}
		if out == nil {
			return nil
		}

		reader, closeFn, err := bodyReader(resp)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := json.NewDecoder(reader).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	return retry.Unwrap(err)
}

// bodyReader returns the response body, transparently gunzipped.
func bodyReader(resp *http.Response) (io.Reader, func(), error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, func() {}, nil
	}
	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("gzip body: %w", err)
	}
	return gr, func() { gr.Close() }, nil
}

// decodeAPIError turns a non-2xx response into an APIError. The server's
// "error" field is the machine reason (e.g. REPULL) and "message" the text
// shown to the user.
func decodeAPIError(resp *http.Response) error {
	ae := &protocol.APIError{Status: resp.StatusCode}
	reader, closeFn, err := bodyReader(resp)
	if err != nil {
		return ae
	}
	defer closeFn()

	var errResp protocol.ErrorResponse
	if json.NewDecoder(io.LimitReader(reader, 64<<10)).Decode(&errResp) == nil {
		ae.Reason = errResp.Error
		ae.Message = errResp.Message
	}
	return ae
}
