// Package httprepo implements remote.Repository over HTTP and JSON.
//
// Records live at {base}/collections/{type}/records/{id}. PutRecord issues a
// PUT with the JSON payload, DeleteRecord a DELETE. Any 2xx is success and a
// 404 on delete is treated as already deleted.
package httprepo

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote"
)

// Limits defines request compression and response size limits.
type Limits struct {
	EnableGzip       bool  // Gzip request bodies of at least GzipMinBytes
	GzipMinBytes     int   // Default: 1KB
	MaxErrorBodySize int64 // Bytes of an error response kept in the error
}

// Client is an HTTP remote.Repository.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	limits  Limits
	logger  *logging.Logger
}

var _ remote.Repository = (*Client)(nil)

// ClientOption configures a Client using the functional options pattern.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) { c.http = cl }
}

// WithToken sends the token as a bearer Authorization header.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLimits sets compression and size limits.
func WithLimits(l Limits) ClientOption {
	return func(c *Client) { c.limits = l }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL, e.g. "https://api.example.com/v1".
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote url %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			EnableGzip:       true,
			GzipMinBytes:     1024,
			MaxErrorBodySize: 4 << 10,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger).WithComponent(logging.Component("remote/http"))
	return c, nil
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) recordURL(collection record.Type, recordID string) string {
	return fmt.Sprintf("%s/collections/%s/records/%s", c.baseURL, url.PathEscape(string(collection)), url.PathEscape(recordID))
}

func (c *Client) PutRecord(ctx context.Context, collection record.Type, recordID string, payload record.Payload) error {
	if err := record.Check(collection, payload); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, err)
	}
	data, err := record.Encode(payload)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, fmt.Errorf("failed to marshal record: %w", err))
	}
	if data == nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, fmt.Errorf("put %s/%s: payload is required", collection, recordID))
	}

	var body io.Reader = bytes.NewReader(data)
	contentEncoding := ""
	if c.limits.EnableGzip && len(data) >= c.limits.GzipMinBytes {
		var compressed bytes.Buffer
		gz := gzip.NewWriter(&compressed)
		if _, err := gz.Write(data); err != nil {
			return syncErrors.New(syncErrors.OpReplicate, fmt.Errorf("failed to compress request: %w", err))
		}
		if err := gz.Close(); err != nil {
			return syncErrors.New(syncErrors.OpReplicate, fmt.Errorf("failed to close gzip writer: %w", err))
		}
		body = &compressed
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.recordURL(collection, recordID), body)
	if err != nil {
		return syncErrors.New(syncErrors.OpReplicate, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	return c.do(req, false)
}

func (c *Client) DeleteRecord(ctx context.Context, collection record.Type, recordID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.recordURL(collection, recordID), nil)
	if err != nil {
		return syncErrors.New(syncErrors.OpReplicate, fmt.Errorf("failed to create request: %w", err))
	}
	return c.do(req, true)
}

func (c *Client) do(req *http.Request, notFoundOK bool) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return syncErrors.NewNetworkError(syncErrors.OpReplicate, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	c.logger.DebugContext(req.Context(), "remote request",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if notFoundOK && resp.StatusCode == http.StatusNotFound {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, c.limits.MaxErrorBodySize))
	return statusError(req.Method, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// StatusError is returned for non-success responses.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned status %d: %s", e.Method, e.StatusCode, e.Body)
}

// statusError classifies a response: 5xx, 408 and 429 are retryable,
// other 4xx are not.
func statusError(method string, status int, body string) error {
	err := syncErrors.NewReplicationError(&StatusError{Method: method, StatusCode: status, Body: body}).
		WithMetadata("status", status)
	if status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		err.Retryable = false
	}
	return err
}
