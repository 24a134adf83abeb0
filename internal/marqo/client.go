// Package marqo is a minimal client for the Marqo REST API: index management,
// document upsert/get/delete and search.
package marqo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marqo-ai/marqo-haystack/internal/metrics"
)

// DefaultURL is where a local Marqo listens by default.
const DefaultURL = "http://localhost:8882"

const apiKeyHeader = "x-api-key"

// Config holds the client settings.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to a single Marqo deployment.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a Marqo client. It performs no network calls.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = DefaultURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Client{baseURL: base, apiKey: cfg.APIKey, http: hc, logger: l}
}

// URL returns the base URL the client sends requests to.
func (c *Client) URL() string { return c.baseURL }

// ListIndexes returns the names of all indexes.
func (c *Client) ListIndexes(ctx context.Context) ([]string, error) {
	var resp listIndexesResponse
	if err := c.do(ctx, "list_indexes", http.MethodGet, "/indexes", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		names = append(names, r.name())
	}
	return names, nil
}

// CreateIndex creates an index. A nil settings map creates it with Marqo defaults.
func (c *Client) CreateIndex(ctx context.Context, name string, settings map[string]any) error {
	if settings == nil {
		settings = map[string]any{}
	}
	return c.do(ctx, "create_index", http.MethodPost, indexPath(name), settings, nil)
}

// DeleteIndex removes an index and all its documents.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	return c.do(ctx, "delete_index", http.MethodDelete, indexPath(name), nil, nil)
}

// Index returns a handle for operations scoped to one index.
func (c *Client) Index(name string) *Index {
	return &Index{name: name, client: c}
}

func indexPath(name string, parts ...string) string {
	p := "/indexes/" + url.PathEscape(name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// do sends one JSON request and decodes the JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.MarqoRequestsTotal.WithLabelValues(op, status).Inc()
		metrics.MarqoRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("%s: encode request: %w", op, merr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		c.logger.Debug("marqo request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return fmt.Errorf("%s: %w", op, apiErr)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	// Numbers stay json.Number so integer document fields keep their precision.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
