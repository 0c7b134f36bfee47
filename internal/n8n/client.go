// Package n8n is a client for the n8n public REST API (v1).
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rendis/flowguard/pkg/schema"
)

const (
	apiPrefix         = "/api/v1"
	apiKeyHeader      = "X-N8N-API-KEY"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxDelay   = 10 * time.Second
	defaultPageSize   = 100
	maxResponseBody   = 10 * 1024 * 1024
	maxErrorSnippet   = 512
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per request attempt
	MaxRetries int           // retries after the first attempt; negative disables retries
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	PageSize   int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one n8n instance. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageSize   int
	http       *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and fills in defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "n8n base url is required")
	}
	u, err := url.ParseRequestURI(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid n8n base url %q", cfg.BaseURL)
	}
	base = strings.TrimSuffix(base, apiPrefix)

	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		pageSize:   cfg.PageSize,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = defaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.http == nil {
		c.http = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return c, nil
}

// GetWorkflow fetches one workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	var wf schema.Workflow
	if err := c.do(ctx, http.MethodGet, "/workflows/"+url.PathEscape(id), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

type workflowPage struct {
	Data       []*schema.Workflow `json:"data"`
	NextCursor *string            `json:"nextCursor"`
}

// ListWorkflows returns every workflow, following nextCursor until the last page.
func (c *Client) ListWorkflows(ctx context.Context) ([]*schema.Workflow, error) {
	var out []*schema.Workflow
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page workflowPage
		if err := c.do(ctx, http.MethodGet, "/workflows?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if page.NextCursor == nil || *page.NextCursor == "" || *page.NextCursor == cursor {
			return out, nil
		}
		cursor = *page.NextCursor
	}
}

// updateBody holds the fields the update endpoint accepts; id, active and the
// timestamps are read-only there and get rejected.
type updateBody struct {
	Name        string             `json:"name"`
	Nodes       []schema.Node      `json:"nodes"`
	Connections schema.Connections `json:"connections"`
	Settings    map[string]any     `json:"settings"`
}

// UpdateWorkflow replaces the definition of wf.ID and returns the stored workflow.
func (c *Client) UpdateWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	if wf == nil || wf.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "update needs a workflow with an id")
	}
	body := updateBody{Name: wf.Name, Nodes: wf.Nodes, Connections: wf.Connections, Settings: wf.Settings}
	if body.Nodes == nil {
		body.Nodes = []schema.Node{}
	}
	if body.Connections == nil {
		body.Connections = schema.Connections{}
	}
	if body.Settings == nil {
		body.Settings = map[string]any{}
	}
	var updated schema.Workflow
	if err := c.do(ctx, http.MethodPut, "/workflows/"+url.PathEscape(wf.ID), body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Activate turns a workflow's triggers on.
func (c *Client) Activate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/activate", nil, nil)
}

// Deactivate turns a workflow's triggers off.
func (c *Client) Deactivate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/deactivate", nil, nil)
}

// do sends one API call, retrying transport failures, 429 and 5xx with
// exponential backoff. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return schema.NewError(schema.ErrCodeValidation, "failed to encode request body").WithCause(err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		status, body, err := c.attempt(ctx, method, path, payload)
		if err == nil && status >= 200 && status < 300 {
			if out == nil || len(bytes.TrimSpace(body)) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return schema.NewErrorf(schema.ErrCodeUpstream, "n8n %s %s: invalid response JSON", method, path).WithCause(err)
			}
			return nil
		}

		lastErr = c.responseError(method, path, status, body, err)
		if attempt >= c.maxRetries || !retryable(ctx, status, err) {
			return lastErr
		}

		delay := computeBackoff(c.baseDelay, c.maxDelay, attempt)
		c.logger.DebugContext(ctx, "n8n request failed, retrying",
			"method", method, "path", path, "status", status,
			"attempt", attempt+1, "delay", delay, "error", lastErr)
		if werr := waitForBackoff(ctx, delay); werr != nil {
			return schema.NewErrorf(schema.ErrCodeUpstream, "n8n %s %s: %v", method, path, werr).WithCause(lastErr)
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func (c *Client) responseError(method, path string, status int, body []byte, err error) *schema.FlowError {
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeUpstream, "n8n %s %s: %v", method, path, err).WithCause(err)
	}
	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	if len(msg) > maxErrorSnippet {
		msg = msg[:maxErrorSnippet] + "..."
	}

	code := schema.ErrCodeUpstream
	if status == http.StatusNotFound {
		code = schema.ErrCodeNotFound
	}
	return schema.NewErrorf(code, "n8n %s %s: %d %s", method, path, status, msg).
		WithDetails(map[string]any{"status": status})
}
