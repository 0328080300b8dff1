package management

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/pkg/filters"
)

// ClientConfig holds configuration for the management client
type ClientConfig struct {
	// Address of the management server (host:port or URL)
	Address string

	// HTTPClient overrides the default client
	HTTPClient *http.Client

	// Timeout for operations (default: 30s)
	Timeout time.Duration
}

// Client calls a management server.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// NewClient creates a client for the server at config.Address.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("management address is required")
	}

	base := config.Address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid management address %q: %w", config.Address, err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		base:    strings.TrimRight(u.String(), "/"),
		http:    hc,
		timeout: timeout,
	}, nil
}

// GetAddress returns the server base URL
func (c *Client) GetAddress() string {
	return c.base
}

// List returns every loaded filter in registry order.
func (c *Client) List(ctx context.Context) ([]FilterJSON, error) {
	var out []FilterJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/filters", nil, &out)
	return out, err
}

// Active returns the active view keyed by "<contract>.<operation>".
func (c *Client) Active(ctx context.Context) (map[string]FilterJSON, error) {
	var out map[string]FilterJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/filters/active", nil, &out)
	return out, err
}

// Get returns the filter with handle.
func (c *Client) Get(ctx context.Context, handle string) (FilterJSON, error) {
	var out FilterJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/filters/"+url.PathEscape(handle), nil, &out)
	return out, err
}

// SetActive activates or deactivates the filter with handle.
func (c *Client) SetActive(ctx context.Context, handle string, active bool) (FilterJSON, error) {
	var out FilterJSON
	err := c.do(ctx, http.MethodPut, "/api/v1/filters/"+url.PathEscape(handle)+"/active",
		ActiveRequest{Active: &active}, &out)
	return out, err
}

// SetPriority changes the priority of the filter with handle.
func (c *Client) SetPriority(ctx context.Context, handle string, priority int) (FilterJSON, error) {
	var out FilterJSON
	err := c.do(ctx, http.MethodPut, "/api/v1/filters/"+url.PathEscape(handle)+"/priority",
		PriorityRequest{Priority: &priority}, &out)
	return out, err
}

// Reload asks the server to rescan its filter source.
func (c *Client) Reload(ctx context.Context) (ReloadJSON, error) {
	var out ReloadJSON
	err := c.do(ctx, http.MethodPost, "/api/v1/filters/reload", nil, &out)
	return out, err
}

// Stats returns registry counters.
func (c *Client) Stats(ctx context.Context) (filters.Stats, error) {
	var out filters.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out)
	return out, err
}

// Cache returns the dispatch cache state.
func (c *Client) Cache(ctx context.Context) (CacheJSON, error) {
	var out CacheJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/cache", nil, &out)
	return out, err
}

// SetCacheActive turns the dispatch cache on or off.
func (c *Client) SetCacheActive(ctx context.Context, active bool) (CacheJSON, error) {
	var out CacheJSON
	err := c.do(ctx, http.MethodPut, "/api/v1/cache", ActiveRequest{Active: &active}, &out)
	return out, err
}

// ClearCache empties the dispatch cache.
func (c *Client) ClearCache(ctx context.Context) (CacheJSON, error) {
	var out CacheJSON
	err := c.do(ctx, http.MethodDelete, "/api/v1/cache", nil, &out)
	return out, err
}

// Console returns up to n recent log records, newest first.
func (c *Client) Console(ctx context.Context, n int) ([]logger.LogEntry, error) {
	var out []logger.LogEntry
	err := c.do(ctx, http.MethodGet, "/api/v1/console?n="+strconv.Itoa(n), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach management server %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
			return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: "unexpected response"}
		}
		return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
