package main

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

	"github.com/hamed0406/sitepulse/internal/domain"
)

// Client is a thin wrapper over the HTTP API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// CheckResult mirrors the /api/check response.
type CheckResult struct {
	Status         string `json:"status"`
	ResponseTimeMS *int64 `json:"responseTimeMs"`
	UsedFallback   bool   `json:"usedFallback"`
	HTTPStatus     int    `json:"httpStatus,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("API returned %d: %s", resp.StatusCode, e.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) AddMonitor(ctx context.Context, name, rawURL string) (domain.Monitor, error) {
	var m domain.Monitor
	_, err := c.do(ctx, http.MethodPost, "/api/monitors", map[string]string{"name": name, "url": rawURL}, &m)
	return m, err
}

func (c *Client) Monitors(ctx context.Context) ([]domain.Monitor, error) {
	var ms []domain.Monitor
	_, err := c.do(ctx, http.MethodGet, "/api/monitors", nil, &ms)
	return ms, err
}

func (c *Client) RemoveMonitor(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/monitors/"+url.PathEscape(id), nil, nil)
	return err
}

// Subscribe reports whether the address was newly added.
func (c *Client) Subscribe(ctx context.Context, address string) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	_, err := c.do(ctx, http.MethodPost, "/api/subscribers", map[string]string{"address": address}, &out)
	return out.Created, err
}

func (c *Client) Unsubscribe(ctx context.Context, address string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/subscribers?address="+url.QueryEscape(address), nil, nil)
	return err
}

func (c *Client) Check(ctx context.Context, rawURL string) (CheckResult, error) {
	var res CheckResult
	_, err := c.do(ctx, http.MethodPost, "/api/check", map[string]string{"url": rawURL}, &res)
	return res, err
}
