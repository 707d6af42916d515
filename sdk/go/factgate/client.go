package factgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors mapped from transport status codes.
var (
	ErrUnauthorized = errors.New("factgate: authorization denied")
	ErrThrottled    = errors.New("factgate: rate limit exceeded")
	ErrUnavailable  = errors.New("factgate: service unavailable")
)

// ResponseError is one error surfaced in response metadata.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Metadata is the machine-readable part of a Response.
type Metadata struct {
	Mode          string          `json:"mode"`
	ToolsExecuted []string        `json:"tools_executed"`
	Model         *string         `json:"model"`
	Errors        []ResponseError `json:"errors"`
	Timestamp     string          `json:"timestamp"`
	Sources       []string        `json:"sources,omitempty"`
}

// Response is the service's reply to one command.
type Response struct {
	Status   string   `json:"status"`
	Result   string   `json:"result"`
	Metadata Metadata `json:"metadata"`
}

// Client calls a factgate service.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// New builds a client for the service at baseURL.
func New(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Command sends a free-text command.
func (c *Client) Command(ctx context.Context, text string) (*Response, error) {
	return c.post(ctx, map[string]any{"command": text})
}

// Tool sends a structured tool invocation.
func (c *Client) Tool(ctx context.Context, name string, args map[string]any) (*Response, error) {
	return c.post(ctx, map[string]any{
		"command": map[string]any{"tool": name, "args": args},
	})
}

func (c *Client) post(ctx context.Context, body map[string]any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("factgate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/command", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("factgate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("factgate: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("factgate: read response: %w", err)
	}

	switch httpResp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrThrottled
	case http.StatusServiceUnavailable:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("factgate: HTTP %d: %s", httpResp.StatusCode, bytes.TrimSpace(data))
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("factgate: decode response: %w", err)
	}
	return &resp, nil
}
