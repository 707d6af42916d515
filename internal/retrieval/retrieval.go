// Package retrieval defines the interface to the external passage
// index. The core treats it as a black box: ordered passages with
// provenance in, no ranking opinions of its own. Collaborator failure
// degrades the request to a "no supporting passages" state instead of
// failing it.
package retrieval

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

// ErrUnavailable means the collaborator could not be reached or
// answered malformed. Callers degrade, they do not fail the request.
var ErrUnavailable = errors.New("retrieval: collaborator unavailable")

// Passage is one retrieved snippet with its provenance.
type Passage struct {
	Text       string `json:"text"`
	Provenance string `json:"provenance"`
}

// Retriever answers free-text queries with ordered passages.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

// HTTPRetriever talks to a passage index over HTTP. The endpoint
// accepts {"query": ..., "limit": ...} and returns
// {"passages": [{"text": ..., "provenance": ...}]}.
type HTTPRetriever struct {
	url    string
	apiKey string
	limit  int
	client *http.Client
}

// NewHTTPRetriever builds a retriever for the given endpoint. An
// empty apiKey sends no Authorization header.
func NewHTTPRetriever(url, apiKey string, limit int, timeout time.Duration) *HTTPRetriever {
	if limit <= 0 {
		limit = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRetriever{
		url:    url,
		apiKey: apiKey,
		limit:  limit,
		client: &http.Client{Timeout: timeout},
	}
}

type retrieveRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type retrieveResponse struct {
	Passages []Passage `json:"passages"`
}

// Retrieve queries the index. Any transport or decode failure maps to
// ErrUnavailable.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	body, err := json.Marshal(retrieveRequest{Query: query, Limit: r.limit})
	if err != nil {
		return nil, fmt.Errorf("retrieval: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retrieval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(out.Passages) > r.limit {
		out.Passages = out.Passages[:r.limit]
	}
	return out.Passages, nil
}
