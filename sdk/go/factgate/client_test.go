package factgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/command" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["command"] != "ping" {
			t.Errorf("command = %v", body["command"])
		}
		json.NewEncoder(w).Encode(Response{
			Status: "success",
			Result: "pong",
			Metadata: Metadata{
				Mode:          "system_status",
				ToolsExecuted: []string{},
				Errors:        []ResponseError{},
			},
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "s3cret").Command(context.Background(), "ping")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if resp.Result != "pong" {
		t.Errorf("result = %q", resp.Result)
	}
	if resp.Metadata.Model != nil {
		t.Errorf("model = %v", resp.Metadata.Model)
	}
}

func TestToolEncodesStructuredCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Command struct {
				Tool string         `json:"tool"`
				Args map[string]any `json:"args"`
			} `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Command.Tool != "list_files" || body.Command.Args["path"] != "src" {
			t.Errorf("command = %+v", body.Command)
		}
		json.NewEncoder(w).Encode(Response{Status: "success"})
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "s").Tool(context.Background(), "list_files", map[string]any{"path": "src"}); err != nil {
		t.Fatalf("tool: %v", err)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		_, err := New(srv.URL, "s").Command(context.Background(), "ping")
		if !errors.Is(err, tc.want) {
			t.Errorf("code %d: err = %v, want %v", tc.code, err, tc.want)
		}
		srv.Close()
	}
}
