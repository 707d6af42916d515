package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/factgate/factgate/internal/evidence"
	"github.com/factgate/factgate/internal/retrieval"
	"github.com/factgate/factgate/internal/truth"
)

func testPacket() *truth.Packet {
	at := time.Date(2026, 8, 28, 14, 30, 5, 0, time.UTC)
	p := truth.NewProvider("factgate", "1.0.0").
		WithClock(func() time.Time { return at }).
		WithHostname(func() (string, error) { return "ops-box", nil })
	return p.Snapshot(evidence.NewLedger())
}

func TestBuildPromptOrdersSections(t *testing.T) {
	passages := []retrieval.Passage{
		{Text: "deploys run nightly", Provenance: "runbook.md"},
	}
	_, userMsg := BuildPrompt(testPacket(), passages, "how do deploys work")

	facts := strings.Index(userMsg, "AUTHORITATIVE FACTS")
	pass := strings.Index(userMsg, "PASSAGES:")
	question := strings.Index(userMsg, "QUESTION:")
	if facts < 0 || pass < 0 || question < 0 {
		t.Fatalf("prompt missing sections: %q", userMsg)
	}
	if !(facts < pass && pass < question) {
		t.Errorf("prompt sections out of order: facts=%d passages=%d question=%d", facts, pass, question)
	}
	if !strings.Contains(userMsg, "runbook.md") {
		t.Error("passage provenance missing from prompt")
	}
}

func TestBuildPromptNoPassages(t *testing.T) {
	_, userMsg := BuildPrompt(testPacket(), nil, "anything")
	if !strings.Contains(userMsg, "No supporting passages") {
		t.Errorf("prompt = %q", userMsg)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("authorization = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["model"] != "test-model" {
			t.Errorf("model = %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  answer text  "}},
			},
		})
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "key-1", "test-model", 100, time.Second)
	out, err := g.Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "answer text" {
		t.Errorf("out = %q, want trimmed content", out)
	}
}

func TestOpenAIGenerateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "", "m", 100, time.Second)
	if _, err := g.Generate(context.Background(), "s", "u"); !errors.Is(err, ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", err)
	}
}

func TestOpenAIGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "", "m", 100, time.Second)
	if _, err := g.Generate(context.Background(), "s", "u"); !errors.Is(err, ErrGeneration) {
		t.Errorf("err = %v, want ErrGeneration", err)
	}
}
