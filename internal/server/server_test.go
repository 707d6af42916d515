package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/factgate/factgate/internal/audit"
	"github.com/factgate/factgate/internal/auth"
	"github.com/factgate/factgate/internal/gate"
	"github.com/factgate/factgate/internal/logging"
	"github.com/factgate/factgate/internal/metrics"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/ratelimit"
	"github.com/factgate/factgate/internal/retrieval"
	"github.com/factgate/factgate/internal/route"
	"github.com/factgate/factgate/internal/tools"
	"github.com/factgate/factgate/internal/truth"
)

const testSecret = "test-secret"

type fakeRetriever struct {
	passages []retrieval.Passage
	err      error
}

func (f fakeRetriever) Retrieve(ctx context.Context, query string) ([]retrieval.Passage, error) {
	return f.passages, f.err
}

type fakeGenerator struct {
	text string
	err  error
}

func (f fakeGenerator) Generate(ctx context.Context, systemMsg, userMsg string) (string, error) {
	return f.text, f.err
}
func (f fakeGenerator) Model() string { return "fake-model" }

type memoryAudit struct {
	entries []audit.Entry
}

func (m *memoryAudit) Record(e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func testServer(t *testing.T, mutate func(*Deps)) (*Server, *memoryAudit) {
	t.Helper()
	g, err := auth.NewGate(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	registry, err := tools.NewRegistry(tools.Policy{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	sink := &memoryAudit{}
	deps := Deps{
		Auth:     g,
		Router:   route.Default(),
		Registry: registry,
		Truth:    truth.NewProvider("factgate", "test"),
		Gate:     gate.New(),
		Audit:    sink,
		Logs:     logging.NewNop(),
		Metrics:  metrics.New(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps), sink
}

func post(t *testing.T, srv *Server, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/command", bytes.NewBufferString(body))
	req.RemoteAddr = "10.0.0.1:51234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) model.CommandResponse {
	t.Helper()
	var resp model.CommandResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestMissingCredentialDenied(t *testing.T) {
	srv, sink := testServer(t, nil)
	for _, token := range []string{"", "wrong-secret"} {
		w := post(t, srv, token, `{"command": "ping"}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("token %q: code = %d", token, w.Code)
		}
		resp := decode(t, w)
		if resp.Status != model.StatusError {
			t.Errorf("status = %q", resp.Status)
		}
		if strings.Contains(w.Body.String(), "secret") {
			t.Error("denial leaked internal detail")
		}
	}
	if len(sink.entries) != 2 || sink.entries[0].Outcome != audit.OutcomeDenied {
		t.Errorf("audit entries = %+v", sink.entries)
	}
}

func TestPingReturnsPong(t *testing.T) {
	srv, sink := testServer(t, nil)
	w := post(t, srv, testSecret, `{"command": "ping"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp.Status != model.StatusSuccess || resp.Result != "pong" {
		t.Errorf("resp = %+v", resp)
	}
	if len(sink.entries) != 1 || sink.entries[0].RuleID != "builtin.ping" {
		t.Errorf("audit = %+v", sink.entries)
	}
}

func TestTimeQueryUsesTruthPacket(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		at := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
		d.Truth = truth.NewProvider("factgate", "test").
			WithClock(func() time.Time { return at }).
			WithHostname(func() (string, error) { return "ops-box", nil })
		// A poisoned retriever that must never be consulted for time.
		d.Retriever = fakeRetriever{passages: []retrieval.Passage{
			{Text: "the year is 1999", Provenance: "stale.md"},
		}}
	})
	w := post(t, srv, testSecret, `{"command": "what time is it?"}`)
	resp := decode(t, w)
	if resp.Metadata.Mode != string(model.RouteTimeDirect) {
		t.Fatalf("mode = %q", resp.Metadata.Mode)
	}
	for _, want := range []string{"Friday", "August 28", "2026"} {
		if !strings.Contains(resp.Result, want) {
			t.Errorf("result %q missing %q", resp.Result, want)
		}
	}
	if strings.Contains(resp.Result, "1999") {
		t.Error("retrieval content leaked into a time answer")
	}
	if resp.Metadata.Model != nil {
		t.Error("model should be null for direct routes")
	}
}

func TestStructuredListFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"alpha.go", "beta.go"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	srv, sink := testServer(t, func(d *Deps) {
		registry, err := tools.NewRegistry(tools.Policy{Root: root})
		if err != nil {
			t.Fatal(err)
		}
		d.Registry = registry
	})

	w := post(t, srv, testSecret, `{"command": {"tool": "list_files", "args": {"path": "."}}}`)
	resp := decode(t, w)
	if resp.Status != model.StatusSuccess {
		t.Fatalf("resp = %+v", resp)
	}
	for _, want := range []string{"alpha.go", "beta.go"} {
		if !strings.Contains(resp.Result, want) {
			t.Errorf("result missing %q: %q", want, resp.Result)
		}
	}
	if len(resp.Metadata.ToolsExecuted) != 1 || resp.Metadata.ToolsExecuted[0] != "list_files" {
		t.Errorf("tools_executed = %v", resp.Metadata.ToolsExecuted)
	}
	entry := sink.entries[0]
	if len(entry.Tools) != 1 || entry.Tools[0].Name != "list_files" || !entry.Tools[0].Success {
		t.Errorf("audit tools = %+v", entry.Tools)
	}
	if !strings.Contains(entry.Tools[0].Args, `"path":"."`) {
		t.Errorf("audit args = %q", entry.Tools[0].Args)
	}
}

func TestRunCommandDeniedByPolicy(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := post(t, srv, testSecret, `{"command": {"tool": "run_command", "args": {"command": "rm -rf /"}}}`)
	resp := decode(t, w)
	if resp.Status != model.StatusError {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Metadata.Errors) == 0 || resp.Metadata.Errors[0].Kind != model.ErrKindToolValidation {
		t.Errorf("errors = %+v", resp.Metadata.Errors)
	}
	if !strings.Contains(resp.Metadata.Errors[0].Message, "disabled by policy") {
		t.Errorf("message = %q", resp.Metadata.Errors[0].Message)
	}
	if len(resp.Metadata.ToolsExecuted) != 0 {
		t.Errorf("denied tool listed as executed: %v", resp.Metadata.ToolsExecuted)
	}
}

func TestRejectedInvocationNotListedAsExecuted(t *testing.T) {
	srv, sink := testServer(t, nil)
	w := post(t, srv, testSecret, `{"command": {"tool": "list_files", "args": {"path": 42}}}`)
	resp := decode(t, w)
	if resp.Status != model.StatusError {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Metadata.ToolsExecuted) != 0 {
		t.Errorf("schema-rejected tool listed as executed: %v", resp.Metadata.ToolsExecuted)
	}
	if len(resp.Metadata.Errors) == 0 || resp.Metadata.Errors[0].Kind != model.ErrKindToolValidation {
		t.Errorf("errors = %+v", resp.Metadata.Errors)
	}
	// The audit record still carries the attempt.
	if len(sink.entries) != 1 || len(sink.entries[0].Tools) != 1 || sink.entries[0].Tools[0].Success {
		t.Errorf("audit = %+v", sink.entries)
	}
}

func TestUnverifiedClaimGated(t *testing.T) {
	srv, sink := testServer(t, func(d *Deps) {
		d.Retriever = fakeRetriever{}
		d.Generator = fakeGenerator{text: "The settings live in ghost_config.yaml on disk."}
	})
	w := post(t, srv, testSecret, `{"command": "describe the configuration layout"}`)
	resp := decode(t, w)
	if !strings.Contains(resp.Result, "[unverified: ghost_config.yaml]") {
		t.Errorf("result = %q", resp.Result)
	}
	found := false
	for _, e := range resp.Metadata.Errors {
		if e.Kind == model.ErrKindTruthGate {
			found = true
		}
	}
	if !found {
		t.Errorf("no truth gate error in metadata: %+v", resp.Metadata.Errors)
	}
	if resp.Metadata.Model == nil || *resp.Metadata.Model != "fake-model" {
		t.Errorf("model = %v", resp.Metadata.Model)
	}
	if len(sink.entries) != 1 || len(sink.entries[0].Interventions) != 1 {
		t.Errorf("audit interventions = %+v", sink.entries)
	}
}

func TestRetrievalFailureDegrades(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Retriever = fakeRetriever{err: retrieval.ErrUnavailable}
		d.Generator = fakeGenerator{text: "I cannot find supporting passages for that."}
	})
	w := post(t, srv, testSecret, `{"command": "summarize the incident response doc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	resp := decode(t, w)
	found := false
	for _, e := range resp.Metadata.Errors {
		if e.Kind == model.ErrKindRetrieval {
			found = true
		}
	}
	if !found {
		t.Errorf("retrieval degradation not surfaced: %+v", resp.Metadata.Errors)
	}
}

func TestNoGeneratorReturnsPassages(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Retriever = fakeRetriever{passages: []retrieval.Passage{
			{Text: "deploys run nightly", Provenance: "runbook.md"},
		}}
	})
	w := post(t, srv, testSecret, `{"command": "how do deploys work"}`)
	resp := decode(t, w)
	if !strings.Contains(resp.Result, "deploys run nightly") {
		t.Errorf("result = %q", resp.Result)
	}
	if resp.Metadata.Model != nil {
		t.Error("model should be null without a generator")
	}
}

func TestThrottling(t *testing.T) {
	store := ratelimit.NewMemoryStore(60, 2)
	t.Cleanup(func() { store.Close() })
	srv, sink := testServer(t, func(d *Deps) {
		d.Limiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: 60, Burst: 2, PerIP: true}, store)
	})

	codes := []int{}
	for i := 0; i < 4; i++ {
		w := post(t, srv, testSecret, `{"command": "ping"}`)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("in-budget requests = %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests && codes[3] != http.StatusTooManyRequests {
		t.Errorf("over-budget requests not throttled: %v", codes)
	}
	throttled := 0
	for _, e := range sink.entries {
		if e.Outcome == audit.OutcomeThrottled {
			throttled++
		}
	}
	if throttled == 0 {
		t.Error("no throttled audit entries")
	}
}

type failingStore struct{}

func (failingStore) Allow(string, time.Time) (bool, error) { return false, errors.New("down") }
func (failingStore) Close() error                          { return nil }

func TestStoreFailureFailsClosed(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Limiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: 60, PerIP: true}, failingStore{})
	})
	w := post(t, srv, testSecret, `{"command": "ping"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", w.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _ := testServer(t, nil)
	for _, body := range []string{"", "not json", `{"command": 42}`} {
		w := post(t, srv, testSecret, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: code = %d", body, w.Code)
		}
	}
}

func TestMisroutingRegression(t *testing.T) {
	srv, sink := testServer(t, func(d *Deps) {
		d.Retriever = fakeRetriever{}
		d.Generator = fakeGenerator{text: "No passages cover push headings."}
	})
	w := post(t, srv, testSecret, `{"command": "list the most recent push headings"}`)
	resp := decode(t, w)
	if resp.Metadata.Mode == string(model.RouteVersionControl) {
		t.Errorf("mis-routed to version_control: %+v", resp.Metadata)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("audit entries = %d", len(sink.entries))
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("code = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	post(t, srv, testSecret, `{"command": "ping"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "factgate_requests_total") {
		t.Error("request counter not exposed")
	}
}
