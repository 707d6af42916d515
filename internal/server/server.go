// Package server wires the request pipeline behind the HTTP surface:
// auth gate, rate limiter, intent router, tool executor, truth packet
// provider, retrieval + generation, truth gate, response assembly,
// audit. One endpoint, one response object per request.
package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/factgate/factgate/internal/audit"
	"github.com/factgate/factgate/internal/auth"
	"github.com/factgate/factgate/internal/config"
	"github.com/factgate/factgate/internal/gate"
	"github.com/factgate/factgate/internal/generate"
	"github.com/factgate/factgate/internal/logging"
	"github.com/factgate/factgate/internal/metrics"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/ratelimit"
	"github.com/factgate/factgate/internal/retrieval"
	"github.com/factgate/factgate/internal/route"
	"github.com/factgate/factgate/internal/tools"
	"github.com/factgate/factgate/internal/truth"
)

const maxBodyBytes = 1 << 20

// AuditSink records one entry per request. Satisfied by *audit.Log.
type AuditSink interface {
	Record(entry audit.Entry) error
}

// Deps are the collaborators injected at construction. Retriever,
// Generator and Audit may be nil; the pipeline degrades accordingly.
type Deps struct {
	Auth      *auth.Gate
	Limiter   *ratelimit.Limiter
	Router    *route.Router
	Registry  *tools.Registry
	Truth     *truth.Provider
	Retriever retrieval.Retriever
	Generator generate.Generator
	Gate      *gate.Gate
	Audit     AuditSink
	Logs      *logging.Loggers
	Metrics   *metrics.Metrics
}

// Server owns the pipeline state. Mutable pieces (limiter, registry,
// router) are swapped whole under the lock on hot reload; requests
// take a read snapshot.
type Server struct {
	mu   sync.RWMutex
	deps Deps
	now  func() time.Time
}

// New builds a Server.
func New(deps Deps) *Server {
	if deps.Logs == nil {
		deps.Logs = logging.NewNop()
	}
	if deps.Gate == nil {
		deps.Gate = gate.New()
	}
	return &Server{deps: deps, now: time.Now}
}

// snapshot returns the current dependency set.
func (s *Server) snapshot() Deps {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps
}

// ApplyConfig swaps the hot-reloadable pieces: routing table, rate
// limit numbers, and tool execution policy. Listen address and
// credentials deliberately require a restart.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	registry, err := tools.NewRegistry(tools.Policy{
		Root:              cfg.Tools.Root,
		RunCommandEnabled: cfg.Tools.RunCommand,
		Timeout:           cfg.Tools.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		store, err := buildStore(cfg)
		if err != nil {
			return err
		}
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			PerIP:             cfg.RateLimit.PerIP,
		}, store)
	}

	s.mu.Lock()
	old := s.deps.Limiter
	s.deps.Registry = registry
	s.deps.Limiter = limiter
	s.deps.Router = route.New(nil, cfg.Routing.Threshold)
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.deps.Logs.Ops.Info("config applied",
		zap.String("tool_root", cfg.Tools.Root),
		zap.Bool("run_command", cfg.Tools.RunCommand),
		zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute))
	return nil
}

func buildStore(cfg *config.Config) (ratelimit.Store, error) {
	if cfg.RateLimit.Store == "sqlite" {
		return ratelimit.NewSQLiteStore(cfg.RateLimit.SQLitePath, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}
	return ratelimit.NewMemoryStore(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst), nil
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/command", s.handleCommand)
	mux.HandleFunc("/healthz", s.handleHealthz)
	d := s.snapshot()
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics.Handler())
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d := s.snapshot()
	start := s.now()

	addr := remoteIP(r)

	// Auth precedes everything, including body reads.
	if err := d.Auth.Verify(auth.FromHeader(r.Header.Get("Authorization"))); err != nil {
		d.Logs.Security.Warn("authorization denied", zap.String("addr", addr))
		if d.Metrics != nil {
			d.Metrics.DenialsTotal.WithLabelValues(string(model.ErrKindAuthorization)).Inc()
		}
		s.writeDenial(w, d, http.StatusForbidden, model.ErrKindAuthorization, "authorization denied")
		return
	}

	if d.Limiter != nil {
		switch err := d.Limiter.Check(addr, start); {
		case errors.Is(err, model.ErrThrottled):
			d.Logs.Security.Warn("request throttled", zap.String("addr", addr))
			if d.Metrics != nil {
				d.Metrics.DenialsTotal.WithLabelValues(string(model.ErrKindThrottle)).Inc()
			}
			s.writeDenial(w, d, http.StatusTooManyRequests, model.ErrKindThrottle, "rate limit exceeded")
			return
		case errors.Is(err, model.ErrSecurityUnavailable):
			d.Logs.Security.Warn("rate limit store unavailable, failing closed",
				zap.String("addr", addr), zap.Error(err))
			if d.Metrics != nil {
				d.Metrics.DenialsTotal.WithLabelValues(string(model.ErrKindSecurity)).Inc()
			}
			s.writeDenial(w, d, http.StatusServiceUnavailable, model.ErrKindSecurity, "service unavailable")
			return
		case err != nil:
			s.writeDenial(w, d, http.StatusServiceUnavailable, model.ErrKindSecurity, "service unavailable")
			return
		}
	}

	body, err := readBody(r)
	if err != nil {
		s.writeDenial(w, d, http.StatusBadRequest, model.ErrKindInternal, "malformed request body")
		return
	}
	cmd, err := model.ParseCommand(body)
	if err != nil {
		s.writeDenial(w, d, http.StatusBadRequest, model.ErrKindInternal, "malformed command")
		return
	}

	resp := s.process(r.Context(), d, cmd)

	elapsed := s.now().Sub(start)
	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues(resp.Metadata.Mode, resp.Status).Inc()
		d.Metrics.RequestDuration.WithLabelValues(resp.Metadata.Mode).Observe(elapsed.Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDenial emits the terse security-classed response shape.
func (s *Server) writeDenial(w http.ResponseWriter, d Deps, code int, kind model.ErrorKind, msg string) {
	resp := model.NewResponse(model.RouteUnknown, s.now())
	resp.Status = model.StatusError
	resp.Result = msg
	resp.AddError(kind, msg)

	outcome := audit.OutcomeDenied
	if kind == model.ErrKindThrottle {
		outcome = audit.OutcomeThrottled
	}
	s.record(d, audit.Entry{
		Mode:    string(model.RouteUnknown),
		Outcome: outcome,
	})
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return readAllLimited(r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
