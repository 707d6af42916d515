// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters and histograms on a private
// registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DenialsTotal      *prometheus.CounterVec
	ToolInvocations   *prometheus.CounterVec
	GateInterventions prometheus.Counter
	AuditWriteErrors  prometheus.Counter
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factgate_requests_total",
			Help: "Commands processed, by route mode and outcome.",
		}, []string{"mode", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factgate_request_duration_seconds",
			Help:    "End-to-end command handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		DenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factgate_denials_total",
			Help: "Security denials, by reason (authorization, throttle, security_unavailable).",
		}, []string{"reason"}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factgate_tool_invocations_total",
			Help: "Tool executions, by tool name and success.",
		}, []string{"tool", "success"}),
		GateInterventions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factgate_gate_interventions_total",
			Help: "Generated claims rewritten by the truth gate.",
		}),
		AuditWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factgate_audit_write_errors_total",
			Help: "Audit log write failures (non-fatal to requests).",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DenialsTotal,
		m.ToolInvocations,
		m.GateInterventions,
		m.AuditWriteErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
