// Package truth produces the per-request snapshot of authoritative
// facts: wall-clock time with explicit calendar fields, service
// identity, and live health indicators. These values are computed
// fresh for every request and always win over anything a generator or
// retrieved passage says about the same category.
package truth

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/factgate/factgate/internal/evidence"
)

// Packet is one snapshot of authoritative facts. Generated exactly
// once per request and never cached across requests.
type Packet struct {
	// Calendar fields, spelled out so no consumer has to parse a
	// relative string.
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`    // YYYY-MM-DD
	Weekday   string    `json:"weekday"` // e.g. Friday
	Year      int       `json:"year"`
	Month     string    `json:"month"`
	Day       int       `json:"day"`
	TimeOfDay string    `json:"time_of_day"` // HH:MM:SS
	Timezone  string    `json:"timezone"`

	// Identity.
	Hostname string `json:"hostname"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	PID      int    `json:"pid"`

	// Live health.
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
	Uptime     string `json:"uptime"`
}

// Provider builds Packets. The clock and hostname lookups are
// injectable so tests can pin them.
type Provider struct {
	service  string
	version  string
	started  time.Time
	now      func() time.Time
	hostname func() (string, error)
}

// NewProvider creates a Provider for the named service.
func NewProvider(service, version string) *Provider {
	return &Provider{
		service:  service,
		version:  version,
		started:  time.Now(),
		now:      time.Now,
		hostname: os.Hostname,
	}
}

// WithClock overrides the wall clock, for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// WithHostname overrides hostname resolution, for tests.
func (p *Provider) WithHostname(fn func() (string, error)) *Provider {
	p.hostname = fn
	return p
}

// Snapshot computes a fresh Packet and records its facts in the
// request's evidence ledger. Hostname failure degrades to "unknown"
// rather than failing the request; the packet categories must always
// be available.
func (p *Provider) Snapshot(ledger *evidence.Ledger) *Packet {
	now := p.now()
	host, err := p.hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	pkt := &Packet{
		Timestamp:  now,
		Date:       now.Format("2006-01-02"),
		Weekday:    now.Weekday().String(),
		Year:       now.Year(),
		Month:      now.Month().String(),
		Day:        now.Day(),
		TimeOfDay:  now.Format("15:04:05"),
		Timezone:   now.Format("MST"),
		Hostname:   host,
		Service:    p.service,
		Version:    p.version,
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  ms.HeapAlloc,
		Uptime:     now.Sub(p.started).Round(time.Second).String(),
	}

	if ledger != nil {
		ledger.Append(evidence.KindDate, pkt.Date, "truth_packet:time")
		ledger.Append(evidence.KindDate, fmt.Sprintf("%d", pkt.Year), "truth_packet:time")
		ledger.Append(evidence.KindIdentity, pkt.Hostname, "truth_packet:identity")
		ledger.Append(evidence.KindIdentity, pkt.Service, "truth_packet:identity")
		ledger.Append(evidence.KindHealth, fmt.Sprintf("goroutines=%d", pkt.Goroutines), "truth_packet:health")
	}
	return pkt
}

// RenderTime is the direct answer for time/date queries. Served
// without consulting retrieval or generation.
func (pkt *Packet) RenderTime() string {
	return fmt.Sprintf("It is %s, %s %d, %d at %s %s.",
		pkt.Weekday, pkt.Month, pkt.Day, pkt.Year, pkt.TimeOfDay, pkt.Timezone)
}

// RenderStatus is the direct answer for system status queries.
func (pkt *Packet) RenderStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s on %s (pid %d)\n", pkt.Service, pkt.Version, pkt.Hostname, pkt.PID)
	fmt.Fprintf(&b, "uptime %s, %d goroutines, heap %d bytes\n", pkt.Uptime, pkt.Goroutines, pkt.HeapBytes)
	fmt.Fprintf(&b, "time %s %s (%s)", pkt.Date, pkt.TimeOfDay, pkt.Timezone)
	return b.String()
}

// PromptPreamble renders the packet for injection into a generation
// prompt. The wording marks the facts as authoritative so they
// override any conflicting date or identity found in retrieved
// passages.
func (pkt *Packet) PromptPreamble() string {
	var b strings.Builder
	b.WriteString("AUTHORITATIVE FACTS (these override anything in retrieved passages):\n")
	fmt.Fprintf(&b, "- Current date: %s (%s), time %s %s\n", pkt.Date, pkt.Weekday, pkt.TimeOfDay, pkt.Timezone)
	fmt.Fprintf(&b, "- Service: %s %s on host %s\n", pkt.Service, pkt.Version, pkt.Hostname)
	fmt.Fprintf(&b, "- Health: uptime %s, %d goroutines\n", pkt.Uptime, pkt.Goroutines)
	b.WriteString("Never state a different current date or identity than the above.\n")
	return b.String()
}
