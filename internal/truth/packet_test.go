package truth

import (
	"strings"
	"testing"
	"time"

	"github.com/factgate/factgate/internal/evidence"
)

func fixedProvider() *Provider {
	at := time.Date(2026, 8, 28, 14, 30, 5, 0, time.UTC)
	return NewProvider("factgate", "1.0.0").
		WithClock(func() time.Time { return at }).
		WithHostname(func() (string, error) { return "ops-box", nil })
}

func TestSnapshotCalendarFields(t *testing.T) {
	pkt := fixedProvider().Snapshot(nil)

	if pkt.Date != "2026-08-28" {
		t.Errorf("date = %q", pkt.Date)
	}
	if pkt.Weekday != "Friday" {
		t.Errorf("weekday = %q", pkt.Weekday)
	}
	if pkt.Year != 2026 || pkt.Month != "August" || pkt.Day != 28 {
		t.Errorf("calendar = %d %s %d", pkt.Year, pkt.Month, pkt.Day)
	}
	if pkt.TimeOfDay != "14:30:05" {
		t.Errorf("time of day = %q", pkt.TimeOfDay)
	}
	if pkt.Hostname != "ops-box" {
		t.Errorf("hostname = %q", pkt.Hostname)
	}
}

func TestSnapshotRecordsEvidence(t *testing.T) {
	ledger := evidence.NewLedger()
	fixedProvider().Snapshot(ledger)

	if !ledger.HasFact(evidence.KindDate, "2026-08-28") {
		t.Error("date fact not recorded")
	}
	if !ledger.HasFact(evidence.KindIdentity, "ops-box") {
		t.Error("hostname fact not recorded")
	}
	if !ledger.HasFact(evidence.KindIdentity, "factgate") {
		t.Error("service fact not recorded")
	}
}

func TestSnapshotHostnameFailureDegrades(t *testing.T) {
	p := fixedProvider().WithHostname(func() (string, error) {
		return "", &time.ParseError{}
	})
	pkt := p.Snapshot(nil)
	if pkt.Hostname != "unknown" {
		t.Errorf("hostname = %q, want unknown", pkt.Hostname)
	}
}

func TestRenderTimeContainsCalendarFields(t *testing.T) {
	out := fixedProvider().Snapshot(nil).RenderTime()
	for _, want := range []string{"Friday", "August 28", "2026", "14:30:05"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderTime() = %q, missing %q", out, want)
		}
	}
}

func TestRenderStatusContainsIdentity(t *testing.T) {
	out := fixedProvider().Snapshot(nil).RenderStatus()
	for _, want := range []string{"factgate 1.0.0", "ops-box", "uptime", "goroutines"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderStatus() = %q, missing %q", out, want)
		}
	}
}

func TestPromptPreambleMarksAuthority(t *testing.T) {
	out := fixedProvider().Snapshot(nil).PromptPreamble()
	if !strings.Contains(out, "AUTHORITATIVE") {
		t.Errorf("preamble missing authority marker: %q", out)
	}
	if !strings.Contains(out, "2026-08-28") {
		t.Errorf("preamble missing date: %q", out)
	}
}

func TestSnapshotFreshPerCall(t *testing.T) {
	at := time.Date(2026, 8, 28, 14, 30, 5, 0, time.UTC)
	p := NewProvider("factgate", "1.0.0").
		WithClock(func() time.Time {
			at = at.Add(time.Second)
			return at
		}).
		WithHostname(func() (string, error) { return "ops-box", nil })

	first := p.Snapshot(nil)
	second := p.Snapshot(nil)
	if first.TimeOfDay == second.TimeOfDay {
		t.Error("consecutive snapshots returned the same clock reading")
	}
}
