// Package evidence maintains the per-request append-only record of
// verified facts. Every successful tool invocation and every truth
// packet field lands here; the truth gate verifies generated claims
// against it. A ledger lives and dies with one request.
package evidence

import (
	"path"
	"strings"
	"sync"
	"time"
)

// Kind classifies what a ledger entry attests.
type Kind string

const (
	KindFile     Kind = "file"     // a path that verifiably exists
	KindCount    Kind = "count"    // a tool-reported quantity
	KindDate     Kind = "date"     // the authoritative calendar date
	KindIdentity Kind = "identity" // host/service identity
	KindHealth   Kind = "health"   // live resource state
	KindVCS      Kind = "vcs"      // version-control state
	KindText     Kind = "text"     // literal tool output
)

// Entry is one verified fact with its provenance. Immutable once
// appended.
type Entry struct {
	Kind       Kind      `json:"kind"`
	Fact       string    `json:"fact"`
	Provenance string    `json:"provenance"`
	Recorded   time.Time `json:"recorded"`
}

// Ledger is the append-only evidence record for a single request.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: []Entry{}}
}

// Append records a fact. Entries are never removed or rewritten.
func (l *Ledger) Append(kind Kind, fact, provenance string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Kind:       kind,
		Fact:       fact,
		Provenance: provenance,
		Recorded:   time.Now().UTC(),
	})
}

// Entries returns a copy of all recorded entries in append order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sources returns the distinct provenance identifiers in first-seen
// order, for response attribution.
func (l *Ledger) Sources() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool, len(l.entries))
	var out []string
	for _, e := range l.entries {
		if !seen[e.Provenance] {
			seen[e.Provenance] = true
			out = append(out, e.Provenance)
		}
	}
	return out
}

// HasFile reports whether a path-like claim is backed by a file entry.
// Matching is by cleaned path equality, by suffix (the evidence path
// ends with the claim), or by basename when the claim is a bare
// filename.
func (l *Ledger) HasFile(claim string) bool {
	claim = path.Clean(strings.TrimSpace(claim))
	if claim == "" || claim == "." {
		return false
	}
	claimBase := path.Base(claim)
	bare := !strings.Contains(claim, "/")

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Kind != KindFile {
			continue
		}
		fact := path.Clean(e.Fact)
		if fact == claim {
			return true
		}
		if strings.HasSuffix(fact, "/"+claim) || strings.HasSuffix(claim, "/"+fact) {
			return true
		}
		if bare && path.Base(fact) == claimBase {
			return true
		}
	}
	return false
}

// HasFact reports whether an exact fact of the given kind is recorded.
func (l *Ledger) HasFact(kind Kind, fact string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Kind == kind && e.Fact == fact {
			return true
		}
	}
	return false
}
