// Package gate verifies generated text against the request's evidence
// ledger before anything reaches the caller. It extracts checkable
// claim categories (file paths, tool-reported counts, calendar dates)
// and rewrites any claim the ledger cannot back into an explicit
// unverified marker. It never attempts truthfulness scoring of prose
// outside those categories.
package gate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/factgate/factgate/internal/evidence"
)

// Claim categories.
const (
	ClaimFile  = "file"
	ClaimCount = "count"
	ClaimDate  = "date"
)

// Intervention records one rewritten claim.
type Intervention struct {
	Category string `json:"category"`
	Claim    string `json:"claim"`
}

// Result is the gate's verdict for one text.
type Result struct {
	Text          string
	Interventions []Intervention
}

// Clean reports whether the gate passed the text unmodified.
func (r Result) Clean() bool {
	return len(r.Interventions) == 0
}

var (
	// Path-like tokens with a recognizable extension, optionally with
	// directory components. Word boundaries keep prose like
	// "e.g." out.
	fileClaimRE = regexp.MustCompile(`\b[\w./-]+\.(?:go|md|txt|ya?ml|json|toml|py|rs|sh|c|h|cfg|conf|log|sql|proto|csv)\b`)

	// "N files", "N entries", "N commits", "N matches", "N lines".
	countClaimRE = regexp.MustCompile(`\b(\d+)\s+(files?|entries|commits?|matches|lines?)\b`)

	// ISO calendar dates.
	dateClaimRE = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// Gate verifies text against a ledger.
type Gate struct{}

// New builds a Gate.
func New() *Gate {
	return &Gate{}
}

// Verify scans text and rewrites every claim the ledger cannot back.
// The returned text is always safe to surface; interventions list
// what was rewritten.
func (g *Gate) Verify(text string, ledger *evidence.Ledger) Result {
	res := Result{Text: text}

	res.Text = fileClaimRE.ReplaceAllStringFunc(res.Text, func(match string) string {
		if ledger.HasFile(match) {
			return match
		}
		res.Interventions = append(res.Interventions, Intervention{
			Category: ClaimFile, Claim: match,
		})
		return fmt.Sprintf("[unverified: %s]", match)
	})

	res.Text = countClaimRE.ReplaceAllStringFunc(res.Text, func(match string) string {
		if g.countBacked(match, ledger) {
			return match
		}
		res.Interventions = append(res.Interventions, Intervention{
			Category: ClaimCount, Claim: match,
		})
		return fmt.Sprintf("[unverified: %s]", match)
	})

	res.Text = dateClaimRE.ReplaceAllStringFunc(res.Text, func(match string) string {
		if ledger.HasFact(evidence.KindDate, match) {
			return match
		}
		res.Interventions = append(res.Interventions, Intervention{
			Category: ClaimDate, Claim: match,
		})
		return fmt.Sprintf("[unverified: %s]", match)
	})

	return res
}

// countBacked accepts a numeric claim when any count evidence entry
// carries the same number. Counts are tool-reported summaries like
// "list_files src: 3 entries"; matching on the number keeps the check
// conservative without re-parsing tool output.
func (g *Gate) countBacked(claim string, ledger *evidence.Ledger) bool {
	num := strings.Fields(claim)[0]
	for _, e := range ledger.Entries() {
		if e.Kind != evidence.KindCount && e.Kind != evidence.KindVCS {
			continue
		}
		for _, f := range strings.Fields(e.Fact) {
			if f == num {
				return true
			}
		}
	}
	return false
}
