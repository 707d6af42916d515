// Package generate holds the response generator interface and its
// backends. The generator only ever sees a prompt assembled here: the
// truth packet preamble first, then retrieved passages, then the
// operator's query. Generated text is advisory until the truth gate
// has verified it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/factgate/factgate/internal/retrieval"
	"github.com/factgate/factgate/internal/truth"
)

// ErrGeneration wraps backend failures.
var ErrGeneration = errors.New("generate: backend failure")

// Generator produces natural-language text for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, systemMsg, userMsg string) (string, error)
	Model() string
}

// systemInstruction is the fixed system message for all backends.
const systemInstruction = `You answer operator questions using ONLY the provided passages and authoritative facts.
If the passages do not cover the question, say so plainly.
Never invent file names, counts, or dates.`

// BuildPrompt assembles the user message: authoritative facts first,
// passages second, question last.
func BuildPrompt(pkt *truth.Packet, passages []retrieval.Passage, query string) (systemMsg, userMsg string) {
	var b strings.Builder
	b.WriteString(pkt.PromptPreamble())
	b.WriteString("\n")
	if len(passages) == 0 {
		b.WriteString("No supporting passages were found for this question.\n")
	} else {
		b.WriteString("PASSAGES:\n")
		for i, p := range passages {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, p.Provenance, p.Text)
		}
	}
	b.WriteString("\nQUESTION: ")
	b.WriteString(query)
	return systemInstruction, b.String()
}
