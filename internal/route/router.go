// Package route classifies commands into handling categories. The
// classifier is a declarative policy table scored per category, not a
// keyword-containment check: a word only counts when it plays the
// grammatical role the rule expects, which is what keeps "list the
// most recent push headings" out of the version-control category.
package route

import (
	"sort"
	"strings"

	"github.com/factgate/factgate/internal/model"
)

// Signal weights. Leading verbs dominate, bare keyword mentions barely
// register.
const (
	weightLeadingVerb = 0.55
	weightVerbObject  = 0.35
	weightPhrase      = 0.45
	weightKeyword     = 0.15
	keywordCap        = 0.30

	// DefaultThreshold is the score below which a free-text command
	// defaults to Retrieval.
	DefaultThreshold = 0.60
)

// Rule scores one category. Verbs count when they lead the command;
// Objects strengthen a matched verb; Phrases match anywhere; Keywords
// contribute weakly and are capped.
type Rule struct {
	ID       string
	Kind     model.RouteKind
	Exact    []string
	Verbs    []string
	Objects  []string
	Phrases  []string
	Keywords []string
}

// Router evaluates a policy table over normalized command text.
type Router struct {
	rules     []Rule
	threshold float64
}

// New builds a Router from a rule table. Nil rules mean the stock
// table; a zero threshold means DefaultThreshold.
func New(rules []Rule, threshold float64) *Router {
	if rules == nil {
		rules = defaultRules()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Router{rules: rules, threshold: threshold}
}

// Default returns the stock policy table at the default threshold.
func Default() *Router {
	return New(defaultRules(), DefaultThreshold)
}

func defaultRules() []Rule {
	return []Rule{
		{
			ID:    "builtin.ping",
			Kind:  model.RouteSystemStatus,
			Exact: []string{"ping"},
		},
		{
			ID:      "builtin.time",
			Kind:    model.RouteTimeDirect,
			Verbs:   []string{"what", "tell"},
			Objects: []string{"time", "date", "day", "today"},
			Phrases: []string{
				"what time is it", "what day is it", "what is the date",
				"what's the date", "current time", "current date", "today's date",
			},
			Keywords: []string{"time", "date", "today", "clock"},
		},
		{
			ID:      "builtin.status",
			Kind:    model.RouteSystemStatus,
			Verbs:   []string{"show", "check", "report"},
			Objects: []string{"status", "health", "uptime"},
			Phrases: []string{
				"system status", "health check", "are you up",
				"service status", "how long have you been running",
			},
			Keywords: []string{"status", "health", "uptime", "alive"},
		},
		{
			ID:      "builtin.vcs",
			Kind:    model.RouteVersionControl,
			Verbs:   []string{"show", "check", "diff", "push", "commit"},
			Objects: []string{"diff", "commit", "commits", "branch", "repo", "repository", "changes", "log"},
			Phrases: []string{
				"git status", "git diff", "git log", "uncommitted changes",
				"recent commits", "commit history", "working tree",
			},
			Keywords: []string{"git", "commit", "branch", "merge", "staged"},
		},
		{
			ID:      "builtin.tools",
			Kind:    model.RouteToolDirect,
			Verbs:   []string{"list", "read", "show", "search", "find", "grep", "cat", "open"},
			Objects: []string{"file", "files", "directory", "folder", "contents"},
			Phrases: []string{
				"list files", "list the files", "read the file", "show me the file",
				"search for", "what files are in", "contents of",
			},
			Keywords: []string{"file", "directory", "folder", "path"},
		},
	}
}

// normalize lowercases and tokenizes on whitespace and light
// punctuation.
func normalize(text string) (string, []string) {
	lower := strings.ToLower(strings.TrimSpace(text))
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '?', '!', '.', ',', ';', ':':
			return ' '
		}
		return r
	}, lower)
	return lower, strings.Fields(cleaned)
}

// score computes one rule's confidence for the tokenized command.
func (r Rule) score(lower string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	for _, e := range r.Exact {
		if lower == e {
			return 1.0
		}
	}

	var score float64
	verbMatched := false

	// A verb only counts in leading position (first two tokens, to
	// allow "please list ..." style prefixes).
	lead := tokens[:min(2, len(tokens))]
	for _, v := range r.Verbs {
		for _, tok := range lead {
			if tok == v {
				verbMatched = true
			}
		}
	}
	if verbMatched {
		score += weightLeadingVerb
		for _, obj := range r.Objects {
			if containsToken(tokens, obj) {
				score += weightVerbObject
				break
			}
		}
	}

	for _, ph := range r.Phrases {
		if strings.Contains(lower, ph) {
			score += weightPhrase
			break
		}
	}

	var kw float64
	for _, k := range r.Keywords {
		if containsToken(tokens, k) {
			kw += weightKeyword
		}
	}
	if kw > keywordCap {
		kw = keywordCap
	}
	score += kw

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// Decide classifies a command. Structured invocations are ToolDirect
// at full confidence; free text is scored against the policy table
// and falls back to Retrieval below the threshold or on a tie.
func (rt *Router) Decide(cmd *model.Command) model.RouteDecision {
	if cmd.Structured() {
		return model.RouteDecision{
			Kind:       model.RouteToolDirect,
			Confidence: 1.0,
			RuleID:     "structured",
		}
	}

	lower, tokens := normalize(cmd.Text)

	type scored struct {
		rule  Rule
		score float64
	}
	var results []scored
	for _, r := range rt.rules {
		if s := r.score(lower, tokens); s > 0 {
			results = append(results, scored{rule: r, score: s})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) == 0 {
		return model.RouteDecision{
			Kind:   model.RouteRetrieval,
			RuleID: "default.retrieval",
		}
	}
	if results[0].score < rt.threshold {
		return model.RouteDecision{
			Kind:       model.RouteRetrieval,
			Confidence: results[0].score,
			RuleID:     "default.retrieval",
		}
	}
	// A tie between categories is ambiguity; retrieval is the safe
	// default.
	if len(results) > 1 && results[0].score == results[1].score &&
		results[0].rule.Kind != results[1].rule.Kind {
		return model.RouteDecision{
			Kind:       model.RouteRetrieval,
			Confidence: results[0].score,
			RuleID:     "default.retrieval",
		}
	}

	return model.RouteDecision{
		Kind:       results[0].rule.Kind,
		Confidence: results[0].score,
		RuleID:     results[0].rule.ID,
	}
}
