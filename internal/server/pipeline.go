package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/factgate/factgate/internal/audit"
	"github.com/factgate/factgate/internal/evidence"
	"github.com/factgate/factgate/internal/generate"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/retrieval"
	"github.com/factgate/factgate/internal/truth"
)

// process runs an authenticated, rate-checked command through the
// pipeline: route, execute or generate, gate, assemble, audit.
func (s *Server) process(ctx context.Context, d Deps, cmd *model.Command) *model.CommandResponse {
	requestID := uuid.NewString()
	ledger := evidence.NewLedger()
	decision := d.Router.Decide(cmd)
	packet := d.Truth.Snapshot(ledger)

	resp := model.NewResponse(decision.Kind, s.now())
	var invocations []model.ToolInvocation
	var interventions []string

	switch {
	case decision.RuleID == "builtin.ping":
		resp.Result = "pong"

	case decision.Kind == model.RouteTimeDirect:
		resp.Result = packet.RenderTime()

	case decision.Kind == model.RouteSystemStatus:
		resp.Result = packet.RenderStatus()

	case decision.Kind == model.RouteToolDirect && cmd.Structured():
		invocations = s.runTool(ctx, d, cmd.Tool, cmd.Args, ledger, resp)

	case decision.Kind == model.RouteToolDirect:
		name, args, ok := inferToolCall(cmd.Text)
		if !ok {
			// No safe argument mapping; answer from retrieval instead
			// of guessing a filesystem operation.
			interventions = s.runRetrieval(ctx, d, cmd.Text, packet, ledger, resp)
		} else {
			invocations = s.runTool(ctx, d, name, args, ledger, resp)
		}

	case decision.Kind == model.RouteVersionControl:
		name, args := inferGitCall(cmd.Text)
		invocations = s.runTool(ctx, d, name, args, ledger, resp)

	default:
		interventions = s.runRetrieval(ctx, d, cmd.Text, packet, ledger, resp)
	}

	for _, src := range ledger.Sources() {
		resp.Metadata.Sources = appendUnique(resp.Metadata.Sources, src)
	}
	if len(resp.Metadata.Errors) > 0 && resp.Result == "" {
		resp.Status = model.StatusError
	}

	s.writeAudit(d, requestID, decision, invocations, interventions, resp)
	return resp
}

// runTool executes one registry tool and folds the outcome into the
// response.
func (s *Server) runTool(ctx context.Context, d Deps, name string, args map[string]any, ledger *evidence.Ledger, resp *model.CommandResponse) []model.ToolInvocation {
	inv := d.Registry.Execute(ctx, name, args, ledger)
	if d.Metrics != nil {
		d.Metrics.ToolInvocations.WithLabelValues(name, fmt.Sprintf("%t", inv.Success)).Inc()
	}
	if inv.Success {
		// Rejected and denied invocations never ran, so they do not
		// appear in the executed list; the audit record keeps them.
		resp.Metadata.ToolsExecuted = append(resp.Metadata.ToolsExecuted, name)
		resp.Result = inv.Result
	} else {
		kind := inv.ErrorKind
		if kind == "" {
			kind = model.ErrKindToolExecution
		}
		resp.AddError(kind, inv.Error)
		resp.Status = model.StatusError
	}
	return []model.ToolInvocation{inv}
}

// runRetrieval answers free text through the retrieval collaborator
// and the generator, then gates the generated text. Returns the gate
// interventions for the audit record.
func (s *Server) runRetrieval(ctx context.Context, d Deps, query string, packet *truth.Packet, ledger *evidence.Ledger, resp *model.CommandResponse) []string {
	var passages []retrieval.Passage
	if d.Retriever != nil {
		var err error
		passages, err = d.Retriever.Retrieve(ctx, query)
		if err != nil {
			d.Logs.Ops.Warn("retrieval degraded", zap.Error(err))
			resp.AddError(model.ErrKindRetrieval, "no supporting passages found")
			passages = nil
		}
	}

	if d.Generator == nil {
		resp.Result = assembleWithoutGenerator(passages)
		return nil
	}

	systemMsg, userMsg := generate.BuildPrompt(packet, passages, query)
	text, err := d.Generator.Generate(ctx, systemMsg, userMsg)
	if err != nil {
		d.Logs.Ops.Warn("generation failed", zap.Error(err))
		resp.AddError(model.ErrKindGeneration, "generation unavailable")
		resp.Result = assembleWithoutGenerator(passages)
		return nil
	}
	modelID := d.Generator.Model()
	resp.Metadata.Model = &modelID

	gated := d.Gate.Verify(text, ledger)
	resp.Result = gated.Text

	var interventions []string
	for _, iv := range gated.Interventions {
		interventions = append(interventions, iv.Category+": "+iv.Claim)
		resp.AddError(model.ErrKindTruthGate,
			fmt.Sprintf("unverified %s claim rewritten: %s", iv.Category, iv.Claim))
		if d.Metrics != nil {
			d.Metrics.GateInterventions.Inc()
		}
	}

	for _, p := range passages {
		resp.Metadata.Sources = appendUnique(resp.Metadata.Sources, p.Provenance)
	}
	return interventions
}

// assembleWithoutGenerator renders passages verbatim when no
// generator is available. Literal passages need no gating.
func assembleWithoutGenerator(passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return "no supporting passages found"
	}
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, p.Provenance, p.Text)
	}
	return b.String()
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func (s *Server) writeAudit(d Deps, requestID string, decision model.RouteDecision, invocations []model.ToolInvocation, interventions []string, resp *model.CommandResponse) {
	if d.Audit == nil {
		return
	}
	records := make([]audit.ToolRecord, 0, len(invocations))
	for _, inv := range invocations {
		argsJSON, err := json.Marshal(inv.Args)
		if err != nil {
			argsJSON = []byte("{}")
		}
		records = append(records, audit.ToolRecord{
			Name:    inv.Tool,
			Args:    string(argsJSON),
			Success: inv.Success,
		})
	}
	outcome := audit.OutcomeSuccess
	if resp.Status == model.StatusError {
		outcome = audit.OutcomeError
	}
	entry := audit.Entry{
		RequestID:     requestID,
		Mode:          resp.Metadata.Mode,
		RuleID:        decision.RuleID,
		Confidence:    decision.Confidence,
		Tools:         records,
		Interventions: interventions,
		Outcome:       outcome,
	}
	s.record(d, entry)
}

// record writes an audit entry. Failures go to the operational log
// only; they never change the response.
func (s *Server) record(d Deps, entry audit.Entry) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Record(entry); err != nil {
		d.Logs.Ops.Error("audit write failed", zap.Error(err))
		if d.Metrics != nil {
			d.Metrics.AuditWriteErrors.Inc()
		}
	}
}

// inferToolCall maps free text routed to the tool category onto a
// concrete registry call. Only unambiguous mappings are attempted.
func inferToolCall(text string) (string, map[string]any, bool) {
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return "", nil, false
	}

	if strings.Contains(lower, "search for ") {
		pattern := extractQuoted(text)
		if pattern == "" {
			after := lower[strings.Index(lower, "search for ")+len("search for "):]
			pattern = strings.Fields(after + " ")[0]
		}
		if pattern != "" {
			return "search_text", map[string]any{"pattern": pattern}, true
		}
		return "", nil, false
	}

	switch tokens[0] {
	case "list", "show":
		if path := trailingPath(tokens); path != "" {
			return "list_files", map[string]any{"path": path}, true
		}
		if strings.Contains(lower, "files") {
			return "list_files", map[string]any{"path": "."}, true
		}
	case "read", "cat", "open":
		if path := trailingPath(tokens); path != "" {
			return "read_file", map[string]any{"path": path}, true
		}
	}
	return "", nil, false
}

// trailingPath returns the last token that looks like a path: it
// contains a slash or a dot-extension.
func trailingPath(tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		t := strings.Trim(tokens[i], `"'`)
		if strings.Contains(t, "/") || (strings.Contains(t, ".") && !strings.HasSuffix(t, ".")) {
			return t
		}
	}
	return ""
}

func extractQuoted(text string) string {
	for _, q := range []string{`"`, `'`} {
		if i := strings.Index(text, q); i >= 0 {
			if j := strings.Index(text[i+1:], q); j > 0 {
				return text[i+1 : i+1+j]
			}
		}
	}
	return ""
}

// inferGitCall picks the read-only git tool matching the command.
func inferGitCall(text string) (string, map[string]any) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "diff") || strings.Contains(lower, "changes"):
		return "git_diff", map[string]any{}
	case strings.Contains(lower, "log") || strings.Contains(lower, "commit") || strings.Contains(lower, "history"):
		return "git_log", map[string]any{}
	default:
		return "git_status", map[string]any{}
	}
}

func readAllLimited(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("server: read body: %w", err)
	}
	return body, nil
}
