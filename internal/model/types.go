package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RouteKind is the routing category selected for a command.
type RouteKind string

const (
	RouteToolDirect     RouteKind = "tool_direct"
	RouteTimeDirect     RouteKind = "time"
	RouteVersionControl RouteKind = "version_control"
	RouteRetrieval      RouteKind = "retrieval"
	RouteSystemStatus   RouteKind = "system_status"
	RouteUnknown        RouteKind = "unknown"
)

// RouteDecision is the classifier output for one command.
// Confidence is in [0,1]; RuleID names the matched routing rule.
type RouteDecision struct {
	Kind       RouteKind `json:"kind"`
	Confidence float64   `json:"confidence"`
	RuleID     string    `json:"rule_id"`
}

// Command is one operator request, either free text or a structured
// tool invocation. Immutable once parsed.
type Command struct {
	Text string
	Tool string
	Args map[string]any
}

// Structured reports whether the command is an explicit tool invocation.
func (c *Command) Structured() bool {
	return c.Tool != ""
}

// structuredCommand is the wire shape of a {tool, args} command.
type structuredCommand struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// commandEnvelope is the request body accepted by the command endpoint.
type commandEnvelope struct {
	Command json.RawMessage `json:"command"`
}

// ParseCommand decodes a request body into a Command. The "command"
// field may be a JSON string (free text) or a {tool, args} object.
func ParseCommand(body []byte) (*Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("model: parse request body: %w", err)
	}
	if len(env.Command) == 0 {
		return nil, fmt.Errorf("model: missing command field")
	}

	var text string
	if err := json.Unmarshal(env.Command, &text); err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("model: empty command text")
		}
		return &Command{Text: text}, nil
	}

	var sc structuredCommand
	if err := json.Unmarshal(env.Command, &sc); err != nil {
		return nil, fmt.Errorf("model: command must be a string or a {tool, args} object: %w", err)
	}
	if strings.TrimSpace(sc.Tool) == "" {
		return nil, fmt.Errorf("model: structured command requires a tool name")
	}
	if sc.Args == nil {
		sc.Args = map[string]any{}
	}
	return &Command{Tool: sc.Tool, Args: sc.Args}, nil
}

// ToolInvocation records one executed tool call. Never mutated after
// the executor returns it. ErrorKind is set by the executor on
// failure so callers classify outcomes without parsing Error text.
type ToolInvocation struct {
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Result      string         `json:"result"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
}

// ResponseError is one error surfaced in response metadata.
type ResponseError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Metadata carries the machine-readable part of a CommandResponse.
// ToolsExecuted is always non-nil so an empty list serializes as [],
// and Model is a pointer so "no generator ran" serializes as null.
type Metadata struct {
	Mode          string          `json:"mode"`
	ToolsExecuted []string        `json:"tools_executed"`
	Model         *string         `json:"model"`
	Errors        []ResponseError `json:"errors"`
	Timestamp     string          `json:"timestamp"`
	Sources       []string        `json:"sources,omitempty"`
}

// CommandResponse is the single outbound object per request. No
// metadata is ever appended to the Result text.
type CommandResponse struct {
	Status   string   `json:"status"`
	Result   string   `json:"result"`
	Metadata Metadata `json:"metadata"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NewResponse builds a response with initialized metadata slices so
// JSON round-trips preserve empty collections.
func NewResponse(mode RouteKind, now time.Time) *CommandResponse {
	return &CommandResponse{
		Status: StatusSuccess,
		Metadata: Metadata{
			Mode:          string(mode),
			ToolsExecuted: []string{},
			Errors:        []ResponseError{},
			Timestamp:     now.UTC().Format(time.RFC3339),
		},
	}
}

// AddError appends a metadata error. Callers decide whether the
// response status flips; partial results stay "success".
func (r *CommandResponse) AddError(kind ErrorKind, msg string) {
	r.Metadata.Errors = append(r.Metadata.Errors, ResponseError{Kind: kind, Message: msg})
}
