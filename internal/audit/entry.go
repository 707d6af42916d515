package audit

// ToolRecord is one tool invocation as recorded in an audit entry.
// Args is the pre-marshaled JSON of the invocation arguments; keeping
// it a string (not a map) guarantees deterministic field order when
// the entry itself is marshaled for hashing.
type ToolRecord struct {
	Name    string `json:"name"`
	Args    string `json:"args"`
	Success bool   `json:"success"`
}

// Entry is one line in the hash-chained JSONL audit log: the route
// decision, every tool invocation, and any truth gate interventions
// for a single request. All fields are structs or scalars so
// json.Marshal produces a stable byte sequence for chaining.
type Entry struct {
	Timestamp     string       `json:"ts"`
	RequestID     string       `json:"request_id"`
	Mode          string       `json:"mode"`
	RuleID        string       `json:"rule_id"`
	Confidence    float64      `json:"confidence"`
	Tools         []ToolRecord `json:"tools"`
	Interventions []string     `json:"gate_interventions"`
	Outcome       string       `json:"outcome"`
	PrevHash      string       `json:"prev_hash"`
}

// Outcome values.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeDenied    = "denied"
	OutcomeThrottled = "throttled"
)
