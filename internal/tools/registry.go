// Package tools implements the allow-listed operation registry and
// executor. Every tool declares a JSON argument schema; arguments
// outside the schema fail validation before anything executes. Side
// effecting tools stay unreachable unless the policy flag explicitly
// enables them. Successful invocations append evidence the truth gate
// can verify claims against.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/factgate/factgate/internal/evidence"
	"github.com/factgate/factgate/internal/model"
)

// Default execution bounds.
const (
	DefaultTimeout = 5 * time.Second
	maxReadBytes   = 64 * 1024
	maxReadLines   = 500
	maxSearchHits  = 200
)

// ErrValidation marks argument or tool-name failures that precede
// execution.
var ErrValidation = errors.New("tools: validation failed")

// ErrDisabledByPolicy is returned when a side-effecting tool is
// invoked without the enabling flag.
var ErrDisabledByPolicy = errors.New("tools: disabled by policy")

// Policy bounds what the executor may touch.
type Policy struct {
	// Root confines every filesystem operation. Paths resolving
	// outside it are validation errors.
	Root string

	// RunCommandEnabled unlocks the side-effecting run_command tool.
	// Off by default.
	RunCommandEnabled bool

	// Timeout bounds each invocation.
	Timeout time.Duration
}

// runFunc executes a tool against validated arguments.
type runFunc func(ctx context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error)

// Tool is one registered operation.
type Tool struct {
	Name        string
	Description string

	// Idempotent read tools are retried once on failure;
	// side-effecting tools never are.
	Idempotent    bool
	SideEffecting bool

	schema *jsonschema.Schema
	run    runFunc
}

// Registry holds the fixed allow-list and executes against it.
type Registry struct {
	policy Policy
	tools  map[string]*Tool
}

// NewRegistry builds the registry with all builtin tools.
func NewRegistry(policy Policy) (*Registry, error) {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}
	r := &Registry{policy: policy, tools: make(map[string]*Tool)}
	for _, b := range builtins() {
		schema, err := jsonschema.CompileString(b.Name+".json", b.schemaJSON)
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %s: %w", b.Name, err)
		}
		tool := b.Tool
		tool.schema = schema
		r.tools[tool.Name] = &tool
	}
	return r, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns a registered tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Policy returns the registry's execution policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Execute validates and runs one tool invocation. The returned
// invocation record is always populated; Success and Error report the
// outcome. Validation failures and policy denials never reach the
// tool body.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, ledger *evidence.Ledger) model.ToolInvocation {
	inv := model.ToolInvocation{
		Tool:      name,
		Args:      args,
		StartedAt: time.Now().UTC(),
	}
	if args == nil {
		inv.Args = map[string]any{}
	}

	tool, ok := r.tools[name]
	if !ok {
		return r.fail(inv, fmt.Errorf("%w: unknown tool %q", ErrValidation, name))
	}
	if tool.SideEffecting && !r.policy.RunCommandEnabled {
		return r.fail(inv, fmt.Errorf("%w: %s", ErrDisabledByPolicy, name))
	}
	if err := tool.schema.Validate(inv.Args); err != nil {
		return r.fail(inv, fmt.Errorf("%w: %s: %v", ErrValidation, name, err))
	}

	result, err := r.runBounded(ctx, tool, inv.Args, ledger)
	if err != nil && tool.Idempotent {
		// One retry for idempotent reads; transient filesystem or
		// subprocess hiccups are common enough to absorb.
		result, err = r.runBounded(ctx, tool, inv.Args, ledger)
	}
	if err != nil {
		return r.fail(inv, err)
	}

	inv.Result = result
	inv.Success = true
	inv.CompletedAt = time.Now().UTC()
	return inv
}

func (r *Registry) runBounded(ctx context.Context, tool *Tool, args map[string]any, ledger *evidence.Ledger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	out, err := tool.run(ctx, r.policy, args, ledger)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("tools: %s timed out after %s", tool.Name, r.policy.Timeout)
		}
		return "", err
	}
	return out, nil
}

func (r *Registry) fail(inv model.ToolInvocation, err error) model.ToolInvocation {
	inv.Success = false
	inv.Error = err.Error()
	inv.ErrorKind = model.ErrKindToolExecution
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrDisabledByPolicy) {
		inv.ErrorKind = model.ErrKindToolValidation
	}
	inv.CompletedAt = time.Now().UTC()
	return inv
}

// builtinSpec couples a Tool with its raw schema text.
type builtinSpec struct {
	Tool
	schemaJSON string
}

func builtins() []builtinSpec {
	return []builtinSpec{
		{
			Tool: Tool{
				Name:        "list_files",
				Description: "List directory entries under the permitted root",
				Idempotent:  true,
				run:         runListFiles,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"],
				"additionalProperties": false
			}`,
		},
		{
			Tool: Tool{
				Name:        "read_file",
				Description: "Read a file, capped by size and line count",
				Idempotent:  true,
				run:         runReadFile,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"],
				"additionalProperties": false
			}`,
		},
		{
			Tool: Tool{
				Name:        "search_text",
				Description: "Search file contents under the permitted root",
				Idempotent:  true,
				run:         runSearchText,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "minLength": 1},
					"path": {"type": "string"}
				},
				"required": ["pattern"],
				"additionalProperties": false
			}`,
		},
		{
			Tool: Tool{
				Name:        "git_status",
				Description: "Read-only working tree status",
				Idempotent:  true,
				run:         runGitStatus,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {},
				"additionalProperties": false
			}`,
		},
		{
			Tool: Tool{
				Name:        "git_diff",
				Description: "Read-only diff of uncommitted changes",
				Idempotent:  true,
				run:         runGitDiff,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {"staged": {"type": "boolean"}},
				"additionalProperties": false
			}`,
		},
		{
			Tool: Tool{
				Name:        "git_log",
				Description: "Read-only recent commit log",
				Idempotent:  true,
				run:         runGitLog,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {"limit": {"type": "integer", "minimum": 1, "maximum": 50}},
				"additionalProperties": false
			}`,
		},
		{
			Tool: Tool{
				Name:          "run_command",
				Description:   "Execute an arbitrary shell command (requires explicit policy enablement)",
				SideEffecting: true,
				run:           runCommand,
			},
			schemaJSON: `{
				"type": "object",
				"properties": {"command": {"type": "string", "minLength": 1}},
				"required": ["command"],
				"additionalProperties": false
			}`,
		},
	}
}
