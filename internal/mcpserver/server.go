// Package mcpserver exposes the allow-listed tools over MCP stdio for
// local agent clients. Every call flows through the same registry
// validation, evidence recording, and audit path as the HTTP surface.
package mcpserver

import (
	"context"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/factgate/factgate/internal/audit"
	"github.com/factgate/factgate/internal/evidence"
	"github.com/factgate/factgate/internal/logging"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/tools"
	"github.com/factgate/factgate/internal/truth"
)

// Config holds MCP server configuration.
type Config struct {
	Registry *tools.Registry
	Truth    *truth.Provider
	Audit    *audit.Log
	Logs     *logging.Loggers
	Version  string
}

// Server wraps the MCP SDK server around the tool registry.
type Server struct {
	mcpServer *mcpsdk.Server
	registry  *tools.Registry
	truth     *truth.Provider
	auditLog  *audit.Log
	logs      *logging.Loggers
	mu        sync.Mutex
}

// New creates an MCP server exposing the registry tools.
func New(cfg Config) *Server {
	if cfg.Logs == nil {
		cfg.Logs = logging.NewNop()
	}
	s := &Server{
		registry: cfg.Registry,
		truth:    cfg.Truth,
		auditLog: cfg.Audit,
		logs:     cfg.Logs,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "factgate",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit log if configured.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "factgate_list_files",
		Description: "List directory entries under the permitted root.",
	}, s.handleListFiles)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "factgate_read_file",
		Description: "Read a file under the permitted root, capped by size and line count.",
	}, s.handleReadFile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "factgate_search_text",
		Description: "Search file contents under the permitted root.",
	}, s.handleSearchText)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "factgate_git_status",
		Description: "Read-only working tree status of the permitted root.",
	}, s.handleGitStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "factgate_status",
		Description: "Service identity, time, and health snapshot.",
	}, s.handleStatus)
}

// execute runs a registry tool and records the audit entry. The MCP
// surface shares the HTTP pipeline's validation and evidence rules.
func (s *Server) execute(ctx context.Context, name string, args map[string]any) model.ToolInvocation {
	ledger := evidence.NewLedger()
	inv := s.registry.Execute(ctx, name, args, ledger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditLog != nil {
		outcome := audit.OutcomeSuccess
		if !inv.Success {
			outcome = audit.OutcomeError
		}
		argsJSON := "{}"
		if b, err := jsonMarshal(inv.Args); err == nil {
			argsJSON = string(b)
		}
		err := s.auditLog.Record(audit.Entry{
			RequestID:  "mcp",
			Mode:       string(model.RouteToolDirect),
			RuleID:     "mcp." + name,
			Confidence: 1.0,
			Tools: []audit.ToolRecord{
				{Name: name, Args: argsJSON, Success: inv.Success},
			},
			Outcome: outcome,
		})
		if err != nil {
			// Non-fatal to the tool call, same as the HTTP path.
			s.logs.Ops.Error("audit write failed", zap.Error(err))
		}
	}
	return inv
}
