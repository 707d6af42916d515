package mcpserver

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// --- Input/Output types ---

// ListFilesInput defines parameters for the factgate_list_files tool.
type ListFilesInput struct {
	Path string `json:"path" jsonschema:"directory path relative to the permitted root"`
}

// ReadFileInput defines parameters for the factgate_read_file tool.
type ReadFileInput struct {
	Path string `json:"path" jsonschema:"file path relative to the permitted root"`
}

// SearchTextInput defines parameters for the factgate_search_text tool.
type SearchTextInput struct {
	Pattern string `json:"pattern" jsonschema:"literal text to search for"`
	Path    string `json:"path,omitempty" jsonschema:"subdirectory to search, defaults to the root"`
}

// GitStatusInput defines parameters for the factgate_git_status tool.
type GitStatusInput struct{}

// StatusInput defines parameters for the factgate_status tool.
type StatusInput struct{}

// ToolOutput is the shared result shape for registry-backed tools.
type ToolOutput struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusOutput is the factgate_status result.
type StatusOutput struct {
	Status string `json:"status"`
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *Server) handleListFiles(ctx context.Context, req *mcpsdk.CallToolRequest, input ListFilesInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	inv := s.execute(ctx, "list_files", map[string]any{"path": input.Path})
	if !inv.Success {
		return &mcpsdk.CallToolResult{IsError: true}, ToolOutput{Error: inv.Error}, nil
	}
	return nil, ToolOutput{Result: inv.Result}, nil
}

func (s *Server) handleReadFile(ctx context.Context, req *mcpsdk.CallToolRequest, input ReadFileInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	inv := s.execute(ctx, "read_file", map[string]any{"path": input.Path})
	if !inv.Success {
		return &mcpsdk.CallToolResult{IsError: true}, ToolOutput{Error: inv.Error}, nil
	}
	return nil, ToolOutput{Result: inv.Result}, nil
}

func (s *Server) handleSearchText(ctx context.Context, req *mcpsdk.CallToolRequest, input SearchTextInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	args := map[string]any{"pattern": input.Pattern}
	if input.Path != "" {
		args["path"] = input.Path
	}
	inv := s.execute(ctx, "search_text", args)
	if !inv.Success {
		return &mcpsdk.CallToolResult{IsError: true}, ToolOutput{Error: inv.Error}, nil
	}
	return nil, ToolOutput{Result: inv.Result}, nil
}

func (s *Server) handleGitStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input GitStatusInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	inv := s.execute(ctx, "git_status", map[string]any{})
	if !inv.Success {
		return &mcpsdk.CallToolResult{IsError: true}, ToolOutput{Error: inv.Error}, nil
	}
	return nil, ToolOutput{Result: inv.Result}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	pkt := s.truth.Snapshot(nil)
	return nil, StatusOutput{Status: pkt.RenderStatus()}, nil
}
