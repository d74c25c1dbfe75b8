// Package mcp serves the assistant's tools over the Model Context Protocol.
//
// The server exposes the same six tools the speech model can call, backed by
// the same executor, so an MCP client (an IDE, an agent, the MCP inspector)
// can drive the assistant's side effects directly. It is mounted at /mcp using
// the SDK's Streamable HTTP handler.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/jarvis/internal/tools"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// Implementation name reported to MCP clients.
const serverName = "jarvis-tools"

// Executor runs a decoded tool call. *tools.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, call tools.Call) map[string]any
}

var _ Executor = (*tools.Dispatcher)(nil)

// NewServer returns an MCP server with one tool per declaration in defs.
func NewServer(exec Executor, version string, defs []s2s.ToolDefinition) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)
	for _, def := range defs {
		srv.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, handler(exec, def.Name))
	}
	return srv
}

// Handler returns the Streamable HTTP handler for srv.
func Handler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

// handler adapts one tool to the SDK. Argument errors are reported as tool
// errors, not protocol errors, so the client sees the message.
func handler(exec Executor, name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult(fmt.Errorf("%w: %v", tools.ErrInvalidArgs, err)), nil
			}
		}
		call, err := tools.Decode(s2s.ToolCall{Name: name, Args: args})
		if err != nil {
			return errorResult(err), nil
		}

		slog.Debug("mcp: tool call", "tool", name)
		resp := exec.Execute(ctx, call)
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("mcp: encode %s result: %w", name, err)
		}
		return &mcpsdk.CallToolResult{
			Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
			StructuredContent: resp,
			IsError:           resp["status"] != tools.StatusSuccess,
		}, nil
	}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
