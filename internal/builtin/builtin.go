// Package builtin provides the tool servers that run inside the ollamcp
// process. Configure one with type = "inprocess" and provider = "builtin".
package builtin

import (
	"context"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lydakis/ollamcp/internal/mcppool"
)

// Name is the provider name used in configuration.
const Name = "builtin"

// Providers returns every in-process provider keyed by name.
func Providers() map[string]mcppool.Provider {
	return map[string]mcppool.Provider{Name: NewServer}
}

// NewServer returns a fresh MCP server exposing the builtin tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer("ollamcp-builtin", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First addend")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second addend")),
	), handleAdd)
	return s
}

func handleAdd(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := req.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := req.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strconv.FormatFloat(a+b, 'f', -1, 64)), nil
}
