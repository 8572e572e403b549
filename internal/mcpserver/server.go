package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Tally tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("tally", version)
	h := NewHandlers(NewTallyClient(cfg))

	s.AddTool(ToolListActions, h.HandleListActions)
	s.AddTool(ToolLogActivity, h.HandleLogActivity)
	s.AddTool(ToolGetSummary, h.HandleGetSummary)
	s.AddTool(ToolGetTimeSeries, h.HandleGetTimeSeries)
	s.AddTool(ToolGetTrends, h.HandleGetTrends)

	return s
}
