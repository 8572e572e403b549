// Tally MCP Server - exposes a user's Tally data as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/tallyhq/tally/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("TALLY_API_URL", "http://localhost:8080"),
		Token:  os.Getenv("TALLY_API_TOKEN"),
	}

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "TALLY_API_TOKEN is required (generate one at /dashboard/token)")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
