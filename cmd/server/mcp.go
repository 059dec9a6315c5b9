package main

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mermaidchart/confluence-connect/pkg/core"
	"github.com/mermaidchart/confluence-connect/pkg/operation"
)

// MCPServer wraps the underlying MCP server instance exposing the
// administrative tools.
type MCPServer struct {
	server *server.MCPServer
}

// NewMCPServer creates and configures a new MCPServer instance.
// Registers the list_installations tool.
func NewMCPServer() *MCPServer {
	mcpServer := server.NewMCPServer(
		"confluence-connect-admin",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
	)

	// Register Tool
	operation.RegisterAdminTool(mcpServer)

	return &MCPServer{
		server: mcpServer,
	}
}

// ServeHTTP returns a streamable HTTP server that injects the credential
// store and a request ID into the tool handler context.
func (s *MCPServer) ServeHTTP(store core.Store) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			ctx = core.WithStore(ctx, store)
			return core.WithRequestID(ctx)
		}),
	)
}
