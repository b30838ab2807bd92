// Package mcp exposes the query pipeline to MCP clients over streamable HTTP.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/mcp/tools"
)

// Server wraps the mcp-go MCPServer with the guardrail tools registered.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// RegisterGuardTools registers the question, validation, classification and health tools.
func (s *Server) RegisterGuardTools(deps *tools.QueryToolDeps, version string, schema tools.SchemaStatus) {
	tools.RegisterQueryTools(s.mcp, deps)
	tools.RegisterHealthTool(s.mcp, version, schema)
	s.logger.Info("Registered MCP tools",
		zap.Strings("tools", []string{"ask_planning_data", "validate_sql", "classify_question", "health"}))
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
