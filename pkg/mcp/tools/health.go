package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SchemaStatus reports whether the schema catalog is ready. *schema.Catalog satisfies it.
type SchemaStatus interface {
	Loaded() bool
	TableNames() []string
}

type healthResult struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	SchemaLoaded bool   `json:"schema_loaded"`
	SchemaTables int    `json:"schema_tables"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and schema catalog state.
// Status is "degraded" until a schema snapshot is loaded.
func RegisterHealthTool(s *server.MCPServer, version string, schema SchemaStatus) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if schema != nil {
			result.SchemaLoaded = schema.Loaded()
			result.SchemaTables = len(schema.TableNames())
			if !result.SchemaLoaded {
				result.Status = "degraded"
			}
		}
		return jsonResult(result)
	})
}
