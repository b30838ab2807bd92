package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, ok := args[key].(string)
	if !ok {
		return ""
	}
	return val
}

// parseFilters decodes the optional filters argument into global filters.
func parseFilters(req mcp.CallToolRequest) ([]models.GlobalFilter, error) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := args["filters"]
	if !ok || raw == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("filters must be an array of objects: %w", err)
	}
	var filters []models.GlobalFilter
	if err := json.Unmarshal(encoded, &filters); err != nil {
		return nil, fmt.Errorf("filters must be an array of {dimension, values} objects")
	}
	for i, f := range filters {
		if trimString(f.Dimension) == "" {
			return nil, fmt.Errorf("filters[%d]: dimension is required", i)
		}
	}
	return filters, nil
}

// filtersParam is the shared JSON schema for the filters argument.
func filtersParam() mcp.ToolOption {
	return mcp.WithArray(
		"filters",
		mcp.Description("Optional global filters narrowing the result, e.g. [{\"dimension\":\"plant\",\"values\":[\"P1\"]}]. "+
			"Dimensions: planning_area, scenario, plant. Filters can only narrow what the caller is already allowed to see."),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dimension": map[string]any{"type": "string", "description": "planning_area, scenario or plant"},
				"values":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"dimension", "values"},
		}),
	)
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
