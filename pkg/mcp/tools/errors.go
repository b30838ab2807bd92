package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// This is used to return actionable error information to the model
// as a successful tool result, ensuring error details are visible
// rather than being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	SQL     string `json:"sql,omitempty"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors that the model should see and
// can potentially fix (e.g., invalid parameters, a rejected statement).
//
// Do NOT use this for system failures (query log outages, internal errors);
// those should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return newErrorResult(ErrorResponse{Error: true, Code: code, Message: message})
}

// NewErrorResultWithDetails creates an error result with additional context.
//
// Example:
//
//	return NewErrorResultWithDetails(
//	    "column_not_found",
//	    "unknown column JobNme",
//	    map[string]any{"suggestions": []string{"JobName"}},
//	), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	return newErrorResult(ErrorResponse{Error: true, Code: code, Message: message, Details: details})
}

// StageErrorResult converts a pipeline rejection into an error result.
// Returns false when err is not a stage error, in which case the caller
// should surface err as a protocol error.
func StageErrorResult(err error) (*mcp.CallToolResult, bool) {
	se, ok := apperrors.AsStageError(err)
	if !ok {
		return nil, false
	}
	return newErrorResult(ErrorResponse{
		Error:   true,
		Code:    string(se.Kind),
		Message: se.Message,
		Stage:   se.Stage,
		SQL:     se.SQL,
		Details: se.Details,
	}), true
}

func newErrorResult(resp ErrorResponse) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}
