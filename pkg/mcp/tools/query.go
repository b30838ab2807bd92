package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/services"
)

// QueryToolDeps contains dependencies for the question and SQL tools.
type QueryToolDeps struct {
	Queries    services.QueryService
	Classifier services.QuestionClassifier
	// Auditor records permission denials and injection attempts. May be nil.
	Auditor *audit.SecurityAuditor
	Logger  *zap.Logger
}

// RegisterQueryTools registers ask_planning_data, validate_sql and classify_question.
func RegisterQueryTools(s *server.MCPServer, deps *QueryToolDeps) {
	registerAskTool(s, deps)
	registerValidateSQLTool(s, deps)
	registerClassifyTool(s, deps)
}

func registerAskTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"ask_planning_data",
		mcp.WithDescription(
			"Answer a natural-language question about manufacturing planning data "+
				"(jobs, operations, resources, materials, capacity, schedules). "+
				"The question is turned into a single-table SELECT, checked against the schema, "+
				"restricted to the caller's planning areas, scenarios and plants, and executed. "+
				"Out-of-scope questions are declined with guidance instead of an error.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question in plain language, e.g. 'which jobs are late in plant P1?'"),
		),
		mcp.WithString(
			"mode",
			mcp.Description("Optional UI mode that biases table selection, e.g. 'capacity' or 'materials'"),
		),
		filtersParam(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || trimString(question) == "" {
			return NewErrorResult("invalid_parameters", "question is required"), nil
		}
		filters, err := parseFilters(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		resp, err := deps.Queries.Ask(ctx, &services.AskRequest{
			UserID:   auth.GetUserIDFromContext(ctx),
			Question: question,
			Mode:     trimString(getOptionalString(req, "mode")),
			Filters:  filters,
		})
		if err != nil {
			deps.Auditor.LogPipelineRejection(ctx, err, filters, "")
			if result, ok := StageErrorResult(err); ok {
				return result, nil
			}
			return nil, fmt.Errorf("failed to answer question: %w", err)
		}
		return jsonResult(resp)
	})
}

func registerValidateSQLTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"validate_sql",
		mcp.WithDescription(
			"Check a hand-written SELECT against the guardrails without running it. "+
				"Returns the statement that would be executed, with the row cap applied and "+
				"the caller's row-level restrictions injected, or a structured rejection.",
		),
		mcp.WithString(
			"sql",
			mcp.Required(),
			mcp.Description("A single SELECT over one publish.DASHt_ table"),
		),
		filtersParam(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sqlText, err := req.RequireString("sql")
		if err != nil || trimString(sqlText) == "" {
			return NewErrorResult("invalid_parameters", "sql is required"), nil
		}
		filters, err := parseFilters(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		resp, err := deps.Queries.ValidateSQL(ctx, &services.ValidateSQLRequest{
			UserID:  auth.GetUserIDFromContext(ctx),
			SQL:     sqlText,
			Filters: filters,
		})
		if err != nil {
			deps.Auditor.LogPipelineRejection(ctx, err, filters, "")
			if result, ok := StageErrorResult(err); ok {
				return result, nil
			}
			return nil, fmt.Errorf("failed to validate SQL: %w", err)
		}
		return jsonResult(resp)
	})
}

func registerClassifyTool(s *server.MCPServer, deps *QueryToolDeps) {
	tool := mcp.NewTool(
		"classify_question",
		mcp.WithDescription(
			"Show which planning tables a question would be answered from, with the matched "+
				"keywords and a confidence level. Does not generate or run SQL.",
		),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to classify")),
		mcp.WithString("mode", mcp.Description("Optional UI mode that biases table selection")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || trimString(question) == "" {
			return NewErrorResult("invalid_parameters", "question is required"), nil
		}
		return jsonResult(deps.Classifier.Classify(question, trimString(getOptionalString(req, "mode"))))
	})
}
