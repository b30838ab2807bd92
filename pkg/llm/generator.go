// Package llm turns a formatted schema block and a question into candidate SQL
// using an OpenAI-compatible or Anthropic model. Its output is untrusted: every
// candidate goes through the guardrail pipeline before execution.
package llm

import (
	"context"
	"regexp"
	"strings"
)

// GenerationRequest is the input to a SQL generation call.
type GenerationRequest struct {
	SchemaBlock string
	Guidance    string
	Question    string

	ContextHints []string
	GlossaryHits []string
	RowCap       int
}

// SQLGenerator produces candidate SQL for a question. Implementations make one
// provider call per invocation; retries belong to the caller.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, req GenerationRequest) (string, error)
	// Model returns the configured model name for logging.
	Model() string
}

// thinkTagPattern matches <think>...</think> blocks some models prepend.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// fencePattern captures the body of the first markdown code fence.
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\\n?(.*?)```")

// ExtractSQL strips reasoning tags, markdown fences and a leading "SQL:" label from
// a model response. It does not validate the SQL.
func ExtractSQL(response string) string {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")
	if m := fencePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > 4 && strings.EqualFold(cleaned[:4], "sql:") {
		cleaned = strings.TrimSpace(cleaned[4:])
	}
	return cleaned
}
