package prompts

import (
	"fmt"
	"strings"
)

// SQLGenerationInput is everything the generation prompt is built from.
type SQLGenerationInput struct {
	SchemaBlock  string
	Guidance     string // mode-specific instructions, may be empty
	Question     string
	ContextHints []string
	GlossaryHits []string
	RowCap       int
}

// SQLGenerationSystemMessage returns the fixed system message for SQL generation.
// The rules mirror what the guardrails enforce so that fewer candidates are rejected.
func SQLGenerationSystemMessage(rowCap int) string {
	var b strings.Builder
	b.WriteString("You write Microsoft SQL Server (T-SQL) queries for a manufacturing planning data warehouse.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Return exactly one SELECT statement. A single WITH common table expression is allowed.\n")
	b.WriteString("2. Query one table only. Do not use JOIN or APPLY.\n")
	b.WriteString("3. Use only the tables and columns listed in the schema. Never guess a column name.\n")
	fmt.Fprintf(&b, "4. Limit results with TOP (n); n must not exceed %d.\n", rowCap)
	b.WriteString("5. Do not modify data and do not use temporary tables, variables or UNION.\n")
	b.WriteString("6. Return only the SQL, without explanation.\n")
	return b.String()
}

// BuildSQLGenerationPrompt creates the user prompt for SQL generation.
func BuildSQLGenerationPrompt(in SQLGenerationInput) string {
	var b strings.Builder

	b.WriteString("## Schema\n\n")
	b.WriteString(strings.TrimRight(in.SchemaBlock, "\n"))
	b.WriteString("\n\n")

	if in.Guidance != "" {
		b.WriteString("## Guidance\n\n")
		b.WriteString(strings.TrimSpace(in.Guidance))
		b.WriteString("\n\n")
	}

	if len(in.ContextHints) > 0 {
		b.WriteString("## Notes\n\n")
		for _, hint := range in.ContextHints {
			fmt.Fprintf(&b, "- %s\n", hint)
		}
		b.WriteString("\n")
	}

	if len(in.GlossaryHits) > 0 {
		b.WriteString("## Business Terms\n\n")
		for _, term := range in.GlossaryHits {
			fmt.Fprintf(&b, "- %s\n", term)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Question\n\n")
	b.WriteString(strings.TrimSpace(in.Question))
	b.WriteString("\n")
	return b.String()
}
