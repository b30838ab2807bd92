package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"plain", "SELECT 1", "SELECT 1"},
		{"fenced sql", "Here you go:\n```sql\nSELECT a FROM t\n```\nDone.", "SELECT a FROM t"},
		{"fenced bare", "```\nSELECT a FROM t\n```", "SELECT a FROM t"},
		{"think block", "<think>pick the table</think>\nSELECT a FROM t", "SELECT a FROM t"},
		{"label", "SQL: SELECT a FROM t", "SELECT a FROM t"},
		{"lowercase label in fence", "```sql\nsql: SELECT a FROM t\n```", "SELECT a FROM t"},
		{"first fence wins", "```sql\nSELECT 1\n```\n```sql\nSELECT 2\n```", "SELECT 1"},
		{"empty", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSQL(tt.response))
		})
	}
}
