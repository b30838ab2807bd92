package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSQLGenerationPrompt(t *testing.T) {
	prompt := BuildSQLGenerationPrompt(SQLGenerationInput{
		SchemaBlock:  "Table: publish.DASHt_Planning\nColumns:\n  - OnHold (bit, not null)\n",
		Guidance:     "  Prefer scheduled dates.  ",
		Question:     "Show jobs on hold ",
		ContextHints: []string{"Held jobs have OnHold = 1."},
		GlossaryHits: []string{"OTD: On-time delivery rate"},
	})

	assert.True(t, strings.HasPrefix(prompt, "## Schema\n\nTable: publish.DASHt_Planning\n"))
	assert.Contains(t, prompt, "## Guidance\n\nPrefer scheduled dates.\n\n")
	assert.Contains(t, prompt, "## Notes\n\n- Held jobs have OnHold = 1.\n")
	assert.Contains(t, prompt, "## Business Terms\n\n- OTD: On-time delivery rate\n")
	assert.True(t, strings.HasSuffix(prompt, "## Question\n\nShow jobs on hold\n"))
}

func TestBuildSQLGenerationPrompt_OmitsEmptySections(t *testing.T) {
	prompt := BuildSQLGenerationPrompt(SQLGenerationInput{SchemaBlock: "Table: x\n", Question: "q"})

	assert.NotContains(t, prompt, "## Guidance")
	assert.NotContains(t, prompt, "## Notes")
	assert.NotContains(t, prompt, "## Business Terms")
}

func TestSQLGenerationSystemMessage(t *testing.T) {
	msg := SQLGenerationSystemMessage(1000)
	assert.Contains(t, msg, "must not exceed 1000")
	assert.Contains(t, msg, "Do not use JOIN")
}
