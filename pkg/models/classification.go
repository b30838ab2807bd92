package models

// Confidence is the classifier's self-assessed certainty that it picked the right tables.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// MatrixEntry maps question keywords to the tables that answer them.
// Tier1 tables are curated reporting tables; Tier2 tables are raw sources used as fallback.
type MatrixEntry struct {
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Tier1Tables []string `json:"tier1_tables" yaml:"tier1_tables"`
	Tier2Tables []string `json:"tier2_tables,omitempty" yaml:"tier2_tables"`
	Override    bool     `json:"override,omitempty" yaml:"override"`
	ContextHint string   `json:"context_hint,omitempty" yaml:"context_hint"`
}

// OverrideRule force-includes tables when any trigger phrase appears in the question.
type OverrideRule struct {
	Triggers       []string `json:"triggers" yaml:"triggers"`
	RequiredTables []string `json:"required_tables" yaml:"required_tables"`
	Description    string   `json:"description" yaml:"description"`
}

// GlossaryTerm is a business term with a human readable definition.
type GlossaryTerm struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Formula     string `json:"formula,omitempty" yaml:"formula"`
}

// ClassificationResult is the outcome of scoring a question against the matrix.
type ClassificationResult struct {
	SelectedTables  []string   `json:"selected_tables"`
	MatchedKeywords []string   `json:"matched_keywords"`
	Confidence      Confidence `json:"confidence"`
	ContextHints    []string   `json:"context_hints,omitempty"`
	GlossaryHits    []string   `json:"glossary_hits,omitempty"`
	OverrideFired   bool       `json:"override_fired,omitempty"`
	UsedDefault     bool       `json:"used_default,omitempty"`
	Score           int        `json:"score"`
}

// InScope reports whether generation should be attempted at all.
func (r *ClassificationResult) InScope() bool {
	return r != nil && r.Confidence != ConfidenceNone
}
