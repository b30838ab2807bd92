package sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rule names the shape rule that produced a rejection or rewrite.
type Rule string

const (
	RuleEmpty              Rule = "empty"
	RuleSyntax             Rule = "syntax"
	RuleMultipleStatements Rule = "multiple_statements"
	RuleVerb               Rule = "verb"
	RuleJoin               Rule = "join"
	RuleTable              Rule = "table_allowlist"
	RuleRowCap             Rule = "row_cap"
)

// Default row caps applied by the shape validator.
const (
	DefaultRowCap = 500
	MaxRowCap     = 1000
)

// DefaultAllowedTablePattern matches the curated reporting tables in the publish schema.
const DefaultAllowedTablePattern = `(?i)^publish\.DASHt_[a-z0-9_]+$`

// DefaultSampleTable is a table DefaultAllowedTablePattern accepts.
const DefaultSampleTable = "publish.DASHt_Planning"

// ValidationResult is the outcome of shape validation. It is a total function of
// the input: Validate never panics and never returns an error value.
//
// When Valid is true, ModifiedSQL holds the statement to run (trailing terminator
// removed, row cap inserted or clamped) and Changed reports whether a cap was rewritten.
type ValidationResult struct {
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
	Rule        Rule   `json:"rule,omitempty"`
	ModifiedSQL string `json:"modified_sql,omitempty"`
	Changed     bool   `json:"changed,omitempty"`
}

// ValidatorConfig configures the shape validator.
type ValidatorConfig struct {
	DefaultRowCap int
	MaxRowCap     int
	// AllowedTablePattern is matched against FROM targets with delimiters removed.
	AllowedTablePattern string
	// SampleTable is a table the pattern accepts, used by RunSelfCheck. It
	// defaults to DefaultSampleTable when the default pattern is in use.
	SampleTable string
}

// Validator is the stateless SQL shape gate.
type Validator struct {
	defaultCap  int
	maxCap      int
	allowed     *regexp.Regexp
	sampleTable string
}

// NewValidator compiles cfg into a Validator. Zero values fall back to the defaults.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	v := &Validator{defaultCap: cfg.DefaultRowCap, maxCap: cfg.MaxRowCap}
	if v.maxCap <= 0 {
		v.maxCap = MaxRowCap
	}
	if v.defaultCap <= 0 {
		v.defaultCap = DefaultRowCap
	}
	if v.defaultCap > v.maxCap {
		return nil, fmt.Errorf("default row cap %d exceeds maximum %d", v.defaultCap, v.maxCap)
	}

	pattern := cfg.AllowedTablePattern
	if pattern == "" {
		pattern = DefaultAllowedTablePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed table pattern: %w", err)
	}
	v.allowed = re

	v.sampleTable = cfg.SampleTable
	if v.sampleTable == "" && pattern == DefaultAllowedTablePattern {
		v.sampleTable = DefaultSampleTable
	}
	if v.sampleTable != "" && !re.MatchString(v.sampleTable) {
		return nil, fmt.Errorf("sample table %s does not match the allowed table pattern", v.sampleTable)
	}
	return v, nil
}

// MaxRowCap returns the configured maximum row cap.
func (v *Validator) MaxRowCap() int {
	return v.maxCap
}

// IsAllowedTable reports whether name matches the curated table pattern.
func (v *Validator) IsAllowedTable(name string) bool {
	return v.allowed.MatchString(name)
}

func reject(rule Rule, format string, args ...any) ValidationResult {
	return ValidationResult{Rule: rule, Error: fmt.Sprintf(format, args...)}
}

// Validate applies the shape rules in order:
//  1. strip one trailing statement terminator
//  2. reject empty input
//  3. reject any remaining terminator (multiple statements)
//  4. require SELECT or WITH, and reject any later word that starts another statement
//  5. reject JOIN (and APPLY)
//  6. require every FROM target to match the curated table pattern
//  7. insert the default row cap when missing, clamp it when over the maximum
func (v *Validator) Validate(sqlQuery string) ValidationResult {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return reject(RuleEmpty, "empty query")
	}

	tokens, err := Tokenize(trimmed)
	if err != nil {
		return reject(RuleSyntax, "malformed SQL: %v", err)
	}
	if n := len(tokens); n > 0 && tokens[n-1].Kind == TokenSemicolon {
		trimmed = strings.TrimSpace(trimmed[:tokens[n-1].Pos])
		tokens = tokens[:n-1]
	}
	if len(tokens) == 0 {
		return reject(RuleEmpty, "empty query")
	}

	for _, t := range tokens {
		if t.Kind == TokenSemicolon {
			return reject(RuleMultipleStatements, "%s", ErrMultipleStatements.Error())
		}
	}

	if !tokens[0].IsKeyword("SELECT") && !tokens[0].IsKeyword("WITH") {
		return reject(RuleVerb, "only SELECT or WITH statements are allowed, got %s", tokens[0].Upper())
	}
	if t, ok := findStatementStarter(tokens[1:]); ok {
		return reject(RuleMultipleStatements, "%s: found %s after the SELECT", ErrMultipleStatements.Error(), t.Upper())
	}

	for _, t := range tokens {
		if t.IsKeyword("JOIN") || t.IsKeyword("APPLY") {
			return reject(RuleJoin, "JOIN is not allowed; query a single reporting table")
		}
	}

	stmt, err := Parse(trimmed)
	if err != nil {
		return reject(RuleSyntax, "%v", err)
	}

	for _, core := range stmt.Cores() {
		for _, ref := range core.Sources() {
			if ref.Derived != nil {
				continue
			}
			if stmt.IsCTEName(ref.Name) && !stmt.InCTE(core) {
				continue
			}
			if !v.allowed.MatchString(ref.Name) {
				return reject(RuleTable, "table %s is not an allowed reporting table", ref.Name)
			}
		}
	}
	if len(stmt.Main.From) == 0 {
		return reject(RuleTable, "query must select FROM an allowed reporting table")
	}

	out, changed, res := v.applyRowCap(stmt)
	if res != nil {
		return *res
	}
	return ValidationResult{Valid: true, ModifiedSQL: out, Changed: changed}
}

func (v *Validator) applyRowCap(stmt *Statement) (string, bool, *ValidationResult) {
	main := stmt.Main
	top := main.Top

	if top == nil {
		anchor := main.Select
		if main.Quantifier >= 0 {
			anchor = main.Quantifier
		}
		edit := Edit{Pos: stmt.Tokens[anchor].End, Text: fmt.Sprintf(" TOP (%d)", v.defaultCap)}
		return ApplyEdits(stmt.SQL, []Edit{edit}), true, nil
	}

	if top.Percent {
		res := reject(RuleRowCap, "TOP ... PERCENT is not allowed; use a row count")
		return "", false, &res
	}
	if !top.Literal {
		res := reject(RuleRowCap, "TOP must be a numeric literal")
		return "", false, &res
	}
	if top.Value > v.maxCap {
		tok := stmt.Tokens[top.ValueTok]
		edit := Edit{Pos: tok.Pos, Delete: tok.End - tok.Pos, Text: strconv.Itoa(v.maxCap)}
		return ApplyEdits(stmt.SQL, []Edit{edit}), true, nil
	}
	return stmt.SQL, false, nil
}

// isWithin reports whether core is root or nested inside it.
func isWithin(core, root *SelectCore) bool {
	for c := core; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

// stripTrailingSemicolon removes one trailing semicolon and surrounding whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
