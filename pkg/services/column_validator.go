package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// maxSuggestions caps the fuzzy candidates attached to a missing column.
const maxSuggestions = 5

// ColumnValidationOutcome tells callers whether column references were checked.
type ColumnValidationOutcome string

const (
	ColumnsPassed  ColumnValidationOutcome = "passed"
	ColumnsFailed  ColumnValidationOutcome = "failed"
	ColumnsSkipped ColumnValidationOutcome = "skipped"
)

// Reasons reported with ColumnsSkipped.
const (
	SkipSchemaUnavailable = "schema unavailable"
	SkipExtractionFailed  = "column extraction failed"
	SkipTableNotInSchema  = "table not in schema snapshot"
)

// ColumnValidationError describes one column reference that could not be resolved.
type ColumnValidationError struct {
	Column           string   `json:"column"`
	Table            string   `json:"table,omitempty"`
	Context          string   `json:"context"`
	Message          string   `json:"message"`
	AvailableColumns []string `json:"available_columns,omitempty"`
}

// ColumnValidationResult is the outcome of checking a statement's column references.
type ColumnValidationResult struct {
	Outcome    ColumnValidationOutcome `json:"outcome"`
	SkipReason string                  `json:"skip_reason,omitempty"`
	// SkippedTables lists the tables behind SkipTableNotInSchema.
	SkippedTables []string                `json:"skipped_tables,omitempty"`
	Errors        []ColumnValidationError `json:"errors,omitempty"`
	Checked       int                     `json:"checked"`
}

// Passed reports whether the statement may proceed. A skipped check proceeds.
func (r *ColumnValidationResult) Passed() bool {
	return r.Outcome != ColumnsFailed
}

// TableLookup resolves catalog tables. *schema.Catalog satisfies it.
type TableLookup interface {
	Loaded() bool
	Table(name string) (*models.TableSchema, bool)
}

// ColumnValidator checks that every column a statement references exists.
type ColumnValidator interface {
	Validate(ctx context.Context, sqlQuery string) *ColumnValidationResult
}

type columnValidator struct {
	tables TableLookup
	logger *zap.Logger
}

// NewColumnValidator creates a column validator backed by tables.
func NewColumnValidator(tables TableLookup, logger *zap.Logger) ColumnValidator {
	return &columnValidator{
		tables: tables,
		logger: logger.Named("column-validator"),
	}
}

// columnSet is the set of names a FROM source exposes. open is true when the
// source's columns cannot be enumerated (e.g. * over an unknown source).
type columnSet struct {
	table string
	names []string
	index map[string]bool
	open  bool
}

func newColumnSet(table string, names []string) *columnSet {
	cs := &columnSet{table: table, index: make(map[string]bool, len(names))}
	cs.add(names...)
	return cs
}

func (cs *columnSet) add(names ...string) {
	for _, n := range names {
		key := strings.ToLower(n)
		if !cs.index[key] {
			cs.index[key] = true
			cs.names = append(cs.names, n)
		}
	}
}

func (cs *columnSet) has(name string) bool {
	return cs.open || cs.index[strings.ToLower(name)]
}

// Validate fails closed on unresolvable references and fails open, with an explicit
// skipped outcome, when the schema is unavailable or the SQL cannot be analysed.
func (v *columnValidator) Validate(ctx context.Context, sqlQuery string) (result *ColumnValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Column validation panicked; skipping check",
				zap.Any("panic", r))
			result = &ColumnValidationResult{Outcome: ColumnsSkipped, SkipReason: SkipExtractionFailed}
		}
	}()

	if v.tables == nil || !v.tables.Loaded() {
		v.logger.Warn("Column validation skipped", zap.String("reason", SkipSchemaUnavailable))
		return &ColumnValidationResult{Outcome: ColumnsSkipped, SkipReason: SkipSchemaUnavailable}
	}

	refs, err := sql.ExtractColumnRefs(sqlQuery)
	if err != nil {
		v.logger.Warn("Column validation skipped",
			zap.String("reason", SkipExtractionFailed),
			zap.Error(err))
		return &ColumnValidationResult{Outcome: ColumnsSkipped, SkipReason: SkipExtractionFailed}
	}

	r := &resolver{stmt: refs.Statement, tables: v.tables, sources: map[*sql.TableRef]*columnSet{}}
	if missing := r.unknownTables(); len(missing) > 0 {
		v.logger.Warn("Column validation skipped",
			zap.String("reason", SkipTableNotInSchema),
			zap.Strings("tables", missing))
		return &ColumnValidationResult{Outcome: ColumnsSkipped, SkipReason: SkipTableNotInSchema, SkippedTables: missing}
	}
	result = &ColumnValidationResult{Outcome: ColumnsPassed, Checked: len(refs.Refs)}
	reported := map[string]bool{}
	for _, ref := range refs.Refs {
		verr := r.check(ref)
		if verr == nil {
			continue
		}
		key := strings.ToLower(verr.Table + "\x00" + verr.Column + "\x00" + verr.Context)
		if reported[key] {
			continue
		}
		reported[key] = true
		result.Errors = append(result.Errors, *verr)
	}

	if len(result.Errors) > 0 {
		result.Outcome = ColumnsFailed
		missing := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			missing[i] = e.Column
		}
		v.logger.Info("Column validation failed",
			zap.Strings("missing", missing),
			zap.Int("checked", result.Checked))
	}
	return result
}

// resolver maps FROM sources to the columns they expose for one statement.
type resolver struct {
	stmt    *sql.Statement
	tables  TableLookup
	sources map[*sql.TableRef]*columnSet
}

func (r *resolver) check(ref sql.ColumnRef) *ColumnValidationError {
	if ref.Qualifier != "" {
		src, cols := r.qualified(ref.Core, ref.Qualifier)
		if src == nil {
			return &ColumnValidationError{
				Column:  ref.Name,
				Context: ref.Context,
				Message: fmt.Sprintf("Unknown table or alias '%s' for column '%s'", ref.Qualifier, ref.Name),
			}
		}
		if cols.has(ref.Name) {
			return nil
		}
		return &ColumnValidationError{
			Column:           ref.Name,
			Table:            cols.table,
			Context:          ref.Context,
			Message:          fmt.Sprintf("Column '%s' does not exist in %s", ref.Name, cols.table),
			AvailableColumns: suggestColumns(ref.Name, cols.names),
		}
	}

	// Unqualified names must exist in at least one source the statement reads.
	var candidates []string
	table := ""
	all := r.allSources()
	for _, cols := range all {
		if cols.has(ref.Name) {
			return nil
		}
		candidates = append(candidates, cols.names...)
	}
	if len(all) == 1 {
		table = all[0].table
	}
	return &ColumnValidationError{
		Column:           ref.Name,
		Table:            table,
		Context:          ref.Context,
		Message:          fmt.Sprintf("Column '%s' does not exist in any referenced table", ref.Name),
		AvailableColumns: suggestColumns(ref.Name, candidates),
	}
}

// qualified resolves qualifier against core's sources, then enclosing cores for
// correlated references.
func (r *resolver) qualified(core *sql.SelectCore, qualifier string) (*sql.TableRef, *columnSet) {
	for c := core; c != nil; c = c.Parent {
		for _, src := range c.Sources() {
			if src.Matches(qualifier) {
				return src, r.columns(c, src)
			}
		}
	}
	return nil, nil
}

// unknownTables returns the base tables the statement reads that the snapshot
// does not describe.
func (r *resolver) unknownTables() []string {
	var missing []string
	seen := map[string]bool{}
	for _, core := range r.stmt.Cores() {
		for _, src := range core.Sources() {
			if src.Derived != nil || r.stmt.IsCTEName(src.Name) {
				continue
			}
			if _, ok := r.tables.Table(src.Name); ok || seen[strings.ToLower(src.Name)] {
				continue
			}
			seen[strings.ToLower(src.Name)] = true
			missing = append(missing, src.Name)
		}
	}
	return missing
}

func (r *resolver) allSources() []*columnSet {
	var sets []*columnSet
	for _, core := range r.stmt.Cores() {
		for _, src := range core.Sources() {
			sets = append(sets, r.columns(core, src))
		}
	}
	return sets
}

// columns returns the column set exposed by src as seen from core.
func (r *resolver) columns(core *sql.SelectCore, src *sql.TableRef) *columnSet {
	if cs, ok := r.sources[src]; ok {
		return cs
	}
	var cs *columnSet
	switch {
	case src.Derived != nil:
		cs = r.coreOutput(src.Qualifier(), src.Derived, nil)
	case r.stmt.IsCTEName(src.Name) && !r.stmt.InCTE(core):
		cs = r.coreOutput(r.stmt.CTE.Name, r.stmt.CTE.Body, r.stmt.CTE.Columns)
	default:
		if t, ok := r.tables.Table(src.Name); ok {
			cs = newColumnSet(t.TableName, t.ColumnNames())
		} else {
			cs = newColumnSet(src.Name, nil)
		}
	}
	r.sources[src] = cs
	return cs
}

// coreOutput returns the columns a nested SELECT exposes. Declared CTE column
// names replace the select list's names. A * pulls in the nested sources' columns.
func (r *resolver) coreOutput(name string, core *sql.SelectCore, declared []string) *columnSet {
	names, star := r.stmt.OutputColumns(core)
	if len(declared) > 0 {
		names = declared
	}
	cs := newColumnSet(name, names)
	if star {
		for _, src := range core.Sources() {
			inner := r.columns(core, src)
			cs.add(inner.names...)
			if inner.open || len(inner.names) == 0 {
				cs.open = true
			}
		}
	}
	return cs
}

// suggestColumns ranks candidates by edit distance to target. At equal distance a
// candidate that starts with target, or that target starts with, ranks first.
func suggestColumns(target string, candidates []string) []string {
	type scored struct {
		name     string
		distance int
		prefix   bool
	}
	lowerTarget := strings.ToLower(target)
	seen := map[string]bool{}
	var ranked []scored
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if seen[lc] {
			continue
		}
		seen[lc] = true
		ranked = append(ranked, scored{
			name:     c,
			distance: levenshtein.ComputeDistance(lowerTarget, lc),
			prefix:   strings.HasPrefix(lc, lowerTarget) || strings.HasPrefix(lowerTarget, lc),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].prefix && !ranked[j].prefix
	})

	n := min(maxSuggestions, len(ranked))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].name
	}
	return out
}
