package sql

import (
	"fmt"
	"strings"
)

// Clause contexts a column reference can appear in.
const (
	ContextSelect  = "SELECT"
	ContextWhere   = "WHERE"
	ContextGroupBy = "GROUP BY"
	ContextHaving  = "HAVING"
	ContextOrderBy = "ORDER BY"
	ContextJoinOn  = "JOIN ON"
)

// ColumnRef is a column token found in a SELECT.
// Qualifier is the dotted prefix as written (alias, table, or schema.table), or "".
type ColumnRef struct {
	Name      string
	Qualifier string
	Context   string
	Core      *SelectCore
	Pos       int
}

// ColumnRefSet holds the distinct column references of a statement.
type ColumnRefSet struct {
	Statement *Statement
	Refs      []ColumnRef
}

// ExtractColumnRefs parses sql and returns its distinct (column, context) references
// across every SELECT in the statement. Aliases defined in a select list are not
// reported when ORDER BY refers to them again.
func ExtractColumnRefs(sql string) (*ColumnRefSet, error) {
	stmt, err := Parse(stripTrailingSemicolon(strings.TrimSpace(sql)))
	if err != nil {
		return nil, err
	}
	return ExtractFromStatement(stmt), nil
}

// ExtractFromStatement returns the column references of an already parsed statement.
func ExtractFromStatement(stmt *Statement) *ColumnRefSet {
	set := &ColumnRefSet{Statement: stmt}
	seen := map[string]bool{}
	for n, core := range stmt.Cores() {
		e := &extractor{stmt: stmt, core: core, skip: map[int]bool{}, aliases: map[string]bool{}}
		for _, item := range core.Items {
			if item.AliasTok >= 0 {
				e.skip[item.AliasTok] = true
				e.aliases[strings.ToLower(item.Alias)] = true
			}
		}
		e.scan(core.List, ContextSelect)
		if core.Where != nil {
			e.scan(core.Where.Body, ContextWhere)
		}
		if core.GroupBy != nil {
			e.scan(core.GroupBy.Body, ContextGroupBy)
		}
		if core.Having != nil {
			e.scan(core.Having.Body, ContextHaving)
		}
		if core.OrderBy != nil {
			e.scan(core.OrderBy.Body, ContextOrderBy)
		}
		for _, j := range core.Joins {
			e.scan(j.On, ContextJoinOn)
		}

		for _, ref := range e.refs {
			key := fmt.Sprintf("%d\x00%s\x00%s\x00%s", n, strings.ToLower(ref.Name), strings.ToLower(ref.Qualifier), ref.Context)
			if seen[key] {
				continue
			}
			seen[key] = true
			set.Refs = append(set.Refs, ref)
		}
	}
	return set
}

// Names returns the distinct column names referenced, in first-seen order.
func (s *ColumnRefSet) Names() []string {
	var names []string
	seen := map[string]bool{}
	for _, r := range s.Refs {
		key := strings.ToLower(r.Name)
		if !seen[key] {
			seen[key] = true
			names = append(names, r.Name)
		}
	}
	return names
}

type extractor struct {
	stmt    *Statement
	core    *SelectCore
	skip    map[int]bool
	aliases map[string]bool
	refs    []ColumnRef
}

// subqueryAt returns the nested SELECT starting at token i, if any.
func (e *extractor) subqueryAt(i int) *SelectCore {
	for _, sub := range e.core.Subqueries {
		if sub.Span.Start == i {
			return sub
		}
	}
	return nil
}

func (e *extractor) scan(region Span, context string) {
	tokens := e.stmt.Tokens
	for i := region.Start; i < region.End; i++ {
		if sub := e.subqueryAt(i); sub != nil {
			i = sub.Span.End - 1
			continue
		}

		t := tokens[i]
		if !t.IsIdentifier() || e.skip[i] {
			continue
		}
		if i > 0 && tokens[i-1].Kind == TokenDot {
			continue
		}
		if i > 0 && (tokens[i-1].IsKeyword("AS") || tokens[i-1].IsKeyword("COLLATE")) {
			continue
		}

		parts := []string{t.Name()}
		star := false
		j := i + 1
		for j+1 < region.End && tokens[j].Kind == TokenDot {
			next := tokens[j+1]
			if next.Kind == TokenStar {
				star = true
				j += 2
				break
			}
			if !next.IsIdentifier() {
				break
			}
			parts = append(parts, next.Name())
			j += 2
		}

		if j < region.End && tokens[j].Kind == TokenLParen {
			if len(parts) == 1 && j+1 < region.End {
				upper := t.Upper()
				if datepartFunctions[upper] || typeArgFunctions[upper] {
					e.skip[j+1] = true
				}
			}
			i = j
			continue
		}
		if star {
			i = j - 1
			continue
		}
		if len(parts) == 1 && t.Kind == TokenIdent && isExcludedWord(t.Upper()) {
			continue
		}

		name := parts[len(parts)-1]
		qualifier := strings.Join(parts[:len(parts)-1], ".")
		if context == ContextOrderBy && qualifier == "" && e.aliases[strings.ToLower(name)] {
			i = j - 1
			continue
		}

		e.refs = append(e.refs, ColumnRef{
			Name:      name,
			Qualifier: qualifier,
			Context:   context,
			Core:      e.core,
			Pos:       t.Pos,
		})
		i = j - 1
	}
}

// OutputColumns returns the names a SELECT exposes to an enclosing query, and
// whether it selects * (in which case its sources' columns are exposed too).
func (s *Statement) OutputColumns(c *SelectCore) ([]string, bool) {
	var names []string
	star := false
	for _, item := range c.Items {
		if item.Alias != "" {
			names = append(names, item.Alias)
			continue
		}
		last := s.Tokens[item.Span.End-1]
		switch {
		case last.Kind == TokenStar:
			star = true
		case last.IsIdentifier():
			names = append(names, last.Name())
		}
	}
	return names, star
}
