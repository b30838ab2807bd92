package sql

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Edit is a text splice: Delete bytes at Pos are replaced with Text.
type Edit struct {
	Pos    int
	Delete int
	Text   string
}

// ApplyEdits applies edits to sql. Positions refer to the original text; edits at
// the same position keep the order in which they were given.
func ApplyEdits(sql string, edits []Edit) string {
	order := make([]int, len(edits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := edits[order[a]], edits[order[b]]
		if ea.Pos != eb.Pos {
			return ea.Pos > eb.Pos
		}
		return order[a] > order[b]
	})

	out := sql
	for _, idx := range order {
		e := edits[idx]
		out = out[:e.Pos] + e.Text + out[e.Pos+e.Delete:]
	}
	return out
}

var simpleIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdentifier brackets name unless it is a plain identifier.
func QuoteIdentifier(name string) string {
	if simpleIdentifier.MatchString(name) && !isReserved(strings.ToUpper(name)) {
		return name
	}
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuoteLiteral renders value as a single-quoted string literal.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// InPredicate builds "<qualifier>.<column> IN ('v1', 'v2')". An empty value list
// yields a predicate that matches no rows.
func InPredicate(qualifier, column string, values []string) string {
	if len(values) == 0 {
		return "1 = 0"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = QuoteLiteral(v)
	}
	col := QuoteIdentifier(column)
	if qualifier != "" {
		col = qualifier + "." + col
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(quoted, ", "))
}

// InjectPredicates ANDs the given predicates into each SELECT they are keyed by.
//
// When the SELECT already has a WHERE clause the predicates go immediately after
// the keyword and the original condition is parenthesised:
//
//	WHERE <new> AND (<original>)
//
// Otherwise a WHERE clause is inserted before the earliest of GROUP BY, HAVING and
// ORDER BY, or appended at the end of the SELECT when none exist.
func InjectPredicates(stmt *Statement, preds map[*SelectCore][]string) string {
	var edits []Edit
	for _, core := range stmt.Cores() {
		list := preds[core]
		if len(list) == 0 {
			continue
		}
		combined := strings.Join(list, " AND ")

		if core.Where != nil {
			body := core.Where.Body
			edits = append(edits,
				Edit{Pos: stmt.Tokens[body.Start].Pos, Text: combined + " AND ("},
				Edit{Pos: stmt.Tokens[body.End-1].End, Text: ")"},
			)
			continue
		}

		anchor := -1
		for _, clause := range []*Clause{core.GroupBy, core.Having, core.OrderBy} {
			if clause != nil && (anchor == -1 || clause.Keyword < anchor) {
				anchor = clause.Keyword
			}
		}
		if anchor >= 0 {
			edits = append(edits, Edit{Pos: stmt.Tokens[anchor].Pos, Text: "WHERE " + combined + " "})
		} else {
			edits = append(edits, Edit{Pos: stmt.Tokens[core.Span.End-1].End, Text: " WHERE " + combined})
		}
	}
	return ApplyEdits(stmt.SQL, edits)
}

// Tables returns the distinct catalog tables the statement reads, excluding the
// CTE name and derived tables, in first-seen order.
func (s *Statement) Tables() []string {
	var tables []string
	seen := map[string]bool{}
	for _, core := range s.Cores() {
		for _, ref := range core.Sources() {
			if ref.Derived != nil {
				continue
			}
			if s.IsCTEName(ref.Name) && !s.InCTE(core) {
				continue
			}
			key := strings.ToLower(ref.Name)
			if !seen[key] {
				seen[key] = true
				tables = append(tables, ref.Name)
			}
		}
	}
	return tables
}

// ReferencedTables parses sql and returns the catalog tables it reads.
func ReferencedTables(sql string) ([]string, error) {
	stmt, err := Parse(stripTrailingSemicolon(strings.TrimSpace(sql)))
	if err != nil {
		return nil, err
	}
	return stmt.Tables(), nil
}
