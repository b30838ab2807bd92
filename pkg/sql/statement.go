package sql

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrUnsupported indicates SQL outside the supported single SELECT / single CTE subset.
	ErrUnsupported = errors.New("unsupported SQL construct")
)

// Span is a half-open range of token indexes [Start, End).
type Span struct {
	Start int
	End   int
}

// Empty reports whether the span covers no tokens.
func (s Span) Empty() bool {
	return s.End <= s.Start
}

// Contains reports whether token index i lies inside the span.
func (s Span) Contains(i int) bool {
	return i >= s.Start && i < s.End
}

// Clause is a keyword-introduced section of a SELECT (WHERE, GROUP BY, ...).
// Keyword is the index of the introducing keyword (WHERE, GROUP, HAVING, ORDER).
type Clause struct {
	Keyword int
	Body    Span
}

// TopClause is the row cap of a SELECT.
type TopClause struct {
	Keyword  int  // index of the TOP token
	Value    int  // parsed literal; valid only when Literal is true
	Literal  bool // false for TOP (@n) and other expressions
	Percent  bool
	ValueTok int // index of the literal token when Literal is true
}

// TableRef is one FROM or JOIN source.
type TableRef struct {
	Name    string // dotted name with delimiters removed, e.g. publish.DASHt_Planning
	Raw     string // source text of the name as written
	Alias   string
	Span    Span        // tokens of the name (and alias)
	Derived *SelectCore // set for FROM (SELECT ...) alias
}

// Qualifier returns the text to prefix column references with: the alias when
// present, otherwise the name as written.
func (t *TableRef) Qualifier() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Raw
}

// ShortName returns the last dotted part of the table name.
func (t *TableRef) ShortName() string {
	if idx := strings.LastIndex(t.Name, "."); idx != -1 {
		return t.Name[idx+1:]
	}
	return t.Name
}

// Matches reports whether qualifier (as used in a column reference) refers to this source.
func (t *TableRef) Matches(qualifier string) bool {
	if t.Alias != "" {
		return strings.EqualFold(t.Alias, qualifier)
	}
	return strings.EqualFold(t.Name, qualifier) || strings.EqualFold(t.ShortName(), qualifier)
}

// Join is a JOIN / APPLY source with its ON condition.
type Join struct {
	Keyword int
	Table   TableRef
	On      Span
}

// SelectItem is one comma-separated entry of the select list.
type SelectItem struct {
	Span  Span
	Alias string
	// AliasTok is the index of the alias token, or -1.
	AliasTok int
}

// SelectCore is a single SELECT with its clauses. Token indexes refer to the
// owning Statement's token slice.
type SelectCore struct {
	Select     int // index of the SELECT token
	Quantifier int // index of DISTINCT/ALL, or -1
	Top        *TopClause
	List       Span
	Items      []SelectItem
	From       []TableRef
	Joins      []Join
	Where      *Clause
	GroupBy    *Clause
	Having     *Clause
	OrderBy    *Clause
	Span       Span // the whole core
	Subqueries []*SelectCore
	Parent     *SelectCore
}

// Sources returns FROM and JOIN sources in declaration order.
func (c *SelectCore) Sources() []*TableRef {
	sources := make([]*TableRef, 0, len(c.From)+len(c.Joins))
	for i := range c.From {
		sources = append(sources, &c.From[i])
	}
	for i := range c.Joins {
		sources = append(sources, &c.Joins[i].Table)
	}
	return sources
}

// CTE is the single common table expression supported by the guardrails.
type CTE struct {
	Name    string
	Columns []string
	Body    *SelectCore
}

// Statement is a parsed single SELECT, optionally preceded by one CTE.
type Statement struct {
	SQL    string
	Tokens []Token
	CTE    *CTE
	Main   *SelectCore
}

// Cores returns every SELECT in the statement, outermost first: the CTE body and
// its nested queries, then the main SELECT and its nested queries.
func (s *Statement) Cores() []*SelectCore {
	var cores []*SelectCore
	var walk func(c *SelectCore)
	walk = func(c *SelectCore) {
		cores = append(cores, c)
		for _, sub := range c.Subqueries {
			walk(sub)
		}
	}
	if s.CTE != nil {
		walk(s.CTE.Body)
	}
	walk(s.Main)
	return cores
}

// Text returns the source text covered by span.
func (s *Statement) Text(span Span) string {
	if span.Empty() {
		return ""
	}
	return s.SQL[s.Tokens[span.Start].Pos:s.Tokens[span.End-1].End]
}

// IsCTEName reports whether name refers to the statement's CTE.
func (s *Statement) IsCTEName(name string) bool {
	return s.CTE != nil && strings.EqualFold(s.CTE.Name, name)
}

// InCTE reports whether core is the CTE body or nested inside it. References to
// the CTE name from such cores are not self-references to the CTE.
func (s *Statement) InCTE(core *SelectCore) bool {
	return s.CTE != nil && isWithin(core, s.CTE.Body)
}

// Parse tokenizes and parses sql into a Statement. The input must be a single
// statement without a trailing terminator.
func Parse(sql string) (*Statement, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty query")
	}
	for _, t := range tokens {
		if t.Kind == TokenSemicolon {
			return nil, ErrMultipleStatements
		}
	}
	if _, ok := findStatementStarter(tokens[1:]); ok {
		return nil, ErrMultipleStatements
	}

	p := &parser{sql: sql, tokens: tokens}
	stmt := &Statement{SQL: sql, Tokens: tokens}

	start := 0
	if tokens[0].IsKeyword("WITH") {
		cte, next, err := p.parseCTE()
		if err != nil {
			return nil, err
		}
		stmt.CTE = cte
		start = next
	}

	if start >= len(tokens) || !tokens[start].IsKeyword("SELECT") {
		return nil, fmt.Errorf("%w: expected SELECT", ErrUnsupported)
	}
	main, err := p.parseCore(Span{Start: start, End: len(tokens)}, nil)
	if err != nil {
		return nil, err
	}
	stmt.Main = main
	return stmt, nil
}

type parser struct {
	sql    string
	tokens []Token
}

// parseCTE parses "WITH name [(cols)] AS ( SELECT ... )" and returns the index of
// the token following the closing parenthesis.
func (p *parser) parseCTE() (*CTE, int, error) {
	i := 1
	if i >= len(p.tokens) || !p.tokens[i].IsIdentifier() {
		return nil, 0, fmt.Errorf("%w: expected CTE name after WITH", ErrUnsupported)
	}
	cte := &CTE{Name: p.tokens[i].Name()}
	i++

	if i < len(p.tokens) && p.tokens[i].Kind == TokenLParen {
		closeIdx, err := p.matchParen(i)
		if err != nil {
			return nil, 0, err
		}
		for j := i + 1; j < closeIdx; j++ {
			if p.tokens[j].IsIdentifier() {
				cte.Columns = append(cte.Columns, p.tokens[j].Name())
			}
		}
		i = closeIdx + 1
	}

	if i >= len(p.tokens) || !p.tokens[i].IsKeyword("AS") {
		return nil, 0, fmt.Errorf("%w: expected AS in CTE definition", ErrUnsupported)
	}
	i++
	if i >= len(p.tokens) || p.tokens[i].Kind != TokenLParen {
		return nil, 0, fmt.Errorf("%w: expected ( after AS in CTE definition", ErrUnsupported)
	}
	closeIdx, err := p.matchParen(i)
	if err != nil {
		return nil, 0, err
	}
	if i+1 >= closeIdx || !p.tokens[i+1].IsKeyword("SELECT") {
		return nil, 0, fmt.Errorf("%w: CTE body must be a SELECT", ErrUnsupported)
	}
	body, err := p.parseCore(Span{Start: i + 1, End: closeIdx}, nil)
	if err != nil {
		return nil, 0, err
	}
	cte.Body = body

	next := closeIdx + 1
	if next < len(p.tokens) && p.tokens[next].Kind == TokenComma {
		return nil, 0, fmt.Errorf("%w: only one CTE is supported", ErrUnsupported)
	}
	return cte, next, nil
}

// matchParen returns the index of the parenthesis closing the one at open.
func (p *parser) matchParen(open int) (int, error) {
	depth := 0
	for i := open; i < len(p.tokens); i++ {
		switch p.tokens[i].Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses at offset %d", p.tokens[open].Pos)
}

// clauseStarts lists keywords that end the select list / FROM region at depth 0.
var clauseStarts = map[string]bool{
	"FROM": true, "WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true,
	"INTO": true, "UNION": true, "INTERSECT": true, "EXCEPT": true, "OPTION": true, "FOR": true,
}

func (p *parser) parseCore(span Span, parent *SelectCore) (*SelectCore, error) {
	core := &SelectCore{Select: span.Start, Quantifier: -1, Span: span, Parent: parent}
	i := span.Start + 1

	if i < span.End && (p.tokens[i].IsKeyword("DISTINCT") || p.tokens[i].IsKeyword("ALL")) {
		core.Quantifier = i
		i++
	}
	if i < span.End && p.tokens[i].IsKeyword("TOP") {
		top, next, err := p.parseTop(i, span.End)
		if err != nil {
			return nil, err
		}
		core.Top = top
		i = next
	}

	// Locate depth-0 clause keywords.
	type marker struct {
		keyword string
		index   int
	}
	var markers []marker
	depth := 0
	for j := i; j < span.End; j++ {
		t := p.tokens[j]
		switch t.Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses at offset %d", t.Pos)
			}
		case TokenIdent:
			if depth == 0 && clauseStarts[t.Upper()] {
				markers = append(markers, marker{keyword: t.Upper(), index: j})
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in SELECT at offset %d", p.tokens[span.Start].Pos)
	}

	listEnd := span.End
	if len(markers) > 0 {
		listEnd = markers[0].index
	}
	core.List = Span{Start: i, End: listEnd}
	if core.List.Empty() {
		return nil, fmt.Errorf("%w: empty select list", ErrUnsupported)
	}

	seen := map[string]bool{}
	for m, mk := range markers {
		end := span.End
		if m+1 < len(markers) {
			end = markers[m+1].index
		}
		if seen[mk.keyword] {
			return nil, fmt.Errorf("%w: duplicate %s clause", ErrUnsupported, mk.keyword)
		}
		seen[mk.keyword] = true

		switch mk.keyword {
		case "FROM":
			if err := p.parseFrom(core, Span{Start: mk.index + 1, End: end}); err != nil {
				return nil, err
			}
		case "WHERE":
			core.Where = &Clause{Keyword: mk.index, Body: Span{Start: mk.index + 1, End: end}}
		case "GROUP", "ORDER":
			if mk.index+1 >= end || !p.tokens[mk.index+1].IsKeyword("BY") {
				return nil, fmt.Errorf("%w: expected BY after %s", ErrUnsupported, mk.keyword)
			}
			clause := &Clause{Keyword: mk.index, Body: Span{Start: mk.index + 2, End: end}}
			if mk.keyword == "GROUP" {
				core.GroupBy = clause
			} else {
				core.OrderBy = clause
			}
		case "HAVING":
			core.Having = &Clause{Keyword: mk.index, Body: Span{Start: mk.index + 1, End: end}}
		case "INTO":
			return nil, fmt.Errorf("%w: SELECT INTO is not allowed", ErrUnsupported)
		case "UNION", "INTERSECT", "EXCEPT":
			return nil, fmt.Errorf("%w: set operator %s", ErrUnsupported, mk.keyword)
		case "OPTION", "FOR":
			return nil, fmt.Errorf("%w: %s clause", ErrUnsupported, mk.keyword)
		}
	}

	for _, clause := range []*Clause{core.Where, core.GroupBy, core.Having, core.OrderBy} {
		if clause != nil && clause.Body.Empty() {
			return nil, fmt.Errorf("%w: empty %s clause", ErrUnsupported, p.tokens[clause.Keyword].Upper())
		}
	}

	core.Items = p.splitItems(core.List)

	// Nested SELECTs in expressions.
	regions := []Span{core.List}
	for _, clause := range []*Clause{core.Where, core.GroupBy, core.Having, core.OrderBy} {
		if clause != nil {
			regions = append(regions, clause.Body)
		}
	}
	for _, j := range core.Joins {
		regions = append(regions, j.On)
	}
	for _, region := range regions {
		if err := p.collectSubqueries(core, region); err != nil {
			return nil, err
		}
	}
	return core, nil
}

func (p *parser) parseTop(i, end int) (*TopClause, int, error) {
	top := &TopClause{Keyword: i}
	i++
	if i >= end {
		return nil, 0, fmt.Errorf("%w: TOP without a value", ErrUnsupported)
	}

	var valueTokens Span
	if p.tokens[i].Kind == TokenLParen {
		closeIdx, err := p.matchParen(i)
		if err != nil {
			return nil, 0, err
		}
		if closeIdx >= end {
			return nil, 0, fmt.Errorf("unbalanced parentheses in TOP clause")
		}
		valueTokens = Span{Start: i + 1, End: closeIdx}
		i = closeIdx + 1
	} else {
		valueTokens = Span{Start: i, End: i + 1}
		i++
	}

	if valueTokens.End-valueTokens.Start == 1 && p.tokens[valueTokens.Start].Kind == TokenNumber {
		n, err := strconv.Atoi(p.tokens[valueTokens.Start].Text)
		if errors.Is(err, strconv.ErrRange) && isDigits(p.tokens[valueTokens.Start].Text) {
			n, err = math.MaxInt, nil
		}
		if err == nil {
			top.Value = n
			top.Literal = true
			top.ValueTok = valueTokens.Start
		}
	}

	if i < end && p.tokens[i].IsKeyword("PERCENT") {
		top.Percent = true
		i++
	}
	if i+1 < end && p.tokens[i].IsKeyword("WITH") && p.tokens[i+1].IsKeyword("TIES") {
		i += 2
	}
	return top, i, nil
}

// joinWords are the keywords that can start a JOIN or APPLY source.
var joinWords = map[string]bool{
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "APPLY": true,
}

func (p *parser) parseFrom(core *SelectCore, span Span) error {
	if span.Empty() {
		return fmt.Errorf("%w: FROM without a table", ErrUnsupported)
	}

	i := span.Start
	first := true
	for i < span.End {
		t := p.tokens[i]

		if joinWords[t.Upper()] && t.Kind == TokenIdent {
			kw := i
			for i < span.End && p.tokens[i].Kind == TokenIdent && joinWords[p.tokens[i].Upper()] {
				i++
			}
			ref, next, err := p.parseTableRef(core, i, span.End)
			if err != nil {
				return err
			}
			join := Join{Keyword: kw, Table: ref}
			i = next
			if i < span.End && p.tokens[i].IsKeyword("ON") {
				onStart := i + 1
				i = p.skipToJoinEnd(onStart, span.End)
				join.On = Span{Start: onStart, End: i}
			}
			core.Joins = append(core.Joins, join)
			continue
		}

		if t.Kind == TokenComma {
			i++
			first = true
			continue
		}

		if !first {
			return fmt.Errorf("%w: unexpected %q in FROM clause", ErrUnsupported, t.Text)
		}
		ref, next, err := p.parseTableRef(core, i, span.End)
		if err != nil {
			return err
		}
		core.From = append(core.From, ref)
		i = next
		first = false
	}
	if len(core.From) == 0 {
		return fmt.Errorf("%w: FROM without a table", ErrUnsupported)
	}
	return nil
}

// skipToJoinEnd advances past an ON condition to the next depth-0 join keyword or comma.
func (p *parser) skipToJoinEnd(i, end int) int {
	depth := 0
	for ; i < end; i++ {
		t := p.tokens[i]
		switch t.Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenComma:
			if depth == 0 {
				return i
			}
		case TokenIdent:
			if depth == 0 && joinWords[t.Upper()] {
				return i
			}
		}
	}
	return i
}

func (p *parser) parseTableRef(core *SelectCore, i, end int) (TableRef, int, error) {
	if i >= end {
		return TableRef{}, 0, fmt.Errorf("%w: expected table name", ErrUnsupported)
	}
	start := i
	ref := TableRef{}

	if p.tokens[i].Kind == TokenLParen {
		closeIdx, err := p.matchParen(i)
		if err != nil {
			return TableRef{}, 0, err
		}
		if closeIdx >= end || i+1 >= closeIdx || !p.tokens[i+1].IsKeyword("SELECT") {
			return TableRef{}, 0, fmt.Errorf("%w: derived table must be a SELECT", ErrUnsupported)
		}
		derived, err := p.parseCore(Span{Start: i + 1, End: closeIdx}, core)
		if err != nil {
			return TableRef{}, 0, err
		}
		ref.Derived = derived
		core.Subqueries = append(core.Subqueries, derived)
		i = closeIdx + 1
	} else {
		var parts []string
		for {
			if i >= end || !p.tokens[i].IsIdentifier() || (p.tokens[i].Kind == TokenIdent && isReserved(p.tokens[i].Upper())) {
				return TableRef{}, 0, fmt.Errorf("%w: expected table name at offset %d", ErrUnsupported, p.tokenPos(i))
			}
			parts = append(parts, p.tokens[i].Name())
			i++
			if i < end && p.tokens[i].Kind == TokenDot {
				i++
				continue
			}
			break
		}
		if i < end && p.tokens[i].Kind == TokenLParen {
			return TableRef{}, 0, fmt.Errorf("%w: table-valued functions are not supported", ErrUnsupported)
		}
		ref.Name = strings.Join(parts, ".")
		ref.Raw = p.sql[p.tokens[start].Pos:p.tokens[i-1].End]
	}

	if i < end && p.tokens[i].IsKeyword("AS") {
		i++
		if i >= end || !p.tokens[i].IsIdentifier() {
			return TableRef{}, 0, fmt.Errorf("%w: expected alias after AS", ErrUnsupported)
		}
	}
	if i < end && p.tokens[i].IsIdentifier() && !(p.tokens[i].Kind == TokenIdent && isReserved(p.tokens[i].Upper())) {
		ref.Alias = p.tokens[i].Name()
		i++
	}
	// Table hints: WITH (NOLOCK)
	if i+1 < end && p.tokens[i].IsKeyword("WITH") && p.tokens[i+1].Kind == TokenLParen {
		closeIdx, err := p.matchParen(i + 1)
		if err != nil {
			return TableRef{}, 0, err
		}
		i = closeIdx + 1
	}
	if ref.Derived != nil && ref.Alias == "" {
		return TableRef{}, 0, fmt.Errorf("%w: derived table requires an alias", ErrUnsupported)
	}
	ref.Span = Span{Start: start, End: i}
	return ref, i, nil
}

func (p *parser) tokenPos(i int) int {
	if i < len(p.tokens) {
		return p.tokens[i].Pos
	}
	return len(p.sql)
}

// splitItems splits the select list on depth-0 commas and detects aliases.
func (p *parser) splitItems(list Span) []SelectItem {
	var items []SelectItem
	depth := 0
	start := list.Start
	flush := func(end int) {
		if end > start {
			items = append(items, p.selectItem(Span{Start: start, End: end}))
		}
	}
	for i := list.Start; i < list.End; i++ {
		switch p.tokens[i].Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenComma:
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(list.End)
	return items
}

func (p *parser) selectItem(span Span) SelectItem {
	item := SelectItem{Span: span, AliasTok: -1}
	n := span.End - span.Start
	if n < 2 {
		return item
	}

	// alias = expression
	first, second := p.tokens[span.Start], p.tokens[span.Start+1]
	if first.IsIdentifier() && second.Kind == TokenOperator && second.Text == "=" && n > 2 {
		item.Alias = first.Name()
		item.AliasTok = span.Start
		return item
	}

	last := p.tokens[span.End-1]
	prev := p.tokens[span.End-2]
	if last.Kind == TokenString && prev.IsKeyword("AS") {
		item.Alias = strings.Trim(last.Text, "'")
		item.AliasTok = span.End - 1
		return item
	}
	if !last.IsIdentifier() || (last.Kind == TokenIdent && isReserved(last.Upper())) {
		return item
	}
	switch {
	case prev.IsKeyword("AS"):
	case prev.Kind == TokenDot, prev.Kind == TokenOperator, prev.Kind == TokenStar, prev.Kind == TokenComma, prev.Kind == TokenLParen:
		return item
	case prev.Kind == TokenIdent && isReserved(prev.Upper()) && !prev.IsKeyword("END"):
		// e.g. "ELSE col" or "THEN col": the identifier is an operand.
		return item
	}
	item.Alias = last.Name()
	item.AliasTok = span.End - 1
	return item
}

// collectSubqueries parses every "( SELECT ... )" in region into core.Subqueries.
func (p *parser) collectSubqueries(core *SelectCore, region Span) error {
	for i := region.Start; i < region.End; i++ {
		if p.tokens[i].Kind != TokenLParen || i+1 >= region.End || !p.tokens[i+1].IsKeyword("SELECT") {
			continue
		}
		closeIdx, err := p.matchParen(i)
		if err != nil {
			return err
		}
		sub, err := p.parseCore(Span{Start: i + 1, End: closeIdx}, core)
		if err != nil {
			return err
		}
		core.Subqueries = append(core.Subqueries, sub)
		i = closeIdx
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
