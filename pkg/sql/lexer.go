// Package sql provides the SQL guardrails: a tokenizer and statement model for the
// restricted SELECT subset, the shape validator, column reference extraction, and the
// predicate injection primitives used by the permission rewriter.
package sql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenIdent       TokenKind = iota // bare identifier or keyword
	TokenQuotedIdent                  // [name], "name" or `name`
	TokenString                       // 'text' or N'text'
	TokenNumber
	TokenVariable // @name or @@name
	TokenComma
	TokenLParen
	TokenRParen
	TokenDot
	TokenSemicolon
	TokenStar
	TokenOperator
)

// Token is a lexical item with its byte offsets in the source text.
type Token struct {
	Kind TokenKind
	Text string // raw source text
	Pos  int    // byte offset of the first character
	End  int    // byte offset just past the last character
}

// IsKeyword reports whether the token is the bare word kw (case-insensitive).
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == TokenIdent && strings.EqualFold(t.Text, kw)
}

// IsIdentifier reports whether the token can name a table, column or alias.
func (t Token) IsIdentifier() bool {
	return t.Kind == TokenIdent || t.Kind == TokenQuotedIdent
}

// Name returns the identifier with delimiters removed and escapes resolved.
func (t Token) Name() string {
	if t.Kind != TokenQuotedIdent || len(t.Text) < 2 {
		return t.Text
	}
	inner := t.Text[1 : len(t.Text)-1]
	switch t.Text[0] {
	case '[':
		return strings.ReplaceAll(inner, "]]", "]")
	case '"':
		return strings.ReplaceAll(inner, `""`, `"`)
	case '`':
		return strings.ReplaceAll(inner, "``", "`")
	}
	return inner
}

// Upper returns the upper-cased token text; used for keyword comparisons.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Tokenize splits sql into tokens, dropping whitespace and comments.
// It fails on unterminated strings, quoted identifiers and block comments.
func Tokenize(sql string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(sql) {
		ch := sql[i]

		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v':
			i++
			continue

		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			continue

		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end == -1 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			i += end + 4
			continue

		case ch == '\'':
			end, err := scanQuoted(sql, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue

		case (ch == 'N' || ch == 'n') && i+1 < len(sql) && sql[i+1] == '\'':
			end, err := scanQuoted(sql, i+1, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue

		case ch == '[':
			end, err := scanQuoted(sql, i, ']')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: TokenQuotedIdent, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue

		case ch == '"' || ch == '`':
			end, err := scanQuoted(sql, i, ch)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: TokenQuotedIdent, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue

		case ch >= '0' && ch <= '9':
			end := scanNumber(sql, i)
			tokens = append(tokens, Token{Kind: TokenNumber, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue

		case ch == '@':
			end := i + 1
			for end < len(sql) && sql[end] == '@' {
				end++
			}
			end = scanIdentRest(sql, end)
			tokens = append(tokens, Token{Kind: TokenVariable, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue
		}

		if single, ok := punctuation[ch]; ok {
			tokens = append(tokens, Token{Kind: single, Text: sql[i : i+1], Pos: i, End: i + 1})
			i++
			continue
		}

		if strings.IndexByte("=<>!+-/%&|^~", ch) != -1 {
			end := i + 1
			if end < len(sql) && isCompoundOperator(sql[i:end+1]) {
				end++
			}
			tokens = append(tokens, Token{Kind: TokenOperator, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue
		}

		r, size := utf8.DecodeRuneInString(sql[i:])
		if r == '_' || r == '#' || unicode.IsLetter(r) {
			end := scanIdentRest(sql, i+size)
			tokens = append(tokens, Token{Kind: TokenIdent, Text: sql[i:end], Pos: i, End: end})
			i = end
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
	}
	return tokens, nil
}

var punctuation = map[byte]TokenKind{
	',': TokenComma,
	'(': TokenLParen,
	')': TokenRParen,
	'.': TokenDot,
	';': TokenSemicolon,
	'*': TokenStar,
}

func isCompoundOperator(op string) bool {
	switch op {
	case "<=", ">=", "<>", "!=", "!<", "!>", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=":
		return true
	}
	return false
}

// scanQuoted returns the offset just past the closing delimiter of the literal that
// opens at sql[start]. A doubled closing delimiter is an escape.
func scanQuoted(sql string, start int, closing byte) (int, error) {
	i := start + 1
	for i < len(sql) {
		if sql[i] == closing {
			if i+1 < len(sql) && sql[i+1] == closing {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated %c literal starting at offset %d", sql[start], start)
}

func scanNumber(sql string, start int) int {
	i := start
	if strings.HasPrefix(sql[i:], "0x") || strings.HasPrefix(sql[i:], "0X") {
		i += 2
		for i < len(sql) && isHexDigit(sql[i]) {
			i++
		}
		return i
	}
	for i < len(sql) && isDigit(sql[i]) {
		i++
	}
	if i < len(sql) && sql[i] == '.' {
		i++
		for i < len(sql) && isDigit(sql[i]) {
			i++
		}
	}
	if i < len(sql) && (sql[i] == 'e' || sql[i] == 'E') {
		j := i + 1
		if j < len(sql) && (sql[j] == '+' || sql[j] == '-') {
			j++
		}
		if j < len(sql) && isDigit(sql[j]) {
			i = j
			for i < len(sql) && isDigit(sql[i]) {
				i++
			}
		}
	}
	return i
}

func scanIdentRest(sql string, i int) int {
	for i < len(sql) {
		r, size := utf8.DecodeRuneInString(sql[i:])
		if r == '_' || r == '$' || r == '#' || r == '@' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			i += size
			continue
		}
		break
	}
	return i
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isHexDigit(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
