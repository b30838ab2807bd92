package sql

// reservedWords can never be a bare column, table name or alias.
var reservedWords = map[string]bool{
	"ALL": true, "AND": true, "ANY": true, "APPLY": true, "AS": true, "ASC": true,
	"BETWEEN": true, "BY": true, "CASE": true, "COLLATE": true, "CROSS": true,
	"CURRENT": true, "DESC": true, "DISTINCT": true, "ELSE": true, "END": true,
	"ESCAPE": true, "EXCEPT": true, "EXISTS": true, "FETCH": true, "FOLLOWING": true,
	"FOR": true, "FROM": true, "FULL": true, "GROUP": true, "HAVING": true, "IN": true,
	"INNER": true, "INTERSECT": true, "INTO": true, "IS": true, "JOIN": true, "LEFT": true,
	"LIKE": true, "NEXT": true, "NOT": true, "NULL": true, "OFFSET": true, "ON": true,
	"ONLY": true, "OPTION": true, "OR": true, "ORDER": true, "OUTER": true, "OVER": true,
	"PARTITION": true, "PERCENT": true, "PRECEDING": true, "RANGE": true, "RIGHT": true,
	"ROW": true, "ROWS": true, "SELECT": true, "SOME": true, "THEN": true, "TIES": true,
	"TOP": true, "UNBOUNDED": true, "UNION": true, "WHEN": true, "WHERE": true, "WITH": true,
	"WITHIN": true,
}

// niladicBuiltins are built-in values referenced without parentheses.
var niladicBuiltins = map[string]bool{
	"CURRENT_TIMESTAMP": true, "CURRENT_DATE": true, "CURRENT_TIME": true,
	"CURRENT_USER": true, "SESSION_USER": true, "SYSTEM_USER": true, "USER": true,
	"TRUE": true, "FALSE": true,
}

// datepartFunctions take a datepart keyword (year, month, dd, ...) as first argument.
var datepartFunctions = map[string]bool{
	"DATEADD": true, "DATEDIFF": true, "DATEDIFF_BIG": true, "DATENAME": true,
	"DATEPART": true, "DATETRUNC": true, "DATE_BUCKET": true,
}

// typeArgFunctions take a data type as first argument.
var typeArgFunctions = map[string]bool{
	"CONVERT": true, "TRY_CONVERT": true,
}

// builtinFunctions are never reported as columns, even when written without the
// call parentheses.
var builtinFunctions = map[string]bool{
	"ABS": true, "AVG": true, "CAST": true, "CEILING": true, "CHARINDEX": true,
	"CHOOSE": true, "COALESCE": true, "CONCAT": true, "CONCAT_WS": true, "CONVERT": true,
	"COUNT": true, "COUNT_BIG": true, "DATEADD": true, "DATEDIFF": true, "DATEDIFF_BIG": true,
	"DATEFROMPARTS": true, "DATENAME": true, "DATEPART": true, "DATETRUNC": true, "DAY": true,
	"DENSE_RANK": true, "EOMONTH": true, "FLOOR": true, "FORMAT": true, "GETDATE": true,
	"GETUTCDATE": true, "IIF": true, "ISDATE": true, "ISNULL": true, "ISNUMERIC": true,
	"LAG": true, "LEAD": true, "LEN": true, "LOWER": true, "LTRIM": true, "MAX": true,
	"MIN": true, "MONTH": true, "NTILE": true, "NULLIF": true, "RANK": true, "REPLACE": true,
	"ROUND": true, "ROW_NUMBER": true, "RTRIM": true, "STDEV": true, "STRING_AGG": true,
	"SUBSTRING": true, "SUM": true, "SYSDATETIME": true, "TRIM": true, "TRY_CAST": true,
	"TRY_CONVERT": true, "UPPER": true, "VAR": true, "YEAR": true,
}

func isReserved(upper string) bool {
	return reservedWords[upper]
}

// isExcludedWord reports whether a bare identifier must not be treated as a column.
func isExcludedWord(upper string) bool {
	return reservedWords[upper] || niladicBuiltins[upper] || builtinFunctions[upper]
}

// statementStarters begin another T-SQL statement or reach outside the query.
// T-SQL needs no terminator between batch statements, so any of these appearing
// as a bare word after the leading verb means a second statement.
var statementStarters = map[string]bool{
	"ALTER": true, "BACKUP": true, "BEGIN": true, "CREATE": true, "DBCC": true,
	"DECLARE": true, "DELETE": true, "DENY": true, "DROP": true, "EXEC": true,
	"EXECUTE": true, "GRANT": true, "IF": true, "INSERT": true, "KILL": true,
	"MERGE": true, "OPENDATASOURCE": true, "OPENQUERY": true, "OPENROWSET": true,
	"PRINT": true, "RAISERROR": true, "RESTORE": true, "RETURN": true, "REVOKE": true,
	"SET": true, "SHUTDOWN": true, "THROW": true, "TRUNCATE": true, "UPDATE": true,
	"USE": true, "WAITFOR": true, "WHILE": true,
}

// findStatementStarter returns the first bare statement-starting word in tokens.
// Parts of a dotted name (t.Update) are column references and are skipped.
func findStatementStarter(tokens []Token) (Token, bool) {
	for i, t := range tokens {
		if t.Kind != TokenIdent || !statementStarters[t.Upper()] {
			continue
		}
		if i > 0 && tokens[i-1].Kind == TokenDot {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].Kind == TokenDot {
			continue
		}
		return t, true
	}
	return Token{}, false
}
