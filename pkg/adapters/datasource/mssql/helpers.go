package mssql

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// parseSchemaTable splits "[schema].[table]" or "schema.table".
// A bare name is in dbo.
func parseSchemaTable(tableName string) (string, string) {
	cleaned := strings.ReplaceAll(tableName, "[", "")
	cleaned = strings.ReplaceAll(cleaned, "]", "")

	if schema, table, ok := strings.Cut(cleaned, "."); ok {
		return schema, table
	}
	return "dbo", cleaned
}

// quoteName quotes an identifier the way QUOTENAME does: brackets, with ] doubled.
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// buildFullyQualifiedName returns [schema].[table], the form OBJECT_ID expects.
func buildFullyQualifiedName(schema, table string) string {
	return fmt.Sprintf("%s.%s", quoteName(schema), quoteName(table))
}

// formatColumnType renders a column type the way it is written in T-SQL DDL,
// with length, precision or scale where the type takes one. Generated SQL runs
// on SQL Server, so the prompt shows native type names.
// maxLength is sys.columns.max_length: bytes, with -1 meaning MAX.
func formatColumnType(typeName string, maxLength, precision, scale int) string {
	typeName = strings.ToUpper(typeName)

	switch typeName {
	case "VARCHAR", "CHAR", "VARBINARY", "BINARY":
		return typeName + "(" + lengthSpec(maxLength) + ")"
	case "NVARCHAR", "NCHAR":
		if maxLength > 0 {
			maxLength /= 2
		}
		return typeName + "(" + lengthSpec(maxLength) + ")"
	case "DECIMAL", "NUMERIC":
		return fmt.Sprintf("%s(%d,%d)", typeName, precision, scale)
	case "DATETIME2", "DATETIMEOFFSET", "TIME":
		if scale != 7 {
			return fmt.Sprintf("%s(%d)", typeName, scale)
		}
		return typeName
	default:
		return typeName
	}
}

func lengthSpec(maxLength int) string {
	if maxLength < 0 {
		return "MAX"
	}
	return strconv.Itoa(maxLength)
}

var stringTypes = []string{"CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT"}

// isStringType reports whether the driver hands back values of this type as []byte text.
func isStringType(sqlType string) bool {
	return slices.Contains(stringTypes, strings.ToUpper(sqlType))
}
