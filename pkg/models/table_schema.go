package models

import "strings"

// Column describes one column of a catalog table.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	DataType string `json:"data_type" yaml:"data_type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// TableSchema is the column list of a fully qualified table (e.g. "publish.DASHt_Planning").
// Values handed out by the schema catalog are shared and must not be mutated;
// a refresh replaces them wholesale.
type TableSchema struct {
	TableName string   `json:"table_name" yaml:"name"`
	Columns   []Column `json:"columns" yaml:"columns"`
}

// HasColumn reports whether the table has a column with the given name (case-insensitive).
func (t *TableSchema) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in ordinal order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SchemaName returns the schema part of the table name, or "" when unqualified.
func (t *TableSchema) SchemaName() string {
	if idx := strings.LastIndex(t.TableName, "."); idx != -1 {
		return t.TableName[:idx]
	}
	return ""
}

// ShortName returns the table name without its schema qualifier.
func (t *TableSchema) ShortName() string {
	if idx := strings.LastIndex(t.TableName, "."); idx != -1 {
		return t.TableName[idx+1:]
	}
	return t.TableName
}
