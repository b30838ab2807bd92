// Package datasource defines the contracts for the analytical database the
// guardrail pipeline executes against. The SQL Server implementation lives in
// the mssql subpackage.
package datasource

import "context"

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// QueryExecutor runs validated SELECT statements.
//
// The statement is executed exactly as given: callers are responsible for
// having validated, capped and permission-rewritten it. Implementations make a
// single attempt and never retry.
type QueryExecutor interface {
	Query(ctx context.Context, sqlQuery string) (*QueryExecutionResult, error)

	// Close releases any resources held by the executor.
	Close() error
}

// SchemaDiscoverer lists tables and columns for building schema snapshots.
type SchemaDiscoverer interface {
	// DiscoverTables returns all user tables (excludes system schemas).
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)

	// DiscoverColumns returns columns for a specific table in ordinal order.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)

	Close() error
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // driver type name, e.g. "NVARCHAR", "INT", "DATETIME2"
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}
