package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource"
)

// QueryExecutor runs validated SELECT statements against SQL Server.
type QueryExecutor struct {
	db     *sql.DB
	owned  *Adapter
	logger *zap.Logger
}

// NewQueryExecutor opens a connection pool for cfg and returns an executor that owns it.
func NewQueryExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (*QueryExecutor, error) {
	adapter, err := NewAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &QueryExecutor{db: adapter.DB(), owned: adapter, logger: logger.Named("mssql-executor")}, nil
}

// NewQueryExecutorFromDB wraps an existing pool. Close does not close db.
func NewQueryExecutorFromDB(db *sql.DB, logger *zap.Logger) *QueryExecutor {
	return &QueryExecutor{db: db, logger: logger.Named("mssql-executor")}
}

// TestConnection checks that the datasource answers a trivial query.
func (e *QueryExecutor) TestConnection(ctx context.Context) error {
	if e.owned != nil {
		return e.owned.TestConnection(ctx)
	}
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Query runs sqlQuery as given. The statement is not wrapped or re-limited since
// a wrapping SELECT cannot contain a CTE; the row cap is already part of it.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string) (*datasource.QueryExecutionResult, error) {
	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = datasource.ColumnInfo{
			Name: ct.Name(),
			Type: strings.ToUpper(ct.DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		resultRows = append(resultRows, rowMap(columnTypes, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	e.logger.Debug("Query executed",
		zap.Int("columns", len(columns)),
		zap.Int("rows", len(resultRows)))

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// rowMap converts scanned values to a column-keyed map, decoding character data
// returned as []byte into strings.
func rowMap(columnTypes []*sql.ColumnType, values []any) map[string]any {
	row := make(map[string]any, len(values))
	for i, ct := range columnTypes {
		val := values[i]
		if b, ok := val.([]byte); ok && isStringType(ct.DatabaseTypeName()) {
			val = string(b)
		}
		row[ct.Name()] = val
	}
	return row
}

// Close releases the pool when the executor opened it.
func (e *QueryExecutor) Close() error {
	if e.owned != nil {
		return e.owned.Close()
	}
	return nil
}

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
var _ datasource.ConnectionTester = (*QueryExecutor)(nil)
