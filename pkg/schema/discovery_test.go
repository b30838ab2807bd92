package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource"
)

type mockDiscoverer struct {
	tables  []datasource.TableMetadata
	columns map[string][]datasource.ColumnMetadata
	err     error
}

func (m *mockDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	return m.tables, m.err
}

func (m *mockDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	return m.columns[schemaName+"."+tableName], nil
}

func (m *mockDiscoverer) Close() error { return nil }

func TestDiscoveryLoader_Load(t *testing.T) {
	d := &mockDiscoverer{
		tables: []datasource.TableMetadata{
			{SchemaName: "publish", TableName: "DASHt_Planning"},
			{SchemaName: "publish", TableName: "DASHt_Empty"},
			{SchemaName: "dbo", TableName: "Jobs"},
		},
		columns: map[string][]datasource.ColumnMetadata{
			"publish.DASHt_Planning": {
				{ColumnName: "JobName", DataType: "NVARCHAR(50)", IsNullable: true, OrdinalPosition: 1},
				{ColumnName: "PlanningArea", DataType: "NVARCHAR(50)", OrdinalPosition: 2},
			},
			"dbo.Jobs": {{ColumnName: "Id", DataType: "INT"}},
		},
	}
	loader := &DiscoveryLoader{
		Discoverer: d,
		Include:    func(name string) bool { return name != "dbo.Jobs" },
		Source:     "test",
		Logger:     zap.NewNop(),
	}

	snap, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Tables, 1)
	assert.Equal(t, "publish.DASHt_Planning", snap.Tables[0].TableName)
	assert.Equal(t, []string{"JobName", "PlanningArea"}, snap.Tables[0].ColumnNames())
	assert.True(t, snap.Tables[0].Columns[0].Nullable)
	assert.Equal(t, "test", snap.Source)
	assert.False(t, snap.ExportedAt.IsZero())
}

func TestDiscoveryLoader_Errors(t *testing.T) {
	_, err := (&DiscoveryLoader{Discoverer: &mockDiscoverer{err: errors.New("login failed")}}).Load(context.Background())
	assert.ErrorContains(t, err, "login failed")

	_, err = (&DiscoveryLoader{Discoverer: &mockDiscoverer{}}).Load(context.Background())
	assert.ErrorContains(t, err, "no tables")
}
