package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

const testSnapshotYAML = `
source: test
tables:
  - name: publish.DASHt_Planning
    columns:
      - {name: JobName, data_type: nvarchar, nullable: false}
      - {name: PlantName, data_type: nvarchar, nullable: true}
      - {name: OnHold, data_type: bit, nullable: false}
      - {name: HoldReason, data_type: nvarchar, nullable: true}
  - name: publish.DASHt_Resources
    columns:
      - {name: ResourceName, data_type: nvarchar, nullable: false}
      - {name: PlantName, data_type: nvarchar, nullable: true}
`

func staticLoader(data string) Loader {
	return LoaderFunc(func(context.Context) (*Snapshot, error) {
		return ParseSnapshot([]byte(data))
	})
}

func newLoadedCatalog(t *testing.T, cfg CatalogConfig) *Catalog {
	t.Helper()
	c := NewCatalog(staticLoader(testSnapshotYAML), cfg, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot([]byte(testSnapshotYAML))
	require.NoError(t, err)
	assert.Equal(t, "test", snap.Source)
	require.Len(t, snap.Tables, 2)
	assert.Equal(t, "publish.DASHt_Planning", snap.Tables[0].TableName)
	assert.True(t, snap.Tables[0].Columns[1].Nullable)
}

func TestParseSnapshot_JSON(t *testing.T) {
	snap, err := ParseSnapshot([]byte(`{"tables":[{"name":"publish.DASHt_X","columns":[{"name":"A","data_type":"int","nullable":false}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, snap.Tables[0].ColumnNames())
}

func TestParseSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "no tables", data: "tables: []", want: "no tables"},
		{name: "unnamed table", data: "tables:\n  - columns: [{name: A}]", want: "has no name"},
		{name: "no columns", data: "tables:\n  - name: publish.DASHt_X", want: "has no columns"},
		{name: "duplicate", data: "tables:\n  - {name: publish.DASHt_X, columns: [{name: A}]}\n  - {name: '[publish].[dasht_x]', columns: [{name: A}]}", want: "twice"},
		{name: "malformed", data: "tables: [", want: "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteAndLoadSnapshot(t *testing.T) {
	snap, err := ParseSnapshot([]byte(testSnapshotYAML))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := FileLoader{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Tables, loaded.Tables)

	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCatalog_Lookup(t *testing.T) {
	c := newLoadedCatalog(t, CatalogConfig{})

	for _, name := range []string{"publish.DASHt_Planning", "PUBLISH.DASHT_PLANNING", "[publish].[DASHt_Planning]", `"publish"."DASHt_Planning"`} {
		table, ok := c.Table(name)
		require.True(t, ok, name)
		assert.Equal(t, "publish.DASHt_Planning", table.TableName)
	}

	_, ok := c.Table("DASHt_Planning")
	assert.False(t, ok)

	assert.Equal(t, []string{"publish.DASHt_Planning", "publish.DASHt_Resources"}, c.TableNames())
	assert.False(t, c.LoadedAt().IsZero())
}

func TestCatalog_GetSchemas(t *testing.T) {
	c := newLoadedCatalog(t, CatalogConfig{})

	found, missing := c.GetSchemas([]string{"publish.DASHt_Resources", "publish.DASHt_Nope", "publish.dasht_planning"})
	require.Len(t, found, 2)
	assert.Equal(t, "publish.DASHt_Resources", found[0].TableName)
	assert.Equal(t, "publish.DASHt_Planning", found[1].TableName)
	assert.Equal(t, []string{"publish.DASHt_Nope"}, missing)
}

func TestCatalog_NotLoaded(t *testing.T) {
	c := NewCatalog(staticLoader(testSnapshotYAML), CatalogConfig{}, zap.NewNop())

	assert.False(t, c.Loaded())
	assert.Nil(t, c.TableNames())
	found, missing := c.GetSchemas([]string{"publish.DASHt_Planning"})
	assert.Empty(t, found)
	assert.Equal(t, []string{"publish.DASHt_Planning"}, missing)

	_, err := c.PromptBlock([]string{"publish.DASHt_Planning"}, "")
	assert.ErrorIs(t, err, apperrors.ErrSchemaNotLoaded)
}

func TestCatalog_RefreshFailureKeepsSnapshot(t *testing.T) {
	data := testSnapshotYAML
	fail := false
	loader := LoaderFunc(func(context.Context) (*Snapshot, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return ParseSnapshot([]byte(data))
	})
	c := NewCatalog(loader, CatalogConfig{}, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	fail = true
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	_, ok := c.Table("publish.DASHt_Planning")
	assert.True(t, ok)
}

func TestCatalog_RefreshSwapsSnapshotAndClearsCache(t *testing.T) {
	data := testSnapshotYAML
	loader := LoaderFunc(func(context.Context) (*Snapshot, error) {
		return ParseSnapshot([]byte(data))
	})
	c := NewCatalog(loader, CatalogConfig{}, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	before, err := c.PromptBlock([]string{"publish.DASHt_Resources"}, "")
	require.NoError(t, err)
	assert.NotContains(t, before, "Capacity")

	data = strings.Replace(testSnapshotYAML,
		"      - {name: ResourceName, data_type: nvarchar, nullable: false}\n",
		"      - {name: ResourceName, data_type: nvarchar, nullable: false}\n      - {name: Capacity, data_type: decimal, nullable: true}\n", 1)
	require.NoError(t, c.Refresh(context.Background()))

	after, err := c.PromptBlock([]string{"publish.DASHt_Resources"}, "")
	require.NoError(t, err)
	assert.Contains(t, after, "  - Capacity (decimal, nullable)")
}

func TestCatalog_PromptBlock(t *testing.T) {
	c := newLoadedCatalog(t, CatalogConfig{})

	block, err := c.PromptBlock([]string{"publish.DASHt_Resources", "publish.DASHt_Planning", "publish.dasht_planning", "publish.DASHt_Nope"}, "")
	require.NoError(t, err)

	expected := "Table: publish.DASHt_Planning\n" +
		"Columns:\n" +
		"  - JobName (nvarchar, not null)\n" +
		"  - PlantName (nvarchar, nullable)\n" +
		"  - OnHold (bit, not null)\n" +
		"  - HoldReason (nvarchar, nullable)\n" +
		"\n" +
		"Table: publish.DASHt_Resources\n" +
		"Columns:\n" +
		"  - ResourceName (nvarchar, not null)\n" +
		"  - PlantName (nvarchar, nullable)\n"
	assert.Equal(t, expected, block)

	_, err = c.PromptBlock([]string{"publish.DASHt_Nope"}, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCatalog_PromptCacheTTL(t *testing.T) {
	c := newLoadedCatalog(t, CatalogConfig{CacheTTL: time.Minute})
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.PromptBlock([]string{"publish.DASHt_Planning"}, "")
	require.NoError(t, err)
	_, err = c.PromptBlock([]string{"publish.DASHt_Resources", "publish.DASHt_Planning"}, "")
	require.NoError(t, err)
	assert.Len(t, *c.prompts.Load(), 2)

	// Same set in a different order hits the existing entry.
	_, err = c.PromptBlock([]string{"publish.DASHt_Planning", "publish.DASHt_Resources"}, "")
	require.NoError(t, err)
	assert.Len(t, *c.prompts.Load(), 2)

	now = now.Add(2 * time.Minute)
	_, err = c.PromptBlock([]string{"publish.DASHt_Planning"}, "")
	require.NoError(t, err)
	assert.Len(t, *c.prompts.Load(), 1, "expired entries are dropped on the next store")
}

func TestSlimColumns(t *testing.T) {
	table := &models.TableSchema{
		TableName: "publish.DASHt_Planning",
		Columns: []models.Column{
			{Name: "JobId"}, {Name: "JobName"}, {Name: "PlantName"}, {Name: "OnHold"},
			{Name: "HoldReason"}, {Name: "DueDate"}, {Name: "Priority"}, {Name: "RequiredQty"},
			{Name: "ScheduledStart"}, {Name: "ScheduledEnd"},
		},
	}
	cfg := SlimConfig{
		MaxColumns:    5,
		MinColumns:    3,
		AlwaysInclude: []string{"jobid", "PlantName"},
		ColumnTags: map[string]map[string][]string{
			"DASHt_Planning": {"on hold": {"OnHold", "HoldReason"}},
		},
	}

	names := func(cols []models.Column) []string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = c.Name
		}
		return out
	}

	t.Run("tagged keyword and word overlap", func(t *testing.T) {
		cols := SlimColumns(table, "Which jobs are on hold and when are they due?", cfg)
		assert.Equal(t, []string{"JobId", "PlantName", "OnHold", "HoldReason", "DueDate"}, names(cols))
	})

	t.Run("floor filled in ordinal order", func(t *testing.T) {
		cols := SlimColumns(table, "hello", cfg)
		assert.Equal(t, []string{"JobId", "JobName", "PlantName"}, names(cols))
	})

	t.Run("budget respected", func(t *testing.T) {
		cols := SlimColumns(table, "scheduled start end priority quantity due hold", cfg)
		assert.Len(t, cols, 5)
	})

	t.Run("narrow table unchanged", func(t *testing.T) {
		cols := SlimColumns(table, "anything", SlimConfig{MaxColumns: 20})
		assert.Len(t, cols, len(table.Columns))
	})

	t.Run("slimming disabled", func(t *testing.T) {
		cols := SlimColumns(table, "anything", SlimConfig{})
		assert.Len(t, cols, len(table.Columns))
	})
}

func TestCatalog_PromptBlockSlimmed(t *testing.T) {
	c := newLoadedCatalog(t, CatalogConfig{Slim: SlimConfig{MaxColumns: 2, MinColumns: 1, AlwaysInclude: []string{"JobName"}}})

	block, err := c.PromptBlock([]string{"publish.DASHt_Planning"}, "show the reason please")
	require.NoError(t, err)
	assert.Contains(t, block, "Columns (2 of 4 shown):")
	assert.Contains(t, block, "  - JobName")
	assert.Contains(t, block, "  - HoldReason")
	assert.NotContains(t, block, "PlantName")
}
