package schema

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// DiscoveryLoader builds snapshots by querying the analytical database's
// metadata. Include selects which "schema.table" names end up in the snapshot;
// nil includes everything.
type DiscoveryLoader struct {
	Discoverer datasource.SchemaDiscoverer
	Include    func(qualifiedName string) bool
	Source     string
	Logger     *zap.Logger
}

// Load implements Loader.
func (l *DiscoveryLoader) Load(ctx context.Context) (*Snapshot, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tables, err := l.Discoverer.DiscoverTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tables: %w", err)
	}

	snap := &Snapshot{ExportedAt: time.Now().UTC(), Source: l.Source}
	for _, t := range tables {
		name := t.QualifiedName()
		if l.Include != nil && !l.Include(name) {
			continue
		}
		cols, err := l.Discoverer.DiscoverColumns(ctx, t.SchemaName, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to discover columns for %s: %w", name, err)
		}
		if len(cols) == 0 {
			logger.Warn("Skipping table without columns", zap.String("table", name))
			continue
		}
		ts := &models.TableSchema{TableName: name, Columns: make([]models.Column, len(cols))}
		for i, c := range cols {
			ts.Columns[i] = models.Column{Name: c.ColumnName, DataType: c.DataType, Nullable: c.IsNullable}
		}
		snap.Tables = append(snap.Tables, ts)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Discovered schema snapshot",
		zap.Int("tables_seen", len(tables)),
		zap.Int("tables_kept", len(snap.Tables)))
	return snap, nil
}
