package schema

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// DefaultCacheTTL is how long a formatted prompt block is reused.
const DefaultCacheTTL = 10 * time.Minute

// snapshot is the immutable, indexed view of one loaded Snapshot.
type snapshot struct {
	tables   map[string]*models.TableSchema // keyed by NormalizeTableName
	ordered  []*models.TableSchema
	loadedAt time.Time
}

type promptEntry struct {
	text      string
	expiresAt time.Time
}

// Catalog serves table schemas from the most recently loaded snapshot.
// Reads are lock-free; Refresh swaps the snapshot wholesale.
type Catalog struct {
	loader Loader
	slim   SlimConfig
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	current atomic.Pointer[snapshot]
	prompts atomic.Pointer[map[string]promptEntry]
}

// CatalogConfig configures a Catalog.
type CatalogConfig struct {
	CacheTTL time.Duration
	Slim     SlimConfig
}

// NewCatalog creates an empty catalog. Call Refresh to load the first snapshot.
func NewCatalog(loader Loader, cfg CatalogConfig, logger *zap.Logger) *Catalog {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Catalog{
		loader: loader,
		slim:   cfg.Slim,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("schema"),
	}
	empty := map[string]promptEntry{}
	c.prompts.Store(&empty)
	return c
}

// Refresh loads a new snapshot and swaps it in. On failure the previous snapshot
// (if any) stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	snap, err := c.loader.Load(ctx)
	if err != nil {
		c.logger.Error("Failed to load schema snapshot", zap.Error(err))
		return fmt.Errorf("failed to refresh schema catalog: %w", err)
	}
	if err := snap.Validate(); err != nil {
		c.logger.Error("Rejected invalid schema snapshot", zap.Error(err))
		return fmt.Errorf("failed to refresh schema catalog: %w", err)
	}

	next := &snapshot{
		tables:   make(map[string]*models.TableSchema, len(snap.Tables)),
		ordered:  snap.Tables,
		loadedAt: c.now(),
	}
	for _, t := range snap.Tables {
		next.tables[NormalizeTableName(t.TableName)] = t
	}
	c.current.Store(next)

	empty := map[string]promptEntry{}
	c.prompts.Store(&empty)

	c.logger.Info("Schema catalog refreshed",
		zap.Int("tables", len(snap.Tables)),
		zap.String("source", snap.Source))
	return nil
}

// Loaded reports whether a snapshot is available.
func (c *Catalog) Loaded() bool {
	return c.current.Load() != nil
}

// LoadedAt returns when the current snapshot was loaded, or the zero time.
func (c *Catalog) LoadedAt() time.Time {
	if s := c.current.Load(); s != nil {
		return s.loadedAt
	}
	return time.Time{}
}

// Table looks up a table by name, ignoring case and identifier delimiters.
func (c *Catalog) Table(name string) (*models.TableSchema, bool) {
	s := c.current.Load()
	if s == nil {
		return nil, false
	}
	t, ok := s.tables[NormalizeTableName(name)]
	return t, ok
}

// TableNames returns every table name in snapshot order.
func (c *Catalog) TableNames() []string {
	s := c.current.Load()
	if s == nil {
		return nil
	}
	names := make([]string, len(s.ordered))
	for i, t := range s.ordered {
		names[i] = t.TableName
	}
	return names
}

// GetSchemas resolves tables in order. Unknown names (or every name, when no
// snapshot is loaded) are returned in missing.
func (c *Catalog) GetSchemas(tables []string) ([]*models.TableSchema, []string) {
	var found []*models.TableSchema
	var missing []string
	for _, name := range tables {
		if t, ok := c.Table(name); ok {
			found = append(found, t)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing
}

// PromptBlock formats the schemas of tables for inclusion in a generation prompt.
// Wide tables are slimmed with respect to question. Results are cached per table
// set and column selection until the cache TTL passes or the catalog is refreshed.
func (c *Catalog) PromptBlock(tables []string, question string) (string, error) {
	if !c.Loaded() {
		return "", apperrors.ErrSchemaNotLoaded
	}
	schemas, missing := c.GetSchemas(tables)
	if len(missing) > 0 {
		c.logger.Warn("Prompt requested for tables missing from catalog",
			zap.Strings("missing", missing))
	}
	if len(schemas) == 0 {
		return "", fmt.Errorf("no known tables among %v: %w", tables, apperrors.ErrNotFound)
	}

	sort.Slice(schemas, func(i, j int) bool {
		return NormalizeTableName(schemas[i].TableName) < NormalizeTableName(schemas[j].TableName)
	})
	schemas = slices.Compact(schemas)
	columns := make([][]models.Column, len(schemas))
	var key strings.Builder
	for i, t := range schemas {
		columns[i] = SlimColumns(t, question, c.slim)
		key.WriteString(NormalizeTableName(t.TableName))
		key.WriteByte('(')
		for _, col := range columns[i] {
			key.WriteString(strings.ToLower(col.Name))
			key.WriteByte(',')
		}
		key.WriteByte(')')
	}

	now := c.now()
	cached := c.prompts.Load()
	if e, ok := (*cached)[key.String()]; ok && now.Before(e.expiresAt) {
		return e.text, nil
	}

	text := formatPromptBlock(schemas, columns)

	next := make(map[string]promptEntry, len(*cached)+1)
	for k, e := range *cached {
		if now.Before(e.expiresAt) {
			next[k] = e
		}
	}
	next[key.String()] = promptEntry{text: text, expiresAt: now.Add(c.ttl)}
	// Concurrent misses may both store; either entry is correct.
	c.prompts.CompareAndSwap(cached, &next)
	return text, nil
}

func formatPromptBlock(schemas []*models.TableSchema, columns [][]models.Column) string {
	var b strings.Builder
	for i, t := range schemas {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table: %s\n", t.TableName)
		if len(columns[i]) < len(t.Columns) {
			fmt.Fprintf(&b, "Columns (%d of %d shown):\n", len(columns[i]), len(t.Columns))
		} else {
			b.WriteString("Columns:\n")
		}
		for _, col := range columns[i] {
			null := "not null"
			if col.Nullable {
				null = "nullable"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s)\n", col.Name, col.DataType, null)
		}
	}
	return b.String()
}
