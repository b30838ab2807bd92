// Package schema holds the in-memory catalog of curated reporting tables: the
// snapshot exported from SQL Server, case-insensitive lookups, column slimming for
// prompts and a short-lived cache of formatted prompt blocks.
package schema

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// Snapshot is the serialized form of the catalog. JSON input is accepted as well,
// since it is a subset of YAML.
type Snapshot struct {
	ExportedAt time.Time             `yaml:"exported_at,omitempty" json:"exported_at,omitempty"`
	Source     string                `yaml:"source,omitempty" json:"source,omitempty"`
	Tables     []*models.TableSchema `yaml:"tables" json:"tables"`
}

// Loader produces a fresh snapshot. Implementations must be safe to call concurrently.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (*Snapshot, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// FileLoader reads the snapshot from a file on every Load.
type FileLoader struct {
	Path string
}

// Load implements Loader.
func (l FileLoader) Load(_ context.Context) (*Snapshot, error) {
	return LoadSnapshot(l.Path)
}

// LoadSnapshot reads and validates a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes and validates snapshot data.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse schema snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Validate checks that every table is named, has columns and appears once.
func (s *Snapshot) Validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema snapshot contains no tables")
	}
	seen := make(map[string]bool, len(s.Tables))
	for i, t := range s.Tables {
		if t == nil || strings.TrimSpace(t.TableName) == "" {
			return fmt.Errorf("schema snapshot table %d has no name", i)
		}
		key := NormalizeTableName(t.TableName)
		if seen[key] {
			return fmt.Errorf("schema snapshot lists table %s twice", t.TableName)
		}
		seen[key] = true
		if len(t.Columns) == 0 {
			return fmt.Errorf("schema snapshot table %s has no columns", t.TableName)
		}
		for _, c := range t.Columns {
			if strings.TrimSpace(c.Name) == "" {
				return fmt.Errorf("schema snapshot table %s has an unnamed column", t.TableName)
			}
		}
	}
	return nil
}

// Marshal encodes the snapshot as YAML.
func (s *Snapshot) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// WriteSnapshot encodes snap as YAML and writes it to path.
func WriteSnapshot(path string, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode schema snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema snapshot: %w", err)
	}
	return nil
}

var nameDelimiters = strings.NewReplacer("[", "", "]", "", `"`, "", "`", "")

// NormalizeTableName lowercases name and removes identifier delimiters, so
// "[publish].[DASHt_Planning]" and "publish.dasht_planning" compare equal.
func NormalizeTableName(name string) string {
	return strings.ToLower(strings.TrimSpace(nameDelimiters.Replace(name)))
}
