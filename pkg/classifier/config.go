package classifier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/schema"
)

// Default budgets and confidence thresholds.
const (
	DefaultMinTables    = 2
	DefaultMaxTables    = 5
	DefaultHighScore    = 3
	DefaultHighDistinct = 2
)

// Config is the classifier's static configuration, loaded from YAML.
type Config struct {
	Matrix    []models.MatrixEntry  `yaml:"matrix"`
	Overrides []models.OverrideRule `yaml:"overrides"`

	// Modes scopes the candidate tables per question mode. Unknown or empty modes see every table.
	Modes map[string][]string `yaml:"modes"`

	// TableKeywords tags tables with loose topic words used only for the low-confidence signal.
	TableKeywords map[string][]string `yaml:"table_keywords"`

	Glossary []models.GlossaryTerm `yaml:"glossary"`

	// DefaultTables is the safe selection used when nothing matched.
	DefaultTables []string `yaml:"default_tables"`
	MinTables     int      `yaml:"min_tables"`
	MaxTables     int      `yaml:"max_tables"`

	// Confidence thresholds. They are hand tuned; keep them in configuration.
	HighScore    int `yaml:"high_score"`
	HighDistinct int `yaml:"high_distinct"`

	// Columns controls prompt column slimming in the schema catalog.
	Columns schema.SlimConfig `yaml:"columns"`
}

// LoadConfig reads and validates a classifier configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse classifier config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinTables <= 0 {
		c.MinTables = DefaultMinTables
	}
	if c.MaxTables <= 0 {
		c.MaxTables = DefaultMaxTables
	}
	if c.HighScore <= 0 {
		c.HighScore = DefaultHighScore
	}
	if c.HighDistinct <= 0 {
		c.HighDistinct = DefaultHighDistinct
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.DefaultTables) == 0 {
		return fmt.Errorf("classifier config: default_tables must not be empty")
	}
	if c.MinTables > c.MaxTables {
		return fmt.Errorf("classifier config: min_tables %d exceeds max_tables %d", c.MinTables, c.MaxTables)
	}
	for i, e := range c.Matrix {
		if len(e.Keywords) == 0 {
			return fmt.Errorf("classifier config: matrix entry %d has no keywords", i)
		}
		if len(e.Tier1Tables) == 0 && len(e.Tier2Tables) == 0 {
			return fmt.Errorf("classifier config: matrix entry %d (%s) has no tables", i, e.Keywords[0])
		}
		for _, kw := range e.Keywords {
			if Normalize(kw) == "" {
				return fmt.Errorf("classifier config: matrix entry %d has an empty keyword", i)
			}
		}
	}
	for i, o := range c.Overrides {
		if len(o.Triggers) == 0 || len(o.RequiredTables) == 0 {
			return fmt.Errorf("classifier config: override %d needs triggers and required_tables", i)
		}
	}
	for name := range c.Modes {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("classifier config: mode with empty name")
		}
	}
	return nil
}
