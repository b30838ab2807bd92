package schema

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// SlimConfig controls how wide tables are trimmed before they are shown to the model.
type SlimConfig struct {
	// MaxColumns is the per-table column budget. Zero disables slimming.
	MaxColumns int `yaml:"max_columns"`
	// MinColumns is the floor filled in ordinal order when too few columns matched.
	MinColumns int `yaml:"min_columns"`
	// AlwaysInclude columns are kept for every table that has them (keys, dates, plant...).
	AlwaysInclude []string `yaml:"always_include"`
	// ColumnTags maps a table (full or short name) to keyword tags and the columns each tag pulls in.
	ColumnTags map[string]map[string][]string `yaml:"column_tags"`
}

// SlimColumns picks the columns of table worth showing for question, in priority order:
// always-include columns, columns tagged with a keyword found in the question, columns
// whose name contains a question word, then ordinal fill up to the floor. The result
// keeps the table's column order. Tables within budget are returned unchanged.
func SlimColumns(table *models.TableSchema, question string, cfg SlimConfig) []models.Column {
	if cfg.MaxColumns <= 0 || len(table.Columns) <= cfg.MaxColumns {
		return table.Columns
	}

	floor := cfg.MinColumns
	if floor > cfg.MaxColumns {
		floor = cfg.MaxColumns
	}

	picked := make([]bool, len(table.Columns))
	count := 0
	pick := func(i int) {
		if !picked[i] && count < cfg.MaxColumns {
			picked[i] = true
			count++
		}
	}
	indexOf := func(name string) int {
		for i, c := range table.Columns {
			if strings.EqualFold(c.Name, name) {
				return i
			}
		}
		return -1
	}

	for _, name := range cfg.AlwaysInclude {
		if i := indexOf(name); i >= 0 {
			pick(i)
		}
	}

	words := questionWords(question)
	padded := " " + strings.Join(words, " ") + " "

	for _, tags := range tagsForTable(cfg.ColumnTags, table) {
		for _, tag := range sortedKeys(tags) {
			columns := tags[tag]
			if !strings.Contains(padded, " "+strings.ToLower(strings.Join(strings.Fields(tag), " "))+" ") {
				continue
			}
			for _, name := range columns {
				if i := indexOf(name); i >= 0 {
					pick(i)
				}
			}
		}
	}

	for i, c := range table.Columns {
		lower := strings.ToLower(c.Name)
		for _, w := range words {
			if len(w) >= 3 && strings.Contains(lower, w) {
				pick(i)
				break
			}
		}
	}

	for i := range table.Columns {
		if count >= floor {
			break
		}
		pick(i)
	}

	slim := make([]models.Column, 0, count)
	for i, c := range table.Columns {
		if picked[i] {
			slim = append(slim, c)
		}
	}
	return slim
}

// tagsForTable returns the tag maps registered under the table's full and short names.
func tagsForTable(all map[string]map[string][]string, table *models.TableSchema) []map[string][]string {
	var out []map[string][]string
	full := NormalizeTableName(table.TableName)
	short := NormalizeTableName(table.ShortName())
	for key, tags := range all {
		k := NormalizeTableName(key)
		if k == full || k == short {
			out = append(out, tags)
		}
	}
	return out
}

// questionWords lowercases question and splits it on anything that is not a letter or digit.
func questionWords(question string) []string {
	return strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
