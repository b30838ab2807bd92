// Package classifier picks the tables relevant to a planning question by scoring
// it against a keyword matrix. Its selection narrows what the generation model sees.
package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// topMatches is how many scored entries contribute their tier1 tables before backfill.
const topMatches = 3

// Classifier scores questions against the current configuration. The configuration
// can be swapped at runtime with Reload; Classify always sees one consistent snapshot.
type Classifier struct {
	cfg    atomic.Pointer[Config]
	logger *zap.Logger
}

// New creates a Classifier from a validated configuration.
func New(cfg *Config, logger *zap.Logger) (*Classifier, error) {
	c := &Classifier{logger: logger.Named("classifier")}
	if err := c.Reload(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload validates cfg and makes it the active configuration.
func (c *Classifier) Reload(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("classifier config is nil")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg.Store(cfg)
	c.logger.Info("Classifier configuration loaded",
		zap.Int("matrix_entries", len(cfg.Matrix)),
		zap.Int("overrides", len(cfg.Overrides)),
		zap.Int("modes", len(cfg.Modes)))
	return nil
}

// Config returns the active configuration. It must not be modified.
func (c *Classifier) Config() *Config {
	return c.cfg.Load()
}

// Modes returns the configured mode names, sorted.
func (c *Classifier) Modes() []string {
	cfg := c.cfg.Load()
	modes := make([]string, 0, len(cfg.Modes))
	for m := range cfg.Modes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

var nonWord = regexp.MustCompile(`[^a-z0-9_]+`)

// Normalize lowercases text, replaces non-word characters with spaces and collapses whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), " ")), " ")
}

// singularize returns normalized text with every word singularized.
func singularize(normalized string) string {
	words := strings.Fields(normalized)
	for i, w := range words {
		words[i] = inflection.Singular(w)
	}
	return strings.Join(words, " ")
}

// question holds the padded plain and singular forms used for whole-word matching.
type question struct {
	plain    string
	singular string
	words    []string
}

func newQuestion(text string) question {
	norm := Normalize(text)
	sing := singularize(norm)
	words := strings.Fields(norm)
	words = append(words, strings.Fields(sing)...)
	return question{plain: " " + norm + " ", singular: " " + sing + " ", words: words}
}

// has reports whether phrase occurs in the question as whole words, in plain or singular form.
func (q question) has(phrase string) bool {
	norm := Normalize(phrase)
	if norm == "" {
		return false
	}
	if strings.Contains(q.plain, " "+norm+" ") {
		return true
	}
	return strings.Contains(q.singular, " "+singularize(norm)+" ")
}

type match struct {
	index    int
	entry    *models.MatrixEntry
	score    int
	keywords []string
}

// Classify scores question against the matrix and returns the selected tables.
// mode scopes the candidate tables; an unknown or empty mode sees all tables.
func (c *Classifier) Classify(text, mode string) *models.ClassificationResult {
	cfg := c.cfg.Load()
	q := newQuestion(text)
	result := &models.ClassificationResult{}

	scope := modeScope(cfg, mode)
	var selected []string
	seen := map[string]bool{}
	add := func(table string, forced bool) {
		key := strings.ToLower(table)
		if seen[key] || (!forced && scope != nil && !scope[key]) {
			return
		}
		seen[key] = true
		selected = append(selected, table)
	}

	// Overrides short-circuit scoring: their tables go in first.
	for _, rule := range cfg.Overrides {
		for _, trigger := range rule.Triggers {
			if q.has(trigger) {
				result.OverrideFired = true
				for _, t := range rule.RequiredTables {
					add(t, true)
				}
				if rule.Description != "" {
					result.ContextHints = appendUnique(result.ContextHints, rule.Description)
				}
				break
			}
		}
	}

	var matches []match
	for i := range cfg.Matrix {
		entry := &cfg.Matrix[i]
		m := match{index: i, entry: entry}
		for _, kw := range entry.Keywords {
			if q.has(kw) {
				m.score += len(strings.Fields(Normalize(kw)))
				m.keywords = append(m.keywords, kw)
			}
		}
		if m.score > 0 {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].score > matches[b].score
	})

	distinct := map[string]bool{}
	for _, m := range matches {
		result.Score += m.score
		for _, kw := range m.keywords {
			if !distinct[strings.ToLower(kw)] {
				distinct[strings.ToLower(kw)] = true
				result.MatchedKeywords = append(result.MatchedKeywords, kw)
			}
		}
		if m.entry.ContextHint != "" {
			result.ContextHints = appendUnique(result.ContextHints, m.entry.ContextHint)
		}
		if m.entry.Override {
			result.OverrideFired = true
			for _, t := range m.entry.Tier1Tables {
				add(t, true)
			}
		}
	}

	for i, m := range matches {
		if i >= topMatches {
			break
		}
		for _, t := range m.entry.Tier1Tables {
			add(t, false)
		}
	}
backfill:
	for _, m := range matches[min(topMatches, len(matches)):] {
		for _, t := range m.entry.Tier1Tables {
			if len(selected) >= cfg.MinTables {
				break backfill
			}
			add(t, false)
		}
	}
tier2:
	for _, m := range matches {
		for _, t := range m.entry.Tier2Tables {
			if len(selected) >= cfg.MinTables {
				break tier2
			}
			add(t, false)
		}
	}

	for _, term := range cfg.Glossary {
		name := Normalize(term.Name)
		if name != "" && strings.Contains(q.plain, name) {
			result.GlossaryHits = append(result.GlossaryHits, formatGlossary(term))
		}
	}

	weak := weakTables(cfg, q)

	switch {
	case result.OverrideFired || result.Score >= cfg.HighScore || len(distinct) >= cfg.HighDistinct:
		result.Confidence = models.ConfidenceHigh
	case result.Score >= 1 || len(distinct) > 0 || len(result.GlossaryHits) > 0:
		result.Confidence = models.ConfidenceMedium
	case len(weak) > 0:
		result.Confidence = models.ConfidenceLow
	default:
		result.Confidence = models.ConfidenceNone
	}

	if len(selected) == 0 {
		for _, t := range weak {
			add(t, false)
		}
	}
	if len(selected) > cfg.MaxTables {
		selected = selected[:cfg.MaxTables]
	}
	if len(selected) == 0 {
		selected = append(selected, cfg.DefaultTables...)
		result.UsedDefault = true
	}
	result.SelectedTables = selected

	c.logger.Debug("Classified question",
		zap.String("mode", mode),
		zap.Strings("tables", result.SelectedTables),
		zap.Strings("keywords", result.MatchedKeywords),
		zap.String("confidence", string(result.Confidence)),
		zap.Int("score", result.Score),
		zap.Bool("override", result.OverrideFired),
		zap.Bool("default", result.UsedDefault))
	return result
}

// modeScope returns the lowercased table set for mode, or nil when the mode is unscoped.
func modeScope(cfg *Config, mode string) map[string]bool {
	if mode == "" {
		return nil
	}
	for name, tables := range cfg.Modes {
		if strings.EqualFold(name, mode) {
			scope := make(map[string]bool, len(tables))
			for _, t := range tables {
				scope[strings.ToLower(t)] = true
			}
			return scope
		}
	}
	return nil
}

// weakTables returns tables whose topic tags or name words appear in the question.
// These only justify low confidence.
func weakTables(cfg *Config, q question) []string {
	words := map[string]bool{}
	for _, w := range q.words {
		if len(w) >= 3 {
			words[w] = true
		}
	}

	var tables []string
	seen := map[string]bool{}
	hit := func(table string) {
		if !seen[strings.ToLower(table)] {
			seen[strings.ToLower(table)] = true
			tables = append(tables, table)
		}
	}

	tagged := make([]string, 0, len(cfg.TableKeywords))
	for t := range cfg.TableKeywords {
		tagged = append(tagged, t)
	}
	sort.Strings(tagged)
	for _, table := range tagged {
		for _, tag := range cfg.TableKeywords[table] {
			if q.has(tag) {
				hit(table)
				break
			}
		}
	}

	for _, e := range cfg.Matrix {
		for _, t := range append(append([]string{}, e.Tier1Tables...), e.Tier2Tables...) {
			for _, w := range tableWords(t) {
				if words[w] || words[inflection.Plural(w)] {
					hit(t)
					break
				}
			}
		}
	}
	return tables
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// tableWords splits "publish.DASHt_JobOperations" into lowercased, singular words
// ("job", "operation"), dropping the schema and short prefixes.
func tableWords(table string) []string {
	name := table
	if idx := strings.LastIndex(name, "."); idx != -1 {
		name = name[idx+1:]
	}
	name = camelBoundary.ReplaceAllString(name, "${1} ${2}")
	var words []string
	for _, w := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	}) {
		if len(w) >= 3 && w != "dasht" {
			words = append(words, inflection.Singular(w))
		}
	}
	return words
}

func formatGlossary(term models.GlossaryTerm) string {
	s := term.Name + ": " + term.Description
	if term.Formula != "" {
		s += " (" + term.Formula + ")"
	}
	return s
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
