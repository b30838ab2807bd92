package services

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/schema"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// TableAccessDeniedMessage is shown when a table category gate rejects a query.
// It deliberately names neither the table nor the category.
const TableAccessDeniedMessage = "You do not have access to the data this question requires. Contact your administrator if you need access."

// PermissionRules maps catalog tables to access categories and to the columns
// that carry each row-level restriction dimension.
type PermissionRules struct {
	// TableCategories tags tables with a category such as "sales". Untagged tables are open to everyone.
	TableCategories map[string]string `yaml:"table_categories"`
	// RestrictedCategories lists the categories that require an explicit grant.
	RestrictedCategories []string `yaml:"restricted_categories"`
	// DimensionColumns maps table -> dimension -> column name.
	DimensionColumns map[string]map[string]string `yaml:"dimension_columns"`
}

// RewriteResult is the outcome of a permission or filter pass.
type RewriteResult struct {
	SQL        string   `json:"sql"`
	Changed    bool     `json:"changed"`
	Predicates []string `json:"predicates,omitempty"`
	Tables     []string `json:"tables,omitempty"`
}

// PermissionRewriter enforces table and row access by rewriting validated SQL.
type PermissionRewriter interface {
	// Apply enforces perms. Admins and users without a record get the SQL unchanged.
	Apply(sqlQuery string, perms *models.UserPermissions) (*RewriteResult, error)
	// ApplyGlobalFilters ANDs ad-hoc UI filters into the SQL.
	ApplyGlobalFilters(sqlQuery string, filters []models.GlobalFilter) (*RewriteResult, error)
}

type permissionRewriter struct {
	categories map[string]string
	restricted map[string]bool
	dimensions map[string]map[string]string
	logger     *zap.Logger
}

// NewPermissionRewriter creates a rewriter for rules.
func NewPermissionRewriter(rules PermissionRules, logger *zap.Logger) PermissionRewriter {
	r := &permissionRewriter{
		categories: make(map[string]string, len(rules.TableCategories)),
		restricted: make(map[string]bool, len(rules.RestrictedCategories)),
		dimensions: make(map[string]map[string]string, len(rules.DimensionColumns)),
		logger:     logger.Named("permission-rewriter"),
	}
	for table, category := range rules.TableCategories {
		r.categories[schema.NormalizeTableName(table)] = strings.ToLower(category)
	}
	for _, c := range rules.RestrictedCategories {
		r.restricted[strings.ToLower(c)] = true
	}
	for table, dims := range rules.DimensionColumns {
		lowered := make(map[string]string, len(dims))
		for dim, col := range dims {
			lowered[strings.ToLower(dim)] = col
		}
		r.dimensions[schema.NormalizeTableName(table)] = lowered
	}
	return r
}

func (r *permissionRewriter) Apply(sqlQuery string, perms *models.UserPermissions) (*RewriteResult, error) {
	if perms == nil || perms.IsAdmin {
		return &RewriteResult{SQL: sqlQuery}, nil
	}

	stmt, err := sql.Parse(sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL for permission rewrite: %w", err)
	}
	tables := stmt.Tables()

	for _, table := range tables {
		category, ok := r.categories[schema.NormalizeTableName(table)]
		if !ok || !r.restricted[category] {
			continue
		}
		if !perms.CanAccessCategory(category) {
			r.logger.Info("Table access denied",
				zap.String("user_id", perms.UserID),
				zap.String("table", table),
				zap.String("category", category))
			return nil, fmt.Errorf("%s: %w", TableAccessDeniedMessage, apperrors.ErrPermissionDenied)
		}
	}

	var filters []models.GlobalFilter
	for _, dim := range models.Dimensions {
		if values := perms.AllowedValues(dim); values != nil {
			filters = append(filters, models.GlobalFilter{Dimension: dim, Values: values})
		}
	}
	result := r.inject(stmt, filters, false)
	result.Tables = tables
	if result.Changed {
		r.logger.Debug("Applied row-level permissions",
			zap.String("user_id", perms.UserID),
			zap.Strings("predicates", result.Predicates))
	}
	return result, nil
}

func (r *permissionRewriter) ApplyGlobalFilters(sqlQuery string, filters []models.GlobalFilter) (*RewriteResult, error) {
	var active []models.GlobalFilter
	for _, f := range filters {
		if !models.IsValidDimension(f.Dimension) {
			return nil, fmt.Errorf("unknown filter dimension %q: %w", f.Dimension, apperrors.ErrInvalidFilter)
		}
		if hits := sql.CheckValuesForInjection(f.Dimension, f.Values); len(hits) > 0 {
			r.logger.Warn("Rejected global filter value",
				zap.String("dimension", f.Dimension),
				zap.String("fingerprint", hits[0].Fingerprint))
			return nil, fmt.Errorf("filter %s contains a disallowed value: %w", f.Dimension, apperrors.ErrInvalidFilter)
		}
		// No selection means the filter is not applied.
		if len(f.Values) > 0 {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return &RewriteResult{SQL: sqlQuery}, nil
	}

	stmt, err := sql.Parse(sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL for filter rewrite: %w", err)
	}
	result := r.inject(stmt, active, true)
	result.Tables = stmt.Tables()
	return result, nil
}

// inject builds one IN predicate per (filter, catalog source) pair in every SELECT
// and splices them in. Empty value lists become a predicate matching no rows unless
// skipEmpty is set.
func (r *permissionRewriter) inject(stmt *sql.Statement, filters []models.GlobalFilter, skipEmpty bool) *RewriteResult {
	preds := map[*sql.SelectCore][]string{}
	var all []string
	for _, core := range stmt.Cores() {
		for _, src := range core.Sources() {
			if src.Derived != nil || (stmt.IsCTEName(src.Name) && !stmt.InCTE(core)) {
				continue
			}
			dims := r.dimensions[schema.NormalizeTableName(src.Name)]
			if dims == nil {
				continue
			}
			for _, f := range filters {
				col, ok := dims[f.Dimension]
				if !ok || (skipEmpty && len(f.Values) == 0) {
					continue
				}
				p := sql.InPredicate(src.Qualifier(), col, f.Values)
				preds[core] = append(preds[core], p)
				all = append(all, p)
			}
		}
	}
	if len(all) == 0 {
		return &RewriteResult{SQL: stmt.SQL}
	}
	return &RewriteResult{
		SQL:        sql.InjectPredicates(stmt, preds),
		Changed:    true,
		Predicates: all,
	}
}
