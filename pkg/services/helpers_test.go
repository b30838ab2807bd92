package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/schema"
)

func columns(names ...string) []models.Column {
	cols := make([]models.Column, len(names))
	for i, n := range names {
		cols[i] = models.Column{Name: n, DataType: "VARCHAR"}
	}
	return cols
}

// stubTables is an in-memory TableLookup.
type stubTables struct {
	loaded bool
	tables map[string]*models.TableSchema
}

func newStubTables() *stubTables {
	t := &stubTables{loaded: true, tables: map[string]*models.TableSchema{}}
	for _, ts := range []*models.TableSchema{
		{TableName: "publish.DASHt_Planning", Columns: columns(
			"JobName", "PlantName", "PlanningArea", "Scenario", "OnHold", "HoldReason", "RequiredQty", "DueDate")},
		{TableName: "publish.DASHt_Plants", Columns: columns("PlantName", "Region")},
		{TableName: "publish.DASHt_SalesOrders", Columns: columns("OrderNo", "PlantName", "Revenue")},
	} {
		t.tables[schema.NormalizeTableName(ts.TableName)] = ts
	}
	return t
}

func (s *stubTables) Loaded() bool { return s.loaded }

func (s *stubTables) Table(name string) (*models.TableSchema, bool) {
	t, ok := s.tables[schema.NormalizeTableName(name)]
	return t, ok
}

// testRules tags the sales table as restricted and maps dimension columns.
func testRules() PermissionRules {
	return PermissionRules{
		TableCategories:      map[string]string{"publish.DASHt_SalesOrders": "Sales"},
		RestrictedCategories: []string{"sales"},
		DimensionColumns: map[string]map[string]string{
			"publish.DASHt_Planning": {
				models.DimensionPlanningArea: "PlanningArea",
				models.DimensionScenario:     "Scenario",
				models.DimensionPlant:        "PlantName",
			},
			"publish.DASHt_Plants": {
				models.DimensionPlant: "PlantName",
			},
		},
	}
}

// mockClassifier returns a fixed classification.
type mockClassifier struct {
	result *models.ClassificationResult
}

func (m *mockClassifier) Classify(text, mode string) *models.ClassificationResult {
	return m.result
}

// mockPromptSource returns a fixed schema block.
type mockPromptSource struct {
	block string
	err   error
}

func (m *mockPromptSource) PromptBlock(tables []string, question string) (string, error) {
	return m.block, m.err
}

// mockExecutor records executed SQL and returns a canned result.
type mockExecutor struct {
	mu          sync.Mutex
	executed    []string
	result      *datasource.QueryExecutionResult
	err         error
	hadDeadline bool
	ctxErr      error
}

func (m *mockExecutor) Query(ctx context.Context, sqlQuery string) (*datasource.QueryExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, sqlQuery)
	_, m.hadDeadline = ctx.Deadline()
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &datasource.QueryExecutionResult{}, nil
}

func (m *mockExecutor) Close() error { return nil }

// mockQueryLogs collects query log entries in memory.
type mockQueryLogs struct {
	mu      sync.Mutex
	entries []*models.QueryLog
	err     error
}

func (m *mockQueryLogs) Create(ctx context.Context, entry *models.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockQueryLogs) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.QueryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.QueryLog
	for _, e := range m.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockQueryLogs) SummarizeSince(ctx context.Context, since time.Time) ([]repositories.StageOutcomeCount, error) {
	return nil, nil
}

func (m *mockQueryLogs) stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Stage + ":" + e.Outcome
	}
	return out
}
