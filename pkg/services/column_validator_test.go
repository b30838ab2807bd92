package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

func newTestColumnValidator(tables TableLookup) ColumnValidator {
	return NewColumnValidator(tables, zap.NewNop())
}

func TestColumnValidator_Passes(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	tests := []struct {
		name string
		sql  string
	}{
		{"plain", "SELECT TOP (10) JobName, PlantName FROM publish.DASHt_Planning WHERE OnHold = 1"},
		{"case insensitive", "SELECT TOP (10) jobname FROM PUBLISH.dasht_planning"},
		{"aliased", "SELECT TOP (10) p.JobName FROM publish.DASHt_Planning p WHERE p.OnHold = 1"},
		{"bracketed table", "SELECT TOP (10) JobName FROM [publish].[DASHt_Planning]"},
		{"full name qualifier", "SELECT TOP (10) publish.DASHt_Planning.JobName FROM publish.DASHt_Planning"},
		{"order by select alias", "SELECT TOP (10) PlantName, SUM(RequiredQty) AS Total FROM publish.DASHt_Planning GROUP BY PlantName ORDER BY Total DESC"},
		{"subquery", "SELECT TOP (10) JobName FROM publish.DASHt_Planning WHERE PlantName IN (SELECT PlantName FROM publish.DASHt_Plants WHERE Region = 'EU')"},
		{"correlated subquery", "SELECT TOP (10) p.JobName FROM publish.DASHt_Planning p WHERE EXISTS (SELECT 1 FROM publish.DASHt_Plants pl WHERE pl.PlantName = p.PlantName)"},
		{"cte", "WITH held AS (SELECT JobName, HoldReason FROM publish.DASHt_Planning WHERE OnHold = 1) SELECT TOP (10) JobName, HoldReason FROM held ORDER BY JobName"},
		{"cte declared columns", "WITH held (Job, Reason) AS (SELECT JobName, HoldReason FROM publish.DASHt_Planning) SELECT TOP (10) Job, h.Reason FROM held h"},
		{"cte star", "WITH held AS (SELECT * FROM publish.DASHt_Planning WHERE OnHold = 1) SELECT TOP (10) DueDate FROM held"},
		{"derived table", "SELECT TOP (10) d.JobName FROM (SELECT JobName, DueDate FROM publish.DASHt_Planning) d WHERE d.DueDate > GETDATE()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(context.Background(), tt.sql)
			assert.Equal(t, ColumnsPassed, result.Outcome, "errors: %+v", result.Errors)
			assert.True(t, result.Passed())
			assert.Empty(t, result.Errors)
		})
	}
}

func TestColumnValidator_MissingColumns(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	result := v.Validate(context.Background(), "SELECT TOP (10) JobNam, PlantName FROM publish.DASHt_Planning WHERE Holdreason IS NOT NULL AND Colour = 'red'")
	require.Equal(t, ColumnsFailed, result.Outcome)
	assert.False(t, result.Passed())
	assert.Equal(t, 4, result.Checked)
	require.Len(t, result.Errors, 2)

	first := result.Errors[0]
	assert.Equal(t, "JobNam", first.Column)
	assert.Equal(t, "publish.DASHt_Planning", first.Table)
	assert.Equal(t, "SELECT", first.Context)
	assert.Contains(t, first.Message, "JobNam")
	require.NotEmpty(t, first.AvailableColumns)
	assert.Equal(t, "JobName", first.AvailableColumns[0])
	assert.LessOrEqual(t, len(first.AvailableColumns), 5)

	assert.Equal(t, "Colour", result.Errors[1].Column)
}

func TestColumnValidator_QualifiedMissing(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	result := v.Validate(context.Background(), "SELECT TOP (10) pl.Region, pl.JobName FROM publish.DASHt_Plants pl")
	require.Equal(t, ColumnsFailed, result.Outcome)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "JobName", result.Errors[0].Column)
	assert.Equal(t, "publish.DASHt_Plants", result.Errors[0].Table)
	assert.Equal(t, "Column 'JobName' does not exist in publish.DASHt_Plants", result.Errors[0].Message)
}

func TestColumnValidator_UnknownAlias(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	result := v.Validate(context.Background(), "SELECT TOP (10) x.JobName FROM publish.DASHt_Planning p")
	require.Equal(t, ColumnsFailed, result.Outcome)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Unknown table or alias 'x' for column 'JobName'", result.Errors[0].Message)
}

func TestColumnValidator_CTEColumnsAreScoped(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	result := v.Validate(context.Background(), "WITH held AS (SELECT JobName FROM publish.DASHt_Planning) SELECT TOP (10) h.DueDate FROM held h")
	require.Equal(t, ColumnsFailed, result.Outcome)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "DueDate", result.Errors[0].Column)
	assert.Equal(t, "held", result.Errors[0].Table)
	assert.Equal(t, []string{"JobName"}, result.Errors[0].AvailableColumns)
}

func TestColumnValidator_TableMissingFromSnapshotIsSkipped(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	result := v.Validate(context.Background(),
		"SELECT TOP (10) Bogus FROM publish.DASHt_Planning WHERE JobName IN (SELECT JobName FROM publish.DASHt_Missing)")
	assert.Equal(t, ColumnsSkipped, result.Outcome)
	assert.Equal(t, SkipTableNotInSchema, result.SkipReason)
	assert.Equal(t, []string{"publish.DASHt_Missing"}, result.SkippedTables)
	assert.True(t, result.Passed())
}

func TestColumnValidator_DuplicateErrorsReportedOnce(t *testing.T) {
	v := newTestColumnValidator(newStubTables())

	result := v.Validate(context.Background(), "SELECT TOP (10) Bogus, Bogus FROM publish.DASHt_Planning")
	require.Equal(t, ColumnsFailed, result.Outcome)
	assert.Len(t, result.Errors, 1)
}

func TestColumnValidator_FailsOpen(t *testing.T) {
	t.Run("schema not loaded", func(t *testing.T) {
		tables := newStubTables()
		tables.loaded = false
		result := newTestColumnValidator(tables).Validate(context.Background(), "SELECT TOP (1) Anything FROM publish.DASHt_Planning")
		assert.Equal(t, ColumnsSkipped, result.Outcome)
		assert.Equal(t, SkipSchemaUnavailable, result.SkipReason)
		assert.True(t, result.Passed())
	})

	t.Run("nil lookup", func(t *testing.T) {
		result := newTestColumnValidator(nil).Validate(context.Background(), "SELECT TOP (1) JobName FROM publish.DASHt_Planning")
		assert.Equal(t, ColumnsSkipped, result.Outcome)
	})

	t.Run("unparseable", func(t *testing.T) {
		result := newTestColumnValidator(newStubTables()).Validate(context.Background(), "SELECT TOP (1) 'unterminated FROM publish.DASHt_Planning")
		assert.Equal(t, ColumnsSkipped, result.Outcome)
		assert.Equal(t, SkipExtractionFailed, result.SkipReason)
	})

	t.Run("lookup panics", func(t *testing.T) {
		result := newTestColumnValidator(panickingTables{}).Validate(context.Background(), "SELECT TOP (1) JobName FROM publish.DASHt_Planning")
		assert.Equal(t, ColumnsSkipped, result.Outcome)
		assert.Equal(t, SkipExtractionFailed, result.SkipReason)
	})
}

type panickingTables struct{}

func (panickingTables) Loaded() bool { return true }

func (panickingTables) Table(string) (*models.TableSchema, bool) { panic("catalog corrupted") }

func TestSuggestColumns(t *testing.T) {
	candidates := []string{"PlantName", "PlanningArea", "JobName", "jobname", "Scenario", "DueDate", "OnHold"}

	got := suggestColumns("Plant", candidates)
	require.Len(t, got, 5)
	assert.Equal(t, "PlantName", got[0], "prefix match at lowest distance ranks first")
	assert.NotContains(t, got[1:], "jobname", "case-insensitive duplicates are dropped")

	assert.Equal(t, []string{"JobName"}, suggestColumns("JobNme", []string{"JobName"}))
	assert.Empty(t, suggestColumns("x", nil))
}

func TestSuggestColumns_PrefixBreaksTies(t *testing.T) {
	// "Qty" and "Qtz" are both one edit from "Qtx"; neither is a prefix. "QtxA" is one
	// edit away and has "Qtx" as a prefix, so it wins the tie.
	got := suggestColumns("Qtx", []string{"Qty", "Qtz", "QtxA"})
	assert.Equal(t, []string{"QtxA", "Qty", "Qtz"}, got)
}
