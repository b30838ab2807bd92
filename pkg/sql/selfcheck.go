package sql

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// selfCheckFixture is a known-good or known-bad input for one shape rule.
//
// sql and wantSQL are templates: {table} is the validator's sample table, {cap}
// and {max} its row caps, {over} a cap above the maximum.
type selfCheckFixture struct {
	rule      Rule
	name      string
	sql       string
	wantValid bool
	// wantSQL, when set, must equal the rewritten statement.
	wantSQL string
	// foreign is a table the fixture expects the pattern to reject. The fixture is
	// skipped when the configured pattern accepts it.
	foreign string
}

var selfCheckFixtures = []selfCheckFixture{
	{rule: RuleEmpty, name: "empty input", sql: "  "},
	{rule: RuleEmpty, name: "terminator only", sql: ";"},
	{rule: RuleMultipleStatements, name: "stacked drop", sql: "SELECT TOP ({cap}) * FROM {table}; DROP TABLE x"},
	{rule: RuleMultipleStatements, name: "unterminated exec", sql: "SELECT JobName FROM {table} WHERE OnHold = 1 EXEC('DROP TABLE {table}')"},
	{rule: RuleMultipleStatements, name: "unterminated drop", sql: "SELECT JobName FROM {table} WHERE 1 = 1 DROP TABLE {table}"},
	{rule: RuleMultipleStatements, name: "waitfor after order by", sql: "SELECT JobName FROM {table} ORDER BY JobName WAITFOR DELAY '00:00:10'"},
	{rule: RuleMultipleStatements, name: "openrowset in subquery", sql: "SELECT JobName FROM {table} WHERE JobName IN (SELECT a FROM OPENROWSET('SQLNCLI', 'x', 'SELECT 1'))"},
	{rule: RuleMultipleStatements, name: "single trailing terminator", sql: "SELECT TOP ({max}) JobName FROM {table};", wantValid: true, wantSQL: "SELECT TOP ({max}) JobName FROM {table}"},
	{rule: RuleMultipleStatements, name: "terminator inside literal", sql: "SELECT TOP ({max}) JobName FROM {table} WHERE JobName = 'a;b DROP'", wantValid: true},
	{rule: RuleVerb, name: "delete", sql: "DELETE FROM {table}"},
	{rule: RuleVerb, name: "exec", sql: "EXEC sp_who"},
	{rule: RuleVerb, name: "cte", sql: "WITH j AS (SELECT JobName FROM {table}) SELECT TOP ({max}) JobName FROM j", wantValid: true},
	{rule: RuleJoin, name: "inner join", sql: "SELECT TOP ({cap}) * FROM {table} p JOIN {table} r ON p.ResourceId = r.ResourceId"},
	{rule: RuleJoin, name: "left outer join", sql: "SELECT TOP ({cap}) * FROM {table} p LEFT OUTER JOIN {table} r ON 1 = 1"},
	{rule: RuleTable, name: "source table", sql: "SELECT TOP ({cap}) * FROM dbo.Jobs", foreign: "dbo.Jobs"},
	{rule: RuleTable, name: "system view", sql: "SELECT TOP ({cap}) name FROM sys.tables", foreign: "sys.tables"},
	{rule: RuleTable, name: "subquery source", sql: "SELECT TOP ({cap}) JobName FROM {table} WHERE JobName IN (SELECT name FROM sys.objects)", foreign: "sys.objects"},
	{rule: RuleTable, name: "allowed table", sql: "SELECT TOP ({max}) JobName FROM {table}", wantValid: true},
	{rule: RuleRowCap, name: "missing cap", sql: "SELECT JobName FROM {table}", wantValid: true, wantSQL: "SELECT TOP ({cap}) JobName FROM {table}"},
	{rule: RuleRowCap, name: "distinct missing cap", sql: "SELECT DISTINCT JobName FROM {table}", wantValid: true, wantSQL: "SELECT DISTINCT TOP ({cap}) JobName FROM {table}"},
	{rule: RuleRowCap, name: "cap over maximum", sql: "SELECT TOP ({over}) JobName FROM {table}", wantValid: true, wantSQL: "SELECT TOP ({max}) JobName FROM {table}"},
	{rule: RuleRowCap, name: "cap overflows int", sql: "SELECT TOP (99999999999999999999) JobName FROM {table}", wantValid: true, wantSQL: "SELECT TOP ({max}) JobName FROM {table}"},
	{rule: RuleRowCap, name: "cap at maximum", sql: "SELECT TOP {max} JobName FROM {table}", wantValid: true, wantSQL: "SELECT TOP {max} JobName FROM {table}"},
	{rule: RuleRowCap, name: "percent cap", sql: "SELECT TOP (50) PERCENT JobName FROM {table}"},
}

// SelfCheckResult is the outcome of one fixture.
type SelfCheckResult struct {
	Rule    Rule
	Name    string
	Passed  bool
	Skipped bool
	Detail  string
}

// SelfCheckReport summarises a self-check run.
type SelfCheckReport struct {
	Passed  int
	Failed  int
	Skipped int
	Results []SelfCheckResult
}

// RunSelfCheck validates a fixed battery of fixtures against v and logs per-rule
// pass/fail. It guards against regressions in the validator's own rule set and
// runs at startup.
//
// Fixtures are rendered with v's caps and sample table. Without a sample table
// (a custom pattern and no SampleTable) the fixtures that need an allowed table
// are skipped, as are table fixtures whose foreign table the pattern accepts.
func RunSelfCheck(v *Validator, logger *zap.Logger) *SelfCheckReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sql_selfcheck")

	render := strings.NewReplacer(
		"{table}", v.sampleTable,
		"{cap}", strconv.Itoa(v.defaultCap),
		"{max}", strconv.Itoa(v.maxCap),
		"{over}", strconv.Itoa(v.maxCap+1),
	)

	report := &SelfCheckReport{}
	perRule := map[Rule][3]int{}
	for _, f := range selfCheckFixtures {
		result := SelfCheckResult{Rule: f.rule, Name: f.name, Passed: true}
		counts := perRule[f.rule]

		switch {
		case v.sampleTable == "" && strings.Contains(f.sql, "{table}"):
			result.Skipped, result.Detail = true, "no sample table configured"
		case f.foreign != "" && v.IsAllowedTable(f.foreign):
			result.Skipped, result.Detail = true, "pattern accepts "+f.foreign
		}
		if result.Skipped {
			result.Passed = false
			report.Skipped++
			counts[2]++
			perRule[f.rule] = counts
			report.Results = append(report.Results, result)
			continue
		}

		res := v.Validate(render.Replace(f.sql))
		wantSQL := render.Replace(f.wantSQL)
		switch {
		case res.Valid != f.wantValid:
			result.Passed = false
			result.Detail = "valid=" + strconv.FormatBool(res.Valid) + " error=" + res.Error
		case wantSQL != "" && strings.TrimSpace(res.ModifiedSQL) != wantSQL:
			result.Passed = false
			result.Detail = "rewritten to " + res.ModifiedSQL
		}

		if result.Passed {
			report.Passed++
			counts[0]++
		} else {
			report.Failed++
			counts[1]++
			logger.Warn("Shape validator self-check fixture failed",
				zap.String("rule", string(f.rule)),
				zap.String("fixture", f.name),
				zap.String("detail", result.Detail))
		}
		perRule[f.rule] = counts
		report.Results = append(report.Results, result)
	}

	for _, rule := range []Rule{RuleEmpty, RuleMultipleStatements, RuleVerb, RuleJoin, RuleTable, RuleRowCap} {
		counts := perRule[rule]
		logger.Info("Shape validator self-check",
			zap.String("rule", string(rule)),
			zap.Int("passed", counts[0]),
			zap.Int("failed", counts[1]),
			zap.Int("skipped", counts[2]))
	}
	return report
}
