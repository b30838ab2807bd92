// test-model-outputs runs a fixed set of planning questions through the full
// guardrail pipeline against one or more models, without executing SQL.
// It reports which questions produced SQL that survives every check.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/classifier"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/llm"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/schema"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/services"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// Question is one fixture.
type Question struct {
	Text string
	Mode string
	// Decline is true for questions that should be refused as out of scope.
	Decline bool
}

var defaultQuestions = []Question{
	{Text: "Which jobs are late?"},
	{Text: "Show jobs on hold in the base scenario"},
	{Text: "What is the capacity utilization of each resource next week?", Mode: "capacity"},
	{Text: "Which materials are short for upcoming operations?", Mode: "materials"},
	{Text: "List the operations scheduled on resource CNC-01"},
	{Text: "What's the weather in Paris tomorrow?", Decline: true},
}

// TestResult is the outcome of one question against one model.
type TestResult struct {
	Question   Question
	Success    bool
	Stage      string
	Error      string
	SQL        string
	DurationMs int64
}

func main() {
	timeout := flag.Duration("timeout", 120*time.Second, "Timeout for each question")
	models := flag.String("models", "", "Comma-separated model names to test (defaults to llm.model)")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, _ := logConfig.Build()
	defer logger.Sync()

	cfg, err := config.Load("test-model-outputs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	modelNames := []string{cfg.LLM.Model}
	if *models != "" {
		modelNames = strings.Split(*models, ",")
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("SQL Generation Guardrail Test")
	fmt.Printf("Provider: %s  Endpoint: %s\n", cfg.LLM.Provider, cfg.LLM.Endpoint)
	fmt.Println(strings.Repeat("=", 80))

	ctx := context.Background()
	allPassed := true
	for _, model := range modelNames {
		model = strings.TrimSpace(model)
		fmt.Printf("\n%s\n", strings.Repeat("-", 80))
		fmt.Printf("Testing: %s\n", model)
		fmt.Printf("%s\n\n", strings.Repeat("-", 80))

		queries, err := newPipeline(ctx, cfg, model, logger)
		if err != nil {
			fmt.Printf("✗ FAIL: %v\n", err)
			allPassed = false
			continue
		}

		passed := 0
		for _, q := range defaultQuestions {
			result := testQuestion(ctx, queries, q, *timeout)
			printResult(result)
			if result.Success {
				passed++
			} else {
				allPassed = false
			}
		}
		fmt.Printf("\n%s: %d/%d passed\n", model, passed, len(defaultQuestions))
	}

	if allPassed {
		fmt.Println("\nAll questions passed!")
		os.Exit(0)
	}
	fmt.Println("\nSome questions failed.")
	os.Exit(1)
}

// newPipeline builds a dry-run query service: no executor, in-memory stores.
func newPipeline(ctx context.Context, cfg *config.Config, model string, logger *zap.Logger) (services.QueryService, error) {
	catalog := schema.NewCatalog(schema.FileLoader{Path: cfg.Guard.SnapshotPath}, schema.CatalogConfig{CacheTTL: cfg.Guard.PromptCacheTTL}, logger)
	if err := catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to load schema snapshot: %w", err)
	}

	classifierCfg, err := classifier.LoadConfig(cfg.Guard.ClassifierPath)
	if err != nil {
		return nil, err
	}
	cls, err := classifier.New(classifierCfg, logger)
	if err != nil {
		return nil, err
	}

	validator, err := sql.NewValidator(sql.ValidatorConfig{
		DefaultRowCap:       cfg.Guard.DefaultRowCap,
		MaxRowCap:           cfg.Guard.MaxRowCap,
		AllowedTablePattern: cfg.Guard.AllowedTablePattern,
		SampleTable:         cfg.Guard.SelfCheckTable,
	})
	if err != nil {
		return nil, err
	}

	generator, err := llm.NewGenerator(llm.Config{
		Provider:    cfg.LLM.Provider,
		Endpoint:    cfg.LLM.Endpoint,
		Model:       model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	return services.NewQueryService(
		services.QueryServiceConfig{
			RowCap:           cfg.Guard.DefaultRowCap,
			ModeGuidance:     cfg.Guard.ModeGuidance,
			ScopeHelpMessage: cfg.Guard.ScopeHelpMessage,
		},
		cls,
		catalog,
		generator,
		validator,
		services.NewColumnValidator(catalog, logger),
		services.NewPermissionRewriter(services.PermissionRules{
			TableCategories:      cfg.Guard.Permissions.TableCategories,
			RestrictedCategories: cfg.Guard.Permissions.RestrictedCategories,
			DimensionColumns:     cfg.Guard.Permissions.DimensionColumns,
		}, logger),
		repositories.NewMemoryPermissionRepository(),
		nil,
		repositories.NewMemoryQueryLogRepository(0),
		logger,
	), nil
}

func testQuestion(ctx context.Context, queries services.QueryService, q Question, timeout time.Duration) TestResult {
	result := TestResult{Question: q}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := queries.Ask(ctx, &services.AskRequest{UserID: "test-model-outputs", Question: q.Text, Mode: q.Mode})
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		if se, ok := apperrors.AsStageError(err); ok {
			result.Stage = se.Stage
			result.SQL = se.SQL
		}
		return result
	}

	result.SQL = resp.SQL
	switch {
	case q.Decline && !resp.Declined:
		result.Error = "expected the question to be declined"
	case !q.Decline && resp.Declined:
		result.Error = "question was declined as out of scope"
	default:
		result.Success = true
	}
	return result
}

func printResult(result TestResult) {
	status := "✓ PASS"
	if !result.Success {
		status = "✗ FAIL"
	}
	fmt.Printf("%s  %q (%dms)\n", status, result.Question.Text, result.DurationMs)
	if result.SQL != "" {
		fmt.Printf("    SQL: %s\n", truncateString(result.SQL, 160))
	}
	if result.Error != "" {
		if result.Stage != "" {
			fmt.Printf("    Stage: %s\n", result.Stage)
		}
		fmt.Printf("    Error: %s\n", result.Error)
	}
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
