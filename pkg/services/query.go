package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/llm"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// User-facing messages.
const (
	DefaultScopeHelpMessage = "I can answer questions about manufacturing planning data: jobs, schedules, " +
		"capacity, materials and inventory. Try rephrasing your question around one of those topics."
	GenerationFailedMessage = "The question could not be turned into a query. Try rephrasing it."
	ExecutionFailedMessage  = "The query could not be executed. Try again or rephrase the question."
	InvalidColumnMessage    = "The query referenced a column that does not exist in the database. " +
		"The schema snapshot may be out of date; ask an administrator to refresh it."
	PermissionsUnavailableMessage = "Your data permissions could not be verified. Try again later."
)

// DefaultExecutionTimeout bounds a single execution attempt.
const DefaultExecutionTimeout = 60 * time.Second

// QuestionClassifier selects candidate tables for a question. *classifier.Classifier satisfies it.
type QuestionClassifier interface {
	Classify(text, mode string) *models.ClassificationResult
}

// PromptSource formats table schemas for the generation prompt. *schema.Catalog satisfies it.
type PromptSource interface {
	PromptBlock(tables []string, question string) (string, error)
}

// QueryService runs questions and hand-written SQL through the guardrail pipeline.
type QueryService interface {
	// Ask classifies, generates, validates, rewrites and executes a question.
	// A question the classifier cannot place is declined with a help message, not an error.
	// Stage rejections are returned as *apperrors.StageError.
	Ask(ctx context.Context, req *AskRequest) (*AskResponse, error)

	// ValidateSQL runs the deterministic stages over sqlQuery without generating or
	// executing anything and returns the SQL that would run.
	ValidateSQL(ctx context.Context, req *ValidateSQLRequest) (*ValidateSQLResponse, error)
}

// AskRequest is a natural-language question from a user.
type AskRequest struct {
	UserID   string                `json:"-"`
	Question string                `json:"question"`
	Mode     string                `json:"mode,omitempty"`
	Filters  []models.GlobalFilter `json:"filters,omitempty"`
}

// AskResponse is the outcome of a question that was not rejected.
type AskResponse struct {
	RequestID      uuid.UUID                        `json:"request_id"`
	Declined       bool                             `json:"declined,omitempty"`
	Message        string                           `json:"message,omitempty"`
	Classification *models.ClassificationResult     `json:"classification,omitempty"`
	GeneratedSQL   string                           `json:"generated_sql,omitempty"`
	SQL            string                           `json:"sql,omitempty"`
	ColumnCheck    *ColumnValidationResult          `json:"column_check,omitempty"`
	Predicates     []string                         `json:"predicates,omitempty"`
	Executed       bool                             `json:"executed"`
	Result         *datasource.QueryExecutionResult `json:"result,omitempty"`
	DurationMs     int64                            `json:"duration_ms"`
}

// ValidateSQLRequest is hand-written SQL to check for a user.
type ValidateSQLRequest struct {
	UserID  string                `json:"-"`
	SQL     string                `json:"sql"`
	Filters []models.GlobalFilter `json:"filters,omitempty"`
}

// ValidateSQLResponse carries the SQL that would be executed.
type ValidateSQLResponse struct {
	RequestID   uuid.UUID               `json:"request_id"`
	SQL         string                  `json:"sql"`
	Changed     bool                    `json:"changed"`
	ColumnCheck *ColumnValidationResult `json:"column_check"`
	Predicates  []string                `json:"predicates,omitempty"`
	Tables      []string                `json:"tables,omitempty"`
}

// QueryServiceConfig holds pipeline settings.
type QueryServiceConfig struct {
	// RowCap is the row cap the generator is asked to use.
	RowCap           int
	ExecutionTimeout time.Duration
	// ModeGuidance is extra prompt guidance per question mode.
	ModeGuidance     map[string]string
	ScopeHelpMessage string
}

type queryService struct {
	cfg        QueryServiceConfig
	classifier QuestionClassifier
	prompts    PromptSource
	generator  llm.SQLGenerator
	shape      *sql.Validator
	columns    ColumnValidator
	rewriter   PermissionRewriter
	perms      repositories.PermissionRepository
	executor   datasource.QueryExecutor
	queryLogs  repositories.QueryLogRepository
	logger     *zap.Logger
}

// NewQueryService creates the pipeline. executor and queryLogs may be nil: without an
// executor Ask stops after the rewrite stages and returns the SQL unexecuted; without
// queryLogs stage records go only to the logger.
func NewQueryService(
	cfg QueryServiceConfig,
	classifier QuestionClassifier,
	prompts PromptSource,
	generator llm.SQLGenerator,
	shape *sql.Validator,
	columns ColumnValidator,
	rewriter PermissionRewriter,
	perms repositories.PermissionRepository,
	executor datasource.QueryExecutor,
	queryLogs repositories.QueryLogRepository,
	logger *zap.Logger,
) QueryService {
	if cfg.RowCap <= 0 {
		cfg.RowCap = sql.DefaultRowCap
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if cfg.ScopeHelpMessage == "" {
		cfg.ScopeHelpMessage = DefaultScopeHelpMessage
	}
	return &queryService{
		cfg:        cfg,
		classifier: classifier,
		prompts:    prompts,
		generator:  generator,
		shape:      shape,
		columns:    columns,
		rewriter:   rewriter,
		perms:      perms,
		executor:   executor,
		queryLogs:  queryLogs,
		logger:     logger.Named("query"),
	}
}

func (s *queryService) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	start := time.Now()
	t := s.newTrace(req.UserID, question, req.Mode)
	resp := &AskResponse{RequestID: t.requestID}
	defer func() { resp.DurationMs = time.Since(start).Milliseconds() }()

	// Classification
	stageStart := time.Now()
	class := s.classifier.Classify(question, req.Mode)
	resp.Classification = class
	t.confidence = class.Confidence
	t.tables = class.SelectedTables
	if !class.InScope() {
		t.record(ctx, stageRecord{
			stage: models.StageClassification, outcome: models.OutcomeDeclined,
			kind: apperrors.KindClassificationAmbiguous, message: "no planning topic recognized",
			started: stageStart,
		})
		resp.Declined = true
		resp.Message = s.cfg.ScopeHelpMessage
		return resp, nil
	}
	t.record(ctx, stageRecord{stage: models.StageClassification, outcome: models.OutcomeSuccess, started: stageStart})

	// Prompt and generation
	stageStart = time.Now()
	schemaBlock, err := s.prompts.PromptBlock(class.SelectedTables, question)
	if err != nil {
		return nil, t.fail(ctx, stageRecord{
			stage: models.StageGeneration, kind: apperrors.KindGenerationFailure,
			message: GenerationFailedMessage, err: fmt.Errorf("failed to build schema prompt: %w", err),
			started: stageStart,
		})
	}

	// A client disconnect does not abort generation.
	generated, err := s.generator.GenerateSQL(context.WithoutCancel(ctx), llm.GenerationRequest{
		SchemaBlock:  schemaBlock,
		Guidance:     s.cfg.ModeGuidance[req.Mode],
		Question:     question,
		ContextHints: class.ContextHints,
		GlossaryHits: class.GlossaryHits,
		RowCap:       s.cfg.RowCap,
	})
	if err == nil && strings.TrimSpace(generated) == "" {
		err = llm.NewError(llm.ErrorTypeEmpty, "model returned no SQL", false, nil)
	}
	if err != nil {
		return nil, t.fail(ctx, stageRecord{
			stage: models.StageGeneration, kind: apperrors.KindGenerationFailure,
			message: GenerationFailedMessage, err: err, started: stageStart,
		})
	}
	resp.GeneratedSQL = generated
	t.record(ctx, stageRecord{stage: models.StageGeneration, outcome: models.OutcomeSuccess, sql: generated, started: stageStart})

	checked, err := s.guard(ctx, t, req.UserID, generated, req.Filters)
	if err != nil {
		return nil, err
	}
	resp.SQL = checked.SQL
	resp.ColumnCheck = checked.ColumnCheck
	resp.Predicates = checked.Predicates

	if s.executor == nil {
		t.record(ctx, stageRecord{
			stage: models.StageExecution, outcome: models.OutcomeSkipped,
			message: "no datasource configured", sql: checked.SQL, started: time.Now(),
		})
		return resp, nil
	}

	result, err := s.execute(ctx, t, checked.SQL)
	if err != nil {
		return nil, err
	}
	resp.Executed = true
	resp.Result = result
	return resp, nil
}

func (s *queryService) ValidateSQL(ctx context.Context, req *ValidateSQLRequest) (*ValidateSQLResponse, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, fmt.Errorf("sql is required")
	}
	t := s.newTrace(req.UserID, "", "validate")
	return s.guard(ctx, t, req.UserID, req.SQL, req.Filters)
}

// guard runs the deterministic stages: shape, columns, permissions and global filters.
func (s *queryService) guard(ctx context.Context, t *trace, userID, candidate string, filters []models.GlobalFilter) (*ValidateSQLResponse, error) {
	out := &ValidateSQLResponse{RequestID: t.requestID}

	// Shape
	stageStart := time.Now()
	shape := s.shape.Validate(candidate)
	if !shape.Valid {
		return nil, t.fail(ctx, stageRecord{
			stage: models.StageShape, kind: apperrors.KindShapeViolation,
			message: shape.Error, sql: candidate, details: map[string]any{"rule": shape.Rule},
			started: stageStart,
		})
	}
	current := shape.ModifiedSQL
	out.Changed = shape.Changed
	t.record(ctx, stageRecord{stage: models.StageShape, outcome: models.OutcomeSuccess, sql: current, started: stageStart})

	// Columns
	stageStart = time.Now()
	colCheck := s.columns.Validate(ctx, current)
	out.ColumnCheck = colCheck
	switch colCheck.Outcome {
	case ColumnsFailed:
		return nil, t.fail(ctx, stageRecord{
			stage: models.StageColumns, kind: apperrors.KindColumnNotFound,
			message: columnFailureMessage(colCheck.Errors), sql: current, details: colCheck.Errors,
			started: stageStart,
		})
	case ColumnsSkipped:
		t.record(ctx, stageRecord{
			stage: models.StageColumns, outcome: models.OutcomeSkipped,
			message: colCheck.SkipReason, sql: current, started: stageStart,
		})
	default:
		t.record(ctx, stageRecord{stage: models.StageColumns, outcome: models.OutcomeSuccess, started: stageStart})
	}

	// Permissions
	stageStart = time.Now()
	perms, err := s.lookupPermissions(ctx, userID)
	if err != nil {
		return nil, t.fail(ctx, stageRecord{
			stage: models.StagePermissions, kind: apperrors.KindPermissionDenied,
			message: PermissionsUnavailableMessage, err: err, started: stageStart,
		})
	}
	rewritten, err := s.rewriter.Apply(current, perms)
	if err != nil {
		message := PermissionsUnavailableMessage
		if errors.Is(err, apperrors.ErrPermissionDenied) {
			message = TableAccessDeniedMessage
		}
		return nil, t.fail(ctx, stageRecord{
			stage: models.StagePermissions, kind: apperrors.KindPermissionDenied,
			message: message, err: err, started: stageStart,
		})
	}
	current = rewritten.SQL
	out.Changed = out.Changed || rewritten.Changed
	out.Predicates = append(out.Predicates, rewritten.Predicates...)
	out.Tables = rewritten.Tables
	t.record(ctx, stageRecord{stage: models.StagePermissions, outcome: models.OutcomeSuccess, sql: current, started: stageStart})

	// Global filters
	if len(filters) > 0 {
		stageStart = time.Now()
		filtered, err := s.rewriter.ApplyGlobalFilters(current, filters)
		if err != nil {
			kind, message := apperrors.KindInvalidFilter, "One of the selected filters is not valid."
			if !errors.Is(err, apperrors.ErrInvalidFilter) {
				kind, message = apperrors.KindShapeViolation, "The query could not be filtered."
			}
			return nil, t.fail(ctx, stageRecord{
				stage: models.StageFilters, kind: kind, message: message, err: err, started: stageStart,
			})
		}
		current = filtered.SQL
		out.Changed = out.Changed || filtered.Changed
		out.Predicates = append(out.Predicates, filtered.Predicates...)
		t.record(ctx, stageRecord{stage: models.StageFilters, outcome: models.OutcomeSuccess, sql: current, started: stageStart})
	}

	out.SQL = current
	return out, nil
}

// lookupPermissions returns nil, not an error, when the user has no record.
func (s *queryService) lookupPermissions(ctx context.Context, userID string) (*models.UserPermissions, error) {
	if userID == "" || s.perms == nil {
		return nil, nil
	}
	perms, err := s.perms.GetByID(ctx, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	return perms, nil
}

// execute makes a single attempt with a fixed timeout that a client disconnect does not shorten.
func (s *queryService) execute(ctx context.Context, t *trace, sqlQuery string) (*datasource.QueryExecutionResult, error) {
	stageStart := time.Now()
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ExecutionTimeout)
	defer cancel()

	result, err := s.executor.Query(execCtx, sqlQuery)
	if err != nil {
		message := ExecutionFailedMessage
		if strings.Contains(strings.ToLower(err.Error()), "invalid column name") {
			message = InvalidColumnMessage
		}
		return nil, t.fail(ctx, stageRecord{
			stage: models.StageExecution, kind: apperrors.KindExecutionFailure,
			message: message, sql: sqlQuery, err: err, started: stageStart,
		})
	}

	rows := result.RowCount
	t.record(ctx, stageRecord{
		stage: models.StageExecution, outcome: models.OutcomeSuccess,
		sql: sqlQuery, rowCount: &rows, started: stageStart,
	})
	return result, nil
}

// columnFailureMessage summarizes missing columns for the user.
func columnFailureMessage(errs []ColumnValidationError) string {
	if len(errs) == 0 {
		return "The query references unknown columns."
	}
	msg := errs[0].Message
	if len(errs[0].AvailableColumns) > 0 {
		msg += ". Did you mean: " + strings.Join(errs[0].AvailableColumns, ", ") + "?"
	}
	if len(errs) > 1 {
		msg += fmt.Sprintf(" (%d more unknown columns)", len(errs)-1)
	}
	return msg
}

// trace tags every stage of one request with the same request ID.
type trace struct {
	s          *queryService
	requestID  uuid.UUID
	userID     string
	question   string
	mode       string
	confidence models.Confidence
	tables     []string
}

type stageRecord struct {
	stage    string
	outcome  string
	kind     apperrors.ErrorKind
	message  string
	sql      string
	details  any
	err      error
	rowCount *int
	started  time.Time
}

func (s *queryService) newTrace(userID, question, mode string) *trace {
	return &trace{s: s, requestID: uuid.New(), userID: userID, question: question, mode: mode}
}

// fail records a rejection and returns it as a *apperrors.StageError. Execution
// failures are logged as errors, everything else as a rejection.
func (t *trace) fail(ctx context.Context, r stageRecord) error {
	r.outcome = models.OutcomeRejected
	if r.stage == models.StageExecution || r.stage == models.StageGeneration || r.kind == "" {
		r.outcome = models.OutcomeError
	}
	t.record(ctx, r)

	se := &apperrors.StageError{
		Stage:   r.stage,
		Kind:    r.kind,
		Message: r.message,
		Details: r.details,
		Err:     r.err,
	}
	// Table-level denials must not reveal which table triggered them.
	if r.kind != apperrors.KindPermissionDenied {
		se.SQL = r.sql
	}
	return se
}

func (t *trace) record(ctx context.Context, r stageRecord) {
	elapsed := time.Since(r.started)
	fields := []zap.Field{
		zap.String("request_id", t.requestID.String()),
		zap.String("stage", r.stage),
		zap.String("outcome", r.outcome),
		zap.String("user_id", t.userID),
		zap.Duration("elapsed", elapsed),
	}
	if r.kind != "" {
		fields = append(fields, zap.String("error_kind", string(r.kind)))
	}
	if r.stage == models.StageClassification && t.question != "" {
		fields = append(fields, zap.String("question", logging.SanitizeQuestion(t.question)))
	}
	if r.message != "" {
		fields = append(fields, zap.String("message", r.message))
	}
	if r.sql != "" {
		fields = append(fields, zap.String("sql", logging.SanitizeQuery(r.sql)))
	}
	if r.err != nil {
		fields = append(fields, zap.String("error", logging.SanitizeError(r.err)))
	}
	switch r.outcome {
	case models.OutcomeError:
		t.s.logger.Error("Pipeline stage failed", fields...)
	case models.OutcomeRejected, models.OutcomeSkipped:
		t.s.logger.Warn("Pipeline stage did not pass", fields...)
	default:
		t.s.logger.Info("Pipeline stage completed", fields...)
	}

	if t.s.queryLogs == nil {
		return
	}
	entry := &models.QueryLog{
		ID:         uuid.New(),
		RequestID:  t.requestID,
		UserID:     t.userID,
		Question:   t.question,
		Mode:       t.mode,
		Stage:      r.stage,
		Outcome:    r.outcome,
		ErrorKind:  string(r.kind),
		Message:    r.message,
		SQL:        r.sql,
		Tables:     t.tables,
		Confidence: t.confidence,
		RowCount:   r.rowCount,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := t.s.queryLogs.Create(context.WithoutCancel(ctx), entry); err != nil {
		t.s.logger.Warn("Failed to write query log",
			zap.String("request_id", t.requestID.String()),
			zap.String("stage", r.stage),
			zap.Error(err))
	}
}
