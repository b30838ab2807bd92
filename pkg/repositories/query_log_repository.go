package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// StageOutcomeCount is one row of the stage/outcome aggregation.
type StageOutcomeCount struct {
	Stage     string `json:"stage"`
	Outcome   string `json:"outcome"`
	ErrorKind string `json:"error_kind,omitempty"`
	Count     int    `json:"count"`
}

// QueryLogRepository records pipeline stage outcomes.
type QueryLogRepository interface {
	Create(ctx context.Context, entry *models.QueryLog) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.QueryLog, error)
	SummarizeSince(ctx context.Context, since time.Time) ([]StageOutcomeCount, error)
}

type queryLogRepository struct {
	db *database.DB
}

// NewQueryLogRepository creates a PostgreSQL-backed query log repository.
func NewQueryLogRepository(db *database.DB) QueryLogRepository {
	return &queryLogRepository{db: db}
}

func (r *queryLogRepository) Create(ctx context.Context, entry *models.QueryLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	tables := entry.Tables
	if tables == nil {
		tables = []string{}
	}

	query := `
		INSERT INTO query_logs (
			id, request_id, user_id, question, mode, stage, outcome, error_kind,
			message, sql_text, tables, confidence, row_count, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.UserID,
		entry.Question,
		entry.Mode,
		entry.Stage,
		entry.Outcome,
		entry.ErrorKind,
		entry.Message,
		entry.SQL,
		tables,
		string(entry.Confidence),
		entry.RowCount,
		entry.DurationMs,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create query log: %w", err)
	}
	return nil
}

func (r *queryLogRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.QueryLog, error) {
	query := `
		SELECT id, request_id, user_id, question, mode, stage, outcome, error_kind,
		       message, sql_text, tables, confidence, row_count, duration_ms, created_at
		FROM query_logs
		WHERE request_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list query logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.QueryLog
	for rows.Next() {
		var l models.QueryLog
		var confidence string
		if err := rows.Scan(
			&l.ID, &l.RequestID, &l.UserID, &l.Question, &l.Mode, &l.Stage, &l.Outcome, &l.ErrorKind,
			&l.Message, &l.SQL, &l.Tables, &confidence, &l.RowCount, &l.DurationMs, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan query log: %w", err)
		}
		l.Confidence = models.Confidence(confidence)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query logs: %w", err)
	}
	return logs, nil
}

// SummarizeSince counts stage outcomes recorded at or after since, most frequent first.
func (r *queryLogRepository) SummarizeSince(ctx context.Context, since time.Time) ([]StageOutcomeCount, error) {
	query := `
		SELECT stage, outcome, error_kind, COUNT(*)
		FROM query_logs
		WHERE created_at >= $1
		GROUP BY stage, outcome, error_kind
		ORDER BY COUNT(*) DESC, stage, outcome, error_kind`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize query logs: %w", err)
	}
	defer rows.Close()

	var counts []StageOutcomeCount
	for rows.Next() {
		var c StageOutcomeCount
		if err := rows.Scan(&c.Stage, &c.Outcome, &c.ErrorKind, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan query log summary: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query log summary: %w", err)
	}
	return counts, nil
}
