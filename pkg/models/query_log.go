package models

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline stage tags used in logs and stage errors.
const (
	StageClassification = "classification"
	StageGeneration     = "generation"
	StageShape          = "shape"
	StageColumns        = "columns"
	StagePermissions    = "permissions"
	StageFilters        = "filters"
	StageExecution      = "execution"
)

// Query log outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeDeclined = "declined"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// QueryLog records the result of one pipeline stage for later aggregation.
type QueryLog struct {
	ID         uuid.UUID  `json:"id"`
	RequestID  uuid.UUID  `json:"request_id"`
	UserID     string     `json:"user_id"`
	Question   string     `json:"question"`
	Mode       string     `json:"mode,omitempty"`
	Stage      string     `json:"stage"`
	Outcome    string     `json:"outcome"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Message    string     `json:"message,omitempty"`
	SQL        string     `json:"sql,omitempty"`
	Tables     []string   `json:"tables,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	RowCount   *int       `json:"row_count,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
}
