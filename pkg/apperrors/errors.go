package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrSchemaNotLoaded  = errors.New("schema snapshot not loaded")
)

// ErrorKind classifies a pipeline rejection for clients and log aggregation.
type ErrorKind string

const (
	KindClassificationAmbiguous ErrorKind = "classification_ambiguous"
	KindGenerationFailure       ErrorKind = "generation_failure"
	KindShapeViolation          ErrorKind = "shape_violation"
	KindColumnNotFound          ErrorKind = "column_not_found"
	KindPermissionDenied        ErrorKind = "permission_denied"
	KindInvalidFilter           ErrorKind = "invalid_filter"
	KindExecutionFailure        ErrorKind = "execution_failure"
)

// StageError is returned by the query pipeline when a stage rejects or fails a request.
// SQL echoes the offending statement when it is safe to show; Details carries
// kind-specific payload such as column suggestions.
type StageError struct {
	Stage   string
	Kind    ErrorKind
	Message string
	SQL     string
	Details any
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AsStageError extracts a *StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
