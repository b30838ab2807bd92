package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/services"
)

// AskQuestionRequest is the POST /api/query body.
type AskQuestionRequest struct {
	Question string                `json:"question"`
	Mode     string                `json:"mode,omitempty"`
	Filters  []models.GlobalFilter `json:"filters,omitempty"`
}

// ValidateSQLRequest is the POST /api/sql/validate body.
type ValidateSQLRequest struct {
	SQL     string                `json:"sql"`
	Filters []models.GlobalFilter `json:"filters,omitempty"`
}

// QueryHandler serves the question and SQL validation endpoints.
type QueryHandler struct {
	queries    services.QueryService
	classifier services.QuestionClassifier
	auditor    *audit.SecurityAuditor
	logger     *zap.Logger
}

// NewQueryHandler creates a new query handler. auditor may be nil.
func NewQueryHandler(queries services.QueryService, classifier services.QuestionClassifier, auditor *audit.SecurityAuditor, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		queries:    queries,
		classifier: classifier,
		auditor:    auditor,
		logger:     logger.Named("query-handler"),
	}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/query", authMiddleware.RequireAuth(h.Ask))
	mux.HandleFunc("POST /api/sql/validate", authMiddleware.RequireAuth(h.ValidateSQL))
	mux.HandleFunc("GET /api/classify", authMiddleware.RequireAuth(h.Classify))
}

// Ask handles POST /api/query
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskQuestionRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "missing_question", "Question is required", h.logger)
		return
	}

	resp, err := h.queries.Ask(r.Context(), &services.AskRequest{
		UserID:   auth.GetUserIDFromContext(r.Context()),
		Question: req.Question,
		Mode:     req.Mode,
		Filters:  req.Filters,
	})
	if err != nil {
		h.auditor.LogPipelineRejection(r.Context(), err, req.Filters, r.RemoteAddr)
		WritePipelineError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, resp, h.logger)
}

// ValidateSQL handles POST /api/sql/validate
func (h *QueryHandler) ValidateSQL(w http.ResponseWriter, r *http.Request) {
	var req ValidateSQLRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, http.StatusBadRequest, "missing_sql", "SQL is required", h.logger)
		return
	}

	resp, err := h.queries.ValidateSQL(r.Context(), &services.ValidateSQLRequest{
		UserID:  auth.GetUserIDFromContext(r.Context()),
		SQL:     req.SQL,
		Filters: req.Filters,
	})
	if err != nil {
		h.auditor.LogPipelineRejection(r.Context(), err, req.Filters, r.RemoteAddr)
		WritePipelineError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, resp, h.logger)
}

// Classify handles GET /api/classify?q=&mode=
// It shows which tables a question would be answered from without generating SQL.
func (h *QueryHandler) Classify(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.URL.Query().Get("q"))
	if question == "" {
		writeError(w, http.StatusBadRequest, "missing_question", "Query parameter q is required", h.logger)
		return
	}
	writeData(w, http.StatusOK, h.classifier.Classify(question, r.URL.Query().Get("mode")), h.logger)
}
