package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// DefaultSummaryWindow is used when GET /api/admin/query-logs/summary has no since parameter.
const DefaultSummaryWindow = 24 * time.Hour

// SchemaRefresher reloads the schema catalog. *schema.Catalog satisfies it.
type SchemaRefresher interface {
	SchemaStatus
	Refresh(ctx context.Context) error
}

// ReloadFunc reloads a configuration file and swaps it in.
type ReloadFunc func(ctx context.Context) error

// PermissionsRequest is the PUT /api/admin/permissions/{userId} body.
// A missing or null list leaves that dimension unrestricted; an empty list grants nothing.
type PermissionsRequest struct {
	Username             string   `json:"username"`
	IsAdmin              bool     `json:"is_admin"`
	AllowedPlanningAreas []string `json:"allowed_planning_areas"`
	AllowedScenarios     []string `json:"allowed_scenarios"`
	AllowedPlants        []string `json:"allowed_plants"`
	AllowedTableAccess   []string `json:"allowed_table_access"`
}

// SchemaRefreshResponse reports the catalog after a refresh.
type SchemaRefreshResponse struct {
	Tables   int       `json:"tables"`
	LoadedAt time.Time `json:"loaded_at"`
}

// AdminHandler serves the admin API: permissions, schema refresh, classifier
// reload and query log inspection.
type AdminHandler struct {
	permissions      repositories.PermissionRepository
	queryLogs        repositories.QueryLogRepository
	schema           SchemaRefresher
	reloadClassifier ReloadFunc
	auditor          *audit.SecurityAuditor
	now              func() time.Time
	logger           *zap.Logger
}

// NewAdminHandler creates an admin handler. queryLogs, reloadClassifier and auditor may be nil.
func NewAdminHandler(
	permissions repositories.PermissionRepository,
	queryLogs repositories.QueryLogRepository,
	schema SchemaRefresher,
	reloadClassifier ReloadFunc,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		permissions:      permissions,
		queryLogs:        queryLogs,
		schema:           schema,
		reloadClassifier: reloadClassifier,
		auditor:          auditor,
		now:              time.Now,
		logger:           logger.Named("admin-handler"),
	}
}

// RegisterRoutes registers the admin routes behind the admin role.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, adminRole string) {
	admin := authMiddleware.RequireRole(adminRole)

	mux.HandleFunc("GET /api/admin/permissions", admin(h.ListPermissions))
	mux.HandleFunc("GET /api/admin/permissions/{userId}", admin(h.GetPermissions))
	mux.HandleFunc("PUT /api/admin/permissions/{userId}", admin(h.PutPermissions))
	mux.HandleFunc("DELETE /api/admin/permissions/{userId}", admin(h.DeletePermissions))

	mux.HandleFunc("POST /api/admin/schema/refresh", admin(h.RefreshSchema))
	mux.HandleFunc("POST /api/admin/classifier/reload", admin(h.ReloadClassifier))

	mux.HandleFunc("GET /api/admin/query-logs/summary", admin(h.QueryLogSummary))
	mux.HandleFunc("GET /api/admin/query-logs/{requestId}", admin(h.QueryLogsByRequest))
}

// ListPermissions handles GET /api/admin/permissions[?username=]
func (h *AdminHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if username := strings.TrimSpace(r.URL.Query().Get("username")); username != "" {
		perms, err := h.permissions.GetByUsername(r.Context(), username)
		if !h.checkLookup(w, err, "Failed to get permissions") {
			return
		}
		writeData(w, http.StatusOK, perms, h.logger)
		return
	}

	all, err := h.permissions.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list permissions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list permissions", h.logger)
		return
	}
	if all == nil {
		all = []*models.UserPermissions{}
	}
	writeData(w, http.StatusOK, all, h.logger)
}

// GetPermissions handles GET /api/admin/permissions/{userId}
func (h *AdminHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}
	perms, err := h.permissions.GetByID(r.Context(), userID)
	if !h.checkLookup(w, err, "Failed to get permissions") {
		return
	}
	writeData(w, http.StatusOK, perms, h.logger)
}

// PutPermissions handles PUT /api/admin/permissions/{userId}
func (h *AdminHandler) PutPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req PermissionsRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if msg := h.validatePermissions(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_permissions", msg, h.logger)
		return
	}

	perms := &models.UserPermissions{
		UserID:               userID,
		Username:             strings.TrimSpace(req.Username),
		IsAdmin:              req.IsAdmin,
		AllowedPlanningAreas: req.AllowedPlanningAreas,
		AllowedScenarios:     req.AllowedScenarios,
		AllowedPlants:        req.AllowedPlants,
		AllowedTableAccess:   req.AllowedTableAccess,
	}
	if err := h.permissions.Upsert(r.Context(), perms); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", "Username is already assigned to another user", h.logger)
			return
		}
		h.logger.Error("Failed to save permissions", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to save permissions", h.logger)
		return
	}

	h.logger.Info("Permissions updated",
		zap.String("user_id", userID),
		zap.String("updated_by", auth.GetUserIDFromContext(r.Context())),
		zap.Bool("is_admin", perms.IsAdmin))
	h.auditor.LogPermissionChange(r.Context(), userID, "update", r.RemoteAddr)

	saved, err := h.permissions.GetByID(r.Context(), userID)
	if !h.checkLookup(w, err, "Failed to get permissions") {
		return
	}
	writeData(w, http.StatusOK, saved, h.logger)
}

// DeletePermissions handles DELETE /api/admin/permissions/{userId}
func (h *AdminHandler) DeletePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}
	err := h.permissions.Delete(r.Context(), userID)
	if !h.checkLookup(w, err, "Failed to delete permissions") {
		return
	}
	h.logger.Info("Permissions deleted",
		zap.String("user_id", userID),
		zap.String("deleted_by", auth.GetUserIDFromContext(r.Context())))
	h.auditor.LogPermissionChange(r.Context(), userID, "delete", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSchema handles POST /api/admin/schema/refresh
func (h *AdminHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	if err := h.schema.Refresh(r.Context()); err != nil {
		h.logger.Error("Schema refresh failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "refresh_failed", "Schema refresh failed; the previous snapshot is still in use", h.logger)
		return
	}
	writeData(w, http.StatusOK, SchemaRefreshResponse{
		Tables:   len(h.schema.TableNames()),
		LoadedAt: h.schema.LoadedAt(),
	}, h.logger)
}

// ReloadClassifier handles POST /api/admin/classifier/reload
func (h *AdminHandler) ReloadClassifier(w http.ResponseWriter, r *http.Request) {
	if h.reloadClassifier == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "Classifier reload is not configured", h.logger)
		return
	}
	if err := h.reloadClassifier(r.Context()); err != nil {
		h.logger.Error("Classifier reload failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "reload_failed", "Classifier configuration is invalid; the previous configuration is still in use", h.logger)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "reloaded"}, h.logger)
}

// QueryLogSummary handles GET /api/admin/query-logs/summary[?since=24h]
func (h *AdminHandler) QueryLogSummary(w http.ResponseWriter, r *http.Request) {
	if h.queryLogs == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "Query logging is not configured", h.logger)
		return
	}
	window := DefaultSummaryWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be a positive duration such as 24h", h.logger)
			return
		}
		window = d
	}

	counts, err := h.queryLogs.SummarizeSince(r.Context(), h.now().Add(-window))
	if err != nil {
		h.logger.Error("Failed to summarize query logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to summarize query logs", h.logger)
		return
	}
	if counts == nil {
		counts = []repositories.StageOutcomeCount{}
	}
	writeData(w, http.StatusOK, counts, h.logger)
}

// QueryLogsByRequest handles GET /api/admin/query-logs/{requestId}
func (h *AdminHandler) QueryLogsByRequest(w http.ResponseWriter, r *http.Request) {
	if h.queryLogs == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "Query logging is not configured", h.logger)
		return
	}
	requestID, ok := ParseRequestID(w, r, h.logger)
	if !ok {
		return
	}
	entries, err := h.queryLogs.ListByRequest(r.Context(), requestID)
	if err != nil {
		h.logger.Error("Failed to list query logs", zap.String("request_id", requestID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list query logs", h.logger)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "No log entries for this request", h.logger)
		return
	}
	writeData(w, http.StatusOK, entries, h.logger)
}

// checkLookup writes 404 for ErrNotFound and 500 for other errors. It returns true when err is nil.
func (h *AdminHandler) checkLookup(w http.ResponseWriter, err error, message string) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Permissions not found", h.logger)
		return false
	}
	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", message, h.logger)
	return false
}

// validatePermissions rejects blank entries and values that look like SQL injection.
// Values are quoted when injected, so this only keeps bad data out of the store.
func (h *AdminHandler) validatePermissions(r *http.Request, req *PermissionsRequest) string {
	lists := []struct {
		dimension string
		values    []string
	}{
		{models.DimensionPlanningArea, req.AllowedPlanningAreas},
		{models.DimensionScenario, req.AllowedScenarios},
		{models.DimensionPlant, req.AllowedPlants},
		{"table_access", req.AllowedTableAccess},
	}
	for _, l := range lists {
		for _, v := range l.values {
			if strings.TrimSpace(v) == "" {
				return "allowed_" + l.dimension + " contains an empty value"
			}
		}
		if hits := sql.CheckValuesForInjection(l.dimension, l.values); len(hits) > 0 {
			for _, hit := range hits {
				h.auditor.LogInjectionAttempt(r.Context(), audit.SQLInjectionDetails{
					Source:      audit.SourcePermissionGrant,
					Dimension:   hit.Dimension,
					Value:       hit.Value,
					Fingerprint: hit.Fingerprint,
				}, r.RemoteAddr)
			}
			return "allowed_" + l.dimension + " contains a disallowed value"
		}
	}
	return ""
}
