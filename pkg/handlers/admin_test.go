package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/testhelpers"
)

type adminFixture struct {
	handler   *AdminHandler
	perms     repositories.PermissionRepository
	queryLogs repositories.QueryLogRepository
	schema    *mockSchema
	reloads   int
	reloadErr error
}

func newAdminFixture(t *testing.T, seed ...*models.UserPermissions) *adminFixture {
	t.Helper()
	f := &adminFixture{
		perms:     repositories.NewMemoryPermissionRepository(seed...),
		queryLogs: repositories.NewMemoryQueryLogRepository(0),
		schema:    &mockSchema{tables: []string{"publish.DASHt_Planning", "publish.DASHt_Resources"}},
	}
	reload := func(context.Context) error {
		f.reloads++
		return f.reloadErr
	}
	f.handler = NewAdminHandler(f.perms, f.queryLogs, f.schema, reload, nil, zap.NewNop())
	return f
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func TestAdminHandler_PutPermissions_PreservesNilVersusEmpty(t *testing.T) {
	f := newAdminFixture(t)

	body := `{"username":"alice","allowed_scenarios":["Base"],"allowed_plants":[]}`
	req := httptest.NewRequest(http.MethodPut, "/api/admin/permissions/user-1", strings.NewReader(body))
	req.SetPathValue("userId", "user-1")
	rec := httptest.NewRecorder()

	f.handler.PutPermissions(rec, withUser(req, "admin-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.UserPermissions
	decodeData(t, rec, &got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "alice", got.Username)

	stored, err := f.perms.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, stored.AllowedPlanningAreas, "omitted list stays unrestricted")
	assert.Equal(t, []string{"Base"}, stored.AllowedScenarios)
	require.NotNil(t, stored.AllowedPlants, "empty list must not collapse to unrestricted")
	assert.Empty(t, stored.AllowedPlants)
}

func TestAdminHandler_PutPermissions_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"blank value", `{"username":"bob","allowed_plants":["P1"," "]}`, http.StatusBadRequest, "invalid_permissions"},
		{"injection attempt", `{"username":"bob","allowed_scenarios":["' OR '1'='1"]}`, http.StatusBadRequest, "invalid_permissions"},
		{"malformed body", `{"username":`, http.StatusBadRequest, "invalid_request"},
		{"username taken", `{"username":"Alice"}`, http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(t, &models.UserPermissions{UserID: "user-1", Username: "alice"})

			req := httptest.NewRequest(http.MethodPut, "/api/admin/permissions/user-2", strings.NewReader(tt.body))
			req.SetPathValue("userId", "user-2")
			rec := httptest.NewRecorder()
			f.handler.PutPermissions(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
			_, err := f.perms.GetByID(context.Background(), "user-2")
			assert.Error(t, err)
		})
	}
}

func TestAdminHandler_GetAndDeletePermissions(t *testing.T) {
	f := newAdminFixture(t, &models.UserPermissions{UserID: "user-1", Username: "alice", AllowedPlants: []string{"P1"}})

	get := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/permissions/"+id, nil)
		req.SetPathValue("userId", id)
		rec := httptest.NewRecorder()
		f.handler.GetPermissions(rec, req)
		return rec
	}
	del := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/api/admin/permissions/"+id, nil)
		req.SetPathValue("userId", id)
		rec := httptest.NewRecorder()
		f.handler.DeletePermissions(rec, req)
		return rec
	}

	rec := get("user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.UserPermissions
	decodeData(t, rec, &got)
	assert.Equal(t, []string{"P1"}, got.AllowedPlants)

	assert.Equal(t, http.StatusNoContent, del("user-1").Code)
	assert.Equal(t, http.StatusNotFound, get("user-1").Code)
	assert.Equal(t, http.StatusNotFound, del("user-1").Code)
}

func TestAdminHandler_ListPermissions(t *testing.T) {
	f := newAdminFixture(t,
		&models.UserPermissions{UserID: "user-2", Username: "bob"},
		&models.UserPermissions{UserID: "user-1", Username: "alice"},
	)

	rec := httptest.NewRecorder()
	f.handler.ListPermissions(rec, httptest.NewRequest(http.MethodGet, "/api/admin/permissions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.UserPermissions
	decodeData(t, rec, &all)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Username)

	rec = httptest.NewRecorder()
	f.handler.ListPermissions(rec, httptest.NewRequest(http.MethodGet, "/api/admin/permissions?username=BOB", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var one models.UserPermissions
	decodeData(t, rec, &one)
	assert.Equal(t, "user-2", one.UserID)

	rec = httptest.NewRecorder()
	f.handler.ListPermissions(rec, httptest.NewRequest(http.MethodGet, "/api/admin/permissions?username=carol", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandler_RefreshSchema(t *testing.T) {
	f := newAdminFixture(t)
	f.schema.loadedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := httptest.NewRecorder()
	f.handler.RefreshSchema(rec, httptest.NewRequest(http.MethodPost, "/api/admin/schema/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got SchemaRefreshResponse
	decodeData(t, rec, &got)
	assert.Equal(t, 2, got.Tables)
	assert.True(t, got.LoadedAt.Equal(f.schema.loadedAt))
	assert.Equal(t, 1, f.schema.refreshed)

	f.schema.refreshErr = errors.New("datasource unreachable")
	rec = httptest.NewRecorder()
	f.handler.RefreshSchema(rec, httptest.NewRequest(http.MethodPost, "/api/admin/schema/refresh", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "datasource unreachable")
}

func TestAdminHandler_ReloadClassifier(t *testing.T) {
	f := newAdminFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ReloadClassifier(rec, httptest.NewRequest(http.MethodPost, "/api/admin/classifier/reload", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.reloads)

	f.reloadErr = errors.New("bad yaml")
	rec = httptest.NewRecorder()
	f.handler.ReloadClassifier(rec, httptest.NewRequest(http.MethodPost, "/api/admin/classifier/reload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h := NewAdminHandler(f.perms, nil, f.schema, nil, nil, zap.NewNop())
	rec = httptest.NewRecorder()
	h.ReloadClassifier(rec, httptest.NewRequest(http.MethodPost, "/api/admin/classifier/reload", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAdminHandler_QueryLogs(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	requestID := uuid.New()
	for _, e := range []*models.QueryLog{
		{RequestID: requestID, Stage: models.StageClassification, Outcome: models.OutcomeSuccess},
		{RequestID: requestID, Stage: models.StageShape, Outcome: models.OutcomeRejected, ErrorKind: "shape_violation"},
		{RequestID: uuid.New(), Stage: models.StageClassification, Outcome: models.OutcomeSuccess},
	} {
		require.NoError(t, f.queryLogs.Create(ctx, e))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/query-logs/"+requestID.String(), nil)
	req.SetPathValue("requestId", requestID.String())
	rec := httptest.NewRecorder()
	f.handler.QueryLogsByRequest(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.QueryLog
	decodeData(t, rec, &entries)
	assert.Len(t, entries, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/query-logs/nope", nil)
	req.SetPathValue("requestId", "nope")
	rec = httptest.NewRecorder()
	f.handler.QueryLogsByRequest(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := uuid.NewString()
	req = httptest.NewRequest(http.MethodGet, "/api/admin/query-logs/"+missing, nil)
	req.SetPathValue("requestId", missing)
	rec = httptest.NewRecorder()
	f.handler.QueryLogsByRequest(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.QueryLogSummary(rec, httptest.NewRequest(http.MethodGet, "/api/admin/query-logs/summary?since=1h", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var counts []repositories.StageOutcomeCount
	decodeData(t, rec, &counts)
	require.Len(t, counts, 2)
	assert.Equal(t, repositories.StageOutcomeCount{Stage: models.StageClassification, Outcome: models.OutcomeSuccess, Count: 2}, counts[0])

	rec = httptest.NewRecorder()
	f.handler.QueryLogSummary(rec, httptest.NewRequest(http.MethodGet, "/api/admin/query-logs/summary?since=-5m", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_RoutesRequireAdminRole(t *testing.T) {
	tests := []struct {
		name     string
		claims   *auth.Claims
		wantCode int
	}{
		{"unauthenticated", nil, http.StatusUnauthorized},
		{"missing role", testClaims("user-1"), http.StatusForbidden},
		{"admin", testClaims("admin-1", "Admin"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(t)
			mux := http.NewServeMux()
			f.handler.RegisterRoutes(mux, auth.NewMiddleware(&mockAuthService{claims: tt.claims}, zap.NewNop()), "admin")

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/permissions", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestAdminHandler_AuditsPermissionEvents(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	auditor := audit.NewSecurityAuditor(zap.New(core))
	perms := repositories.NewMemoryPermissionRepository()
	h := NewAdminHandler(perms, nil, &mockSchema{}, nil, auditor, zap.NewNop())

	put := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/admin/permissions/user-1", strings.NewReader(body))
		req.SetPathValue("userId", "user-1")
		rec := httptest.NewRecorder()
		h.PutPermissions(rec, withUser(req, "admin-1"))
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, put(`{"username":"alice","allowed_plants":["' OR '1'='1"]}`))
	injections := recorded.FilterMessage("SQL injection attempt detected").All()
	require.Len(t, injections, 1)
	assert.Equal(t, audit.SourcePermissionGrant, injections[0].ContextMap()["source"])
	assert.Equal(t, "admin-1", injections[0].ContextMap()["user_id"])

	assert.Equal(t, http.StatusOK, put(`{"username":"alice","allowed_plants":["P1"]}`))
	changes := recorded.FilterMessage("Permissions changed").All()
	require.Len(t, changes, 1)
	assert.Equal(t, "user-1", changes[0].ContextMap()["target_user_id"])
	assert.Equal(t, "update", changes[0].ContextMap()["action"])
}

func TestAdminHandler_DevTokens(t *testing.T) {
	jwks, err := auth.NewJWKSClient(context.Background(), &auth.JWKSConfig{EnableVerification: false})
	require.NoError(t, err)
	middleware := auth.NewMiddleware(auth.NewAuthService(jwks, auth.ServiceConfig{}, zap.NewNop()), zap.NewNop())

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"admin token", testhelpers.GenerateTestJWTWithBearer("admin-1", "ops", "admin"), http.StatusOK},
		{"planner token", testhelpers.GenerateTestJWTWithBearer("user-1", "planner"), http.StatusForbidden},
		{"no token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(t)
			mux := http.NewServeMux()
			f.handler.RegisterRoutes(mux, middleware, "admin")

			req := httptest.NewRequest(http.MethodGet, "/api/admin/permissions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
