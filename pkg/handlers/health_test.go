package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/config"
)

func TestHealthHandler_Health(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	schema := &mockSchema{}
	handler := NewHealthHandler(cfg, schema, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d before schema load, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	schema.loaded = true
	rec = httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	cfg.Datasource.Host = "mssql.internal"
	cfg.Datasource.Database = "planning"
	loadedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schema := &mockSchema{loaded: true, loadedAt: loadedAt, tables: []string{"publish.DASHt_Planning"}}
	handler := NewHealthHandler(cfg, schema, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Version != "test-version" {
		t.Errorf("expected version 'test-version', got %q", response.Version)
	}
	if response.Service != "ekaya-sqlguard" {
		t.Errorf("expected service 'ekaya-sqlguard', got %q", response.Service)
	}
	if !response.SchemaLoaded || response.SchemaTables != 1 {
		t.Errorf("expected loaded schema with 1 table, got loaded=%v tables=%d", response.SchemaLoaded, response.SchemaTables)
	}
	if response.SchemaLoadedAt == nil || !response.SchemaLoadedAt.Equal(loadedAt) {
		t.Errorf("expected schema_loaded_at %v, got %v", loadedAt, response.SchemaLoadedAt)
	}
	if !response.DatasourceConfigured {
		t.Error("expected datasource_configured to be true")
	}
}
