package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/config"
)

// SchemaStatus reports the state of the schema catalog. *schema.Catalog satisfies it.
type SchemaStatus interface {
	Loaded() bool
	LoadedAt() time.Time
	TableNames() []string
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status               string     `json:"status"`
	Version              string     `json:"version"`
	Service              string     `json:"service"`
	GoVersion            string     `json:"go_version"`
	Hostname             string     `json:"hostname"`
	Environment          string     `json:"environment"`
	SchemaLoaded         bool       `json:"schema_loaded"`
	SchemaTables         int        `json:"schema_tables"`
	SchemaLoadedAt       *time.Time `json:"schema_loaded_at,omitempty"`
	DatasourceConfigured bool       `json:"datasource_configured"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	schema SchemaStatus
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, schema SchemaStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, schema: schema, logger: logger.Named("health")}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests. It reports 503 until a schema snapshot is
// loaded, since no question can be answered without one.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.schema != nil && !h.schema.Loaded() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("schema not loaded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and catalog state.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:               "ok",
		Version:              h.cfg.Version,
		Service:              "ekaya-sqlguard",
		GoVersion:            runtime.Version(),
		Hostname:             hostname,
		Environment:          h.cfg.Env,
		DatasourceConfigured: h.cfg.Datasource.Enabled(),
	}
	if h.schema != nil && h.schema.Loaded() {
		loadedAt := h.schema.LoadedAt()
		response.SchemaLoaded = true
		response.SchemaTables = len(h.schema.TableNames())
		response.SchemaLoadedAt = &loadedAt
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
