package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read when SQLGUARD_CONFIG is not set.
const DefaultConfigPath = "config.yaml"

// Store types for the permission and query log store.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for ekaya-sqlguard.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth AuthConfig `yaml:"auth"`

	// Database is the PostgreSQL store for permissions and query logs.
	Database DatabaseConfig `yaml:"database"`

	// Datasource is the SQL Server reporting database queries run against.
	Datasource DatasourceConfig `yaml:"datasource"`

	LLM LLMConfig `yaml:"llm"`

	Guard GuardConfig `yaml:"guard"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// AdminRole is the token role that grants access to the admin API.
	AdminRole string `yaml:"admin_role" env:"AUTH_ADMIN_ROLE" env-default:"admin"`

	// DevUserID identifies requests when verification is disabled.
	DevUserID string `yaml:"dev_user_id" env:"AUTH_DEV_USER_ID" env-default:"local-dev"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	// Type is "postgres" or "memory". The memory store loses permissions and query logs on restart.
	Type           string `yaml:"type" env:"PGTYPE" env-default:"postgres"`
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"sqlguard"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"sqlguard"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// DatasourceConfig holds the SQL Server connection for query execution and schema discovery.
type DatasourceConfig struct {
	// Host is empty when no datasource is configured; queries are then validated but not executed.
	Host     string `yaml:"host" env:"MSSQL_HOST" env-default:""`
	Port     int    `yaml:"port" env:"MSSQL_PORT" env-default:"1433"`
	Database string `yaml:"database" env:"MSSQL_DATABASE" env-default:""`

	// AuthMethod is "sql" or "service_principal".
	AuthMethod   string `yaml:"auth_method" env:"MSSQL_AUTH_METHOD" env-default:"sql"`
	Username     string `yaml:"username" env:"MSSQL_USER" env-default:""`
	Password     string `yaml:"-" env:"MSSQL_PASSWORD"` // Secret - not in YAML
	TenantID     string `yaml:"tenant_id" env:"MSSQL_TENANT_ID" env-default:""`
	ClientID     string `yaml:"client_id" env:"MSSQL_CLIENT_ID" env-default:""`
	ClientSecret string `yaml:"-" env:"MSSQL_CLIENT_SECRET"` // Secret - not in YAML

	// Encrypt defaults to true; YAML false is overridden by the default, use MSSQL_ENCRYPT=false.
	Encrypt                bool `yaml:"encrypt" env:"MSSQL_ENCRYPT" env-default:"true"`
	TrustServerCertificate bool `yaml:"trust_server_certificate" env:"MSSQL_TRUST_SERVER_CERTIFICATE" env-default:"false"`

	ConnectionTimeoutSeconds int           `yaml:"connection_timeout_seconds" env:"MSSQL_CONNECTION_TIMEOUT" env-default:"30"`
	MaxOpenConns             int           `yaml:"max_open_conns" env:"MSSQL_MAX_OPEN_CONNS" env-default:"10"`
	ConnMaxIdleTime          time.Duration `yaml:"conn_max_idle_time" env:"MSSQL_CONN_MAX_IDLE_TIME" env-default:"5m"`

	// DiscoverSchema builds the catalog from the live database instead of the snapshot file.
	DiscoverSchema bool `yaml:"discover_schema" env:"MSSQL_DISCOVER_SCHEMA" env-default:"false"`
}

// Enabled reports whether a datasource is configured.
func (d *DatasourceConfig) Enabled() bool {
	return d.Host != ""
}

// LLMConfig configures the SQL generation provider.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`

	Timeout    time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"30s"`
	MaxRetries int           `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"2"`

	// Consecutive failures before generation is short-circuited, and for how long.
	BreakerThreshold  int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"LLM_BREAKER_RESET_AFTER" env-default:"30s"`
}

// GuardConfig holds the guardrail pipeline settings.
type GuardConfig struct {
	DefaultRowCap int `yaml:"default_row_cap" env:"GUARD_DEFAULT_ROW_CAP" env-default:"500"`
	MaxRowCap     int `yaml:"max_row_cap" env:"GUARD_MAX_ROW_CAP" env-default:"1000"`
	// AllowedTablePattern overrides the built-in publish.DASHt_* pattern when set.
	AllowedTablePattern string `yaml:"allowed_table_pattern" env:"GUARD_ALLOWED_TABLE_PATTERN" env-default:""`
	// SelfCheckTable is a table the custom pattern accepts, used by the startup self-check.
	SelfCheckTable string `yaml:"self_check_table" env:"GUARD_SELF_CHECK_TABLE" env-default:""`

	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"GUARD_EXECUTION_TIMEOUT" env-default:"60s"`
	PromptCacheTTL   time.Duration `yaml:"prompt_cache_ttl" env:"GUARD_PROMPT_CACHE_TTL" env-default:"10m"`

	SnapshotPath   string `yaml:"snapshot_path" env:"GUARD_SNAPSHOT_PATH" env-default:"schema_snapshot.yaml"`
	ClassifierPath string `yaml:"classifier_path" env:"GUARD_CLASSIFIER_PATH" env-default:"classifier.yaml"`

	ScopeHelpMessage string `yaml:"scope_help_message" env:"GUARD_SCOPE_HELP_MESSAGE" env-default:""`
	// ModeGuidance is extra prompt guidance per question mode.
	ModeGuidance map[string]string `yaml:"mode_guidance"`

	Permissions PermissionsConfig `yaml:"permissions"`
}

// PermissionsConfig maps catalog tables to access categories and restriction columns.
type PermissionsConfig struct {
	TableCategories      map[string]string            `yaml:"table_categories"`
	RestrictedCategories []string                     `yaml:"restricted_categories"`
	DimensionColumns     map[string]map[string]string `yaml:"dimension_columns"`
}

// Load reads configuration from config.yaml (or $SQLGUARD_CONFIG) with environment
// variable overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	path := os.Getenv("SQLGUARD_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)
	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Datasource.Host = ResolveHostForDocker(cfg.Datasource.Host)

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", StorePostgres, StoreMemory, c.Database.Type)
	}
	if c.Guard.DefaultRowCap <= 0 || c.Guard.MaxRowCap <= 0 {
		return fmt.Errorf("row caps must be positive")
	}
	if c.Guard.DefaultRowCap > c.Guard.MaxRowCap {
		return fmt.Errorf("guard.default_row_cap %d exceeds guard.max_row_cap %d", c.Guard.DefaultRowCap, c.Guard.MaxRowCap)
	}
	if c.Guard.ExecutionTimeout <= 0 {
		return fmt.Errorf("guard.execution_timeout must be positive")
	}
	if c.Datasource.Enabled() && c.Datasource.Database == "" {
		return fmt.Errorf("datasource.database is required when datasource.host is set")
	}
	if c.Datasource.DiscoverSchema && !c.Datasource.Enabled() {
		return fmt.Errorf("datasource.discover_schema requires datasource.host")
	}
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.jwks_endpoints is required when verification is enabled")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// Readability is checked by tls.LoadX509KeyPair at startup
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		issuer, jwksURL = strings.TrimSpace(issuer), strings.TrimSpace(jwksURL)
		if issuer != "" && jwksURL != "" {
			endpoints[issuer] = jwksURL
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool

	// runningInDocker is replaced in tests.
	runningInDocker = func() bool {
		isDockerOnce.Do(func() {
			_, err := os.Stat("/.dockerenv")
			isDockerResult = err == nil
		})
		return isDockerResult
	}
)

// ResolveHostForDocker maps localhost to host.docker.internal when running in a
// container, so a local SQL Server or Postgres on the host machine stays reachable.
func ResolveHostForDocker(host string) string {
	if !runningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
