package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource/mssql"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/classifier"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/handlers"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/llm"
	mcpserver "github.com/ekaya-inc/ekaya-sqlguard/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-sqlguard/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/middleware"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/schema"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/services"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("store", cfg.Database.Type),
		zap.Bool("datasource", cfg.Datasource.Enabled()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	// Permission and query log store
	permRepo, queryLogRepo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Analytical datasource
	var executor datasource.QueryExecutor
	var loader schema.Loader = schema.FileLoader{Path: cfg.Guard.SnapshotPath}
	if cfg.Datasource.Enabled() {
		dsCfg := mssqlConfig(&cfg.Datasource)
		qe, err := mssql.NewQueryExecutor(ctx, dsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to datasource: %w", err)
		}
		defer func() { _ = qe.Close() }()
		if err := qe.TestConnection(ctx); err != nil {
			logger.Warn("Datasource is not reachable yet; queries will fail until it is",
				zap.String("host", cfg.Datasource.Host),
				zap.Error(err))
		}
		executor = qe

		if cfg.Datasource.DiscoverSchema {
			discoverer, err := mssql.NewSchemaDiscoverer(ctx, dsCfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create schema discoverer: %w", err)
			}
			defer func() { _ = discoverer.Close() }()
			loader = &schema.DiscoveryLoader{
				Discoverer: discoverer,
				Source:     cfg.Datasource.Host + "/" + cfg.Datasource.Database,
				Logger:     logger.Named("schema-discovery"),
			}
		}
	} else {
		logger.Warn("No datasource configured; questions will be validated but not executed")
	}

	// SQL shape gate
	validator, err := sql.NewValidator(sql.ValidatorConfig{
		DefaultRowCap:       cfg.Guard.DefaultRowCap,
		MaxRowCap:           cfg.Guard.MaxRowCap,
		AllowedTablePattern: cfg.Guard.AllowedTablePattern,
		SampleTable:         cfg.Guard.SelfCheckTable,
	})
	if err != nil {
		return fmt.Errorf("failed to create SQL validator: %w", err)
	}
	report := sql.RunSelfCheck(validator, logger.Named("sql-selfcheck"))
	if report.Failed > 0 {
		return fmt.Errorf("SQL validator self-check failed: %d of %d fixtures", report.Failed, report.Failed+report.Passed)
	}
	if report.Skipped > 0 {
		logger.Warn("SQL validator self-check skipped fixtures; set guard.self_check_table for a custom table pattern",
			zap.Int("skipped", report.Skipped))
	}

	// Schema catalog. Loaded synchronously so /health is only green once questions can be answered.
	catalog := schema.NewCatalog(loader, schema.CatalogConfig{CacheTTL: cfg.Guard.PromptCacheTTL}, logger)
	if err := catalog.Refresh(ctx); err != nil {
		logger.Error("Failed to load schema snapshot; /health will report unavailable", zap.Error(err))
	}

	// Question classifier
	classifierCfg, err := classifier.LoadConfig(cfg.Guard.ClassifierPath)
	if err != nil {
		return fmt.Errorf("failed to load classifier config: %w", err)
	}
	questionClassifier, err := classifier.New(classifierCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	reloadClassifier := func(context.Context) error {
		next, err := classifier.LoadConfig(cfg.Guard.ClassifierPath)
		if err != nil {
			return err
		}
		return questionClassifier.Reload(next)
	}

	// SQL generation
	llmCfg := llm.Config{
		Provider:    cfg.LLM.Provider,
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		CircuitBreaker: llm.CircuitBreakerConfig{
			Threshold:  cfg.LLM.BreakerThreshold,
			ResetAfter: cfg.LLM.BreakerResetAfter,
		},
	}
	generator, err := llm.NewGenerator(llmCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create SQL generator: %w", err)
	}

	// Pipeline
	rewriter := services.NewPermissionRewriter(services.PermissionRules{
		TableCategories:      cfg.Guard.Permissions.TableCategories,
		RestrictedCategories: cfg.Guard.Permissions.RestrictedCategories,
		DimensionColumns:     cfg.Guard.Permissions.DimensionColumns,
	}, logger)
	queryService := services.NewQueryService(
		services.QueryServiceConfig{
			RowCap:           cfg.Guard.DefaultRowCap,
			ExecutionTimeout: cfg.Guard.ExecutionTimeout,
			ModeGuidance:     cfg.Guard.ModeGuidance,
			ScopeHelpMessage: cfg.Guard.ScopeHelpMessage,
		},
		questionClassifier,
		catalog,
		generator,
		validator,
		services.NewColumnValidator(catalog, logger),
		rewriter,
		permRepo,
		executor,
		queryLogRepo,
		logger,
	)

	// Authentication
	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWKS client: %w", err)
	}
	var authCfg auth.ServiceConfig
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT verification disabled; requests without a token act as the dev user",
			zap.String("user_id", cfg.Auth.DevUserID))
		authCfg.DevClaims = &auth.Claims{
			RegisteredClaims:  jwt.RegisteredClaims{Subject: cfg.Auth.DevUserID},
			PreferredUsername: cfg.Auth.DevUserID,
			Roles:             []string{cfg.Auth.AdminRole},
		}
	}
	authService := auth.NewAuthService(jwksClient, authCfg, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	// Routes
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, catalog, logger).RegisterRoutes(mux)
	auditor := audit.NewSecurityAuditor(logger)
	handlers.NewQueryHandler(queryService, questionClassifier, auditor, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAdminHandler(permRepo, queryLogRepo, catalog, reloadClassifier, auditor, logger).
		RegisterRoutes(mux, authMiddleware, cfg.Auth.AdminRole)

	mcpSrv := mcpserver.NewServer("ekaya-sqlguard", cfg.Version, logger)
	mcpSrv.RegisterGuardTools(&tools.QueryToolDeps{
		Queries:    queryService,
		Classifier: questionClassifier,
		Auditor:    auditor,
		Logger:     logger,
	}, cfg.Version, catalog)
	mcpHandler := middleware.Chain(mcpSrv.NewStreamableHTTPServer(),
		mcpauth.NewMiddleware(authService, logger).RequireAuth,
		middleware.MCPRequestLogger(logger.Named("mcp-request")),
	)
	mux.Handle("/mcp", mcpHandler)

	handler := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recoverer(logger),
		middleware.RequestLogger(logger),
	)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Execution is bounded by the guard timeout; leave headroom for generation.
		WriteTimeout: cfg.Guard.ExecutionTimeout + cfg.LLM.Timeout*time.Duration(cfg.LLM.MaxRetries+1) + 10*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ekaya-sqlguard",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""),
			zap.String("version", cfg.Version))
		var err error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore returns the permission and query log repositories for the configured store.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.PermissionRepository, repositories.QueryLogRepository, func(), error) {
	if cfg.Database.Type == config.StoreMemory {
		logger.Warn("Using in-memory store; permissions and query logs are lost on restart")
		return repositories.NewMemoryPermissionRepository(),
			repositories.NewMemoryQueryLogRepository(repositories.DefaultMemoryQueryLogLimit),
			func() {}, nil
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	migrateErr := database.RunMigrations(sqlDB, logger)
	_ = sqlDB.Close()
	if migrateErr != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", migrateErr)
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))
	return repositories.NewPermissionRepository(db), repositories.NewQueryLogRepository(db), db.Close, nil
}

func mssqlConfig(ds *config.DatasourceConfig) *mssql.Config {
	return &mssql.Config{
		Host:                   ds.Host,
		Port:                   ds.Port,
		Database:               ds.Database,
		AuthMethod:             ds.AuthMethod,
		Username:               ds.Username,
		Password:               ds.Password,
		TenantID:               ds.TenantID,
		ClientID:               ds.ClientID,
		ClientSecret:           ds.ClientSecret,
		Encrypt:                ds.Encrypt,
		TrustServerCertificate: ds.TrustServerCertificate,
		ConnectionTimeout:      ds.ConnectionTimeoutSeconds,
		MaxOpenConns:           ds.MaxOpenConns,
		ConnMaxIdleTime:        ds.ConnMaxIdleTime,
	}
}
