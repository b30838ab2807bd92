package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/retry"
)

// PostgresImage is the image used for the shared store container.
const PostgresImage = "postgres:16-alpine"

// storeTables are emptied by Reset, children first.
var storeTables = []string{"query_logs", "user_permissions"}

// StoreDB is a migrated PostgreSQL store shared by every integration test in
// the package run.
type StoreDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedStore     *StoreDB
	sharedStoreOnce sync.Once
	sharedStoreErr  error
)

// GetStoreDB starts the container on first use, applies migrations, and returns
// the shared store. Tests are skipped in short mode since they need Docker.
func GetStoreDB(t *testing.T) *StoreDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedStoreOnce.Do(func() {
		sharedStore, sharedStoreErr = setupStoreDB(context.Background())
	})
	if sharedStoreErr != nil {
		t.Fatalf("Failed to setup store database: %v", sharedStoreErr)
	}
	return sharedStore
}

// Reset truncates the store tables so a test starts from an empty database.
func (s *StoreDB) Reset(t *testing.T) {
	t.Helper()
	for _, table := range storeTables {
		if _, err := s.DB.Exec(context.Background(), "TRUNCATE TABLE "+table); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
}

func setupStoreDB(ctx context.Context) (*StoreDB, error) {
	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "sqlguard_test",
			"POSTGRES_USER":     "sqlguard",
			"POSTGRES_PASSWORD": "test_password",
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://sqlguard:test_password@%s:%s/sqlguard_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
		ConnectRetry: &retry.Config{
			MaxRetries:   10,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   1.5,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &StoreDB{Container: container, DB: db, ConnStr: connStr}, nil
}
