//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/testhelpers"
)

func TestRunMigrations_CreatesTables(t *testing.T) {
	store := testhelpers.GetStoreDB(t)
	ctx := context.Background()

	for _, table := range []string{"user_permissions", "query_logs"} {
		var exists bool
		err := store.DB.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	store := testhelpers.GetStoreDB(t)

	sqlDB := stdlib.OpenDBFromPool(store.DB.Pool)
	defer sqlDB.Close()

	require.NoError(t, database.RunMigrations(sqlDB, zap.NewNop()))
}
