//go:build integration

// Package integration runs the import engine against real PostgreSQL and
// Redis instances started with testcontainers.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/storefront/backend/internal/infrastructure/migration"
	"github.com/storefront/backend/internal/infrastructure/persistence"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormpostgres "gorm.io/driver/postgres"
)

// TestDB is a migrated PostgreSQL database owned by one test
type TestDB struct {
	*persistence.Database
	DSN string
	t   *testing.T
}

// NewTestDB starts a fresh PostgreSQL container and applies the embedded schema
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("storefront_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	logLevel := "silent"
	if os.Getenv("TEST_DB_DEBUG") != "" {
		logLevel = "info"
	}
	db, err := persistence.Open(gormpostgres.Open(dsn), nil, persistence.DatabaseOptions{
		Logger:   zaptest.NewLogger(t),
		LogLevel: logLevel,
	})
	require.NoError(t, err, "Failed to connect to database")
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	m, err := migration.NewEmbedded(sqlDB, zaptest.NewLogger(t))
	require.NoError(t, err, "Failed to create migrator")
	// m.Close would close sqlDB as well; the connection stays owned by db
	require.NoError(t, m.Up(), "Failed to run migrations")

	return &TestDB{Database: db, DSN: dsn, t: t}
}

// CountOrders returns the number of stored orders of a tenant
func (tdb *TestDB) CountOrders(tenantID string) int64 {
	tdb.t.Helper()
	var n int64
	err := tdb.DB.Raw(`SELECT COUNT(*) FROM orders WHERE tenant_id = ?`, tenantID).Scan(&n).Error
	require.NoError(tdb.t, err)
	return n
}
