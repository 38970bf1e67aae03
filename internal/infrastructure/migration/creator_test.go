package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/storefront/backend/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"create import jobs", "create_import_jobs"},
		{"Add-Order-Index", "add_order_index"},
		{"ADD__LAST__ERROR", "add_last_error"},
		{"orders 2", "orders_2"},
		{"   spaces   ", "spaces"},
		{"drop!@#$column", "dropcolumn"},
		{"_leading and trailing_", "leading_and_trailing"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- test"), 0o644))
	}
}

func TestCreateMigration(t *testing.T) {
	t.Run("numbers after the newest migration", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir,
			"000001_create_import_jobs.up.sql", "000001_create_import_jobs.down.sql",
			"000007_create_orders.up.sql", "000007_create_orders.down.sql",
		)

		mf, err := CreateMigration(dir, "add order index", "Speeds up tenant listing")
		require.NoError(t, err)
		assert.Equal(t, "000008", mf.Version)
		assert.Equal(t, filepath.Join(dir, "000008_add_order_index.up.sql"), mf.UpPath)
		assert.Equal(t, filepath.Join(dir, "000008_add_order_index.down.sql"), mf.DownPath)

		up, err := os.ReadFile(mf.UpPath)
		require.NoError(t, err)
		assert.Contains(t, string(up), "-- Migration: add order index")
		assert.Contains(t, string(up), "-- Speeds up tenant listing")

		down, err := os.ReadFile(mf.DownPath)
		require.NoError(t, err)
		assert.Contains(t, string(down), "-- Rollback: add order index")
	})

	t.Run("first migration in a new directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "migrations")

		mf, err := CreateMigration(dir, "init", "")
		require.NoError(t, err)
		assert.Equal(t, "000001", mf.Version)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		_, err := CreateMigration(t.TempDir(), "!!!", "")
		assert.Error(t, err)
	})

	t.Run("rejects a non numeric version", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "20240101_init.up.sql", "latest_init.up.sql")

		_, err := CreateMigration(dir, "next", "")
		assert.Error(t, err)
	})
}

func TestListMigrations(t *testing.T) {
	t.Run("sorted base names of up files", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir,
			"000002_create_orders.up.sql", "000002_create_orders.down.sql",
			"000001_create_import_jobs.up.sql", "000001_create_import_jobs.down.sql",
			"README.md", ".gitkeep",
		)
		require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

		names, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"000001_create_import_jobs", "000002_create_orders"}, names)
	})

	t.Run("missing directory", func(t *testing.T) {
		names, err := ListMigrations(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("in-memory filesystem", func(t *testing.T) {
		fsys := fstest.MapFS{
			"000001_a.up.sql":   {Data: []byte("SELECT 1;")},
			"000001_a.down.sql": {Data: []byte("SELECT 1;")},
		}
		names, err := ListMigrationsFS(fsys)
		require.NoError(t, err)
		assert.Equal(t, []string{"000001_a"}, names)
	})
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := ListMigrationsFS(migrations.FS)
	require.NoError(t, err)
	require.Equal(t, []string{"000001_create_import_jobs", "000002_create_orders"}, names)

	for _, name := range names {
		up, err := migrations.FS.ReadFile(name + upSuffix)
		require.NoError(t, err)
		assert.NotEmpty(t, up)

		_, err = migrations.FS.ReadFile(name + downSuffix)
		assert.NoError(t, err, "missing rollback for %s", name)
	}

	jobs, err := migrations.FS.ReadFile("000001_create_import_jobs" + upSuffix)
	require.NoError(t, err)
	assert.Contains(t, string(jobs), "ux_import_jobs_tenant_active")
	assert.Contains(t, string(jobs), "WHERE status IN ('pending', 'running', 'paused')")
}
