// Package dbtest opens migrated databases for package tests.
package dbtest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"signalrelay/internal/database"
	"signalrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// PostgresDSNEnv gates the Postgres variants of store tests
const PostgresDSNEnv = "SIGNALRELAY_TEST_POSTGRES_DSN"

var tables = []string{
	"signals", "mirror_jobs", "role_sync_jobs", "mirrored_signals",
	"webhook_events", "source_guilds", "source_channels",
}

// Logger returns a logger that discards output
func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// Open returns a migrated sqlite database in a temporary directory.
func Open(t testing.TB) *database.Database {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	return open(t, models.DatabaseConfig{DSN: dsn})
}

// OpenPostgres returns a migrated, emptied Postgres database, or skips the
// test when no DSN is configured.
func OpenPostgres(t testing.TB) *database.Database {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	db := open(t, models.DatabaseConfig{DSN: dsn})
	for _, table := range tables {
		_, err := db.Exec(context.Background(), "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return db
}

func open(t testing.TB, cfg models.DatabaseConfig) *database.Database {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(ctx, cfg, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}
