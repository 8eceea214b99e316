package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"signalrelay/internal/database"
	"signalrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AppliesPendingThenNothing(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "migrate.db")

	require.NoError(t, run(ctx, "", dsn, true, logger))

	db, err := database.New(ctx, models.DatabaseConfig{DSN: dsn}, logger)
	require.NoError(t, err)
	pending, err := pendingMigrations(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema", "002_source_catalog"}, pending, "status must not apply anything")
	require.NoError(t, db.Close())

	require.NoError(t, run(ctx, "", dsn, false, logger))

	db, err = database.New(ctx, models.DatabaseConfig{DSN: dsn}, logger)
	require.NoError(t, err)
	defer db.Close()
	pending, err = pendingMigrations(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, run(ctx, "", dsn, false, logger))
}
