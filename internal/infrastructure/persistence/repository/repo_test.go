package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/garyjia/agent-runtime/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(database.Config{Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.NewMigrator(db, zap.NewNop()).RunMigrations()
	require.NoError(t, err)

	return db.DB
}

var bg = context.Background()
