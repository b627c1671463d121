package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/pkg/database"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	conn, err := database.New(database.Config{Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE brakes (user_id TEXT PRIMARY KEY, active INTEGER NOT NULL)`)
	require.NoError(t, err)
	return NewDB(conn.DB, zap.NewNop())
}

func countRows(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM brakes`).Scan(&n))
	return n
}

func TestWithTransaction_Commit(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := ExecutorFrom(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO brakes VALUES ('u1', 1)`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, db))
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := ExecutorFrom(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO brakes VALUES ('u1', 1)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countRows(t, db))
}

func TestWithTransaction_NestedJoinsOuter(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(outer context.Context) error {
		outerTx := txFrom(outer)
		require.NotNil(t, outerTx)
		return db.WithTransaction(outer, func(inner context.Context) error {
			assert.Same(t, outerTx, txFrom(inner))
			_, err := ExecutorFrom(inner, db.DB).ExecContext(inner, `INSERT INTO brakes VALUES ('u1', 0)`)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, db))
}

func TestExecutorFrom_WithoutTransaction(t *testing.T) {
	db := setupDB(t)
	assert.Equal(t, db.DB, ExecutorFrom(context.Background(), db.DB))
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	assert.PanicsWithValue(t, "strategy bug", func() {
		_ = db.WithTransaction(ctx, func(txCtx context.Context) error {
			_, err := ExecutorFrom(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO brakes VALUES ('u1', 1)`)
			require.NoError(t, err)
			panic("strategy bug")
		})
	})
	assert.Equal(t, 0, countRows(t, db))

	// The connection is usable again after the rollback
	require.NoError(t, db.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := ExecutorFrom(txCtx, db.DB).ExecContext(txCtx, `INSERT INTO brakes VALUES ('u2', 1)`)
		return err
	}))
	assert.Equal(t, 1, countRows(t, db))
}
