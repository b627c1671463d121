// Package sqlite scopes repository calls to a database transaction. The
// transaction rides in the context, so repositories stay unaware of it and
// any service can group their writes (the approval sweep expires items and
// records their activity in one unit).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/port"
)

type txKey struct{}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is the port.TransactionManager over a *sql.DB
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB wraps sqlDB
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

// WithTransaction runs fn in a transaction that commits when fn returns nil.
// An error or panic from fn rolls it back. A call made inside fn joins the
// running transaction instead of opening a second one, since SQLite has a
// single writer.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	started := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Runs on error returns and while a panic unwinds
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			db.logger.Error("Transaction rollback failed", zap.Error(err))
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	if elapsed := time.Since(started); elapsed > slowTransaction {
		db.logger.Warn("Slow transaction", zap.Duration("elapsed", elapsed))
	}
	return nil
}

// slowTransaction is how long a write may hold SQLite's lock before it is logged
const slowTransaction = time.Second

// ExecutorFrom returns the transaction carried by ctx, or db when there is none
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

var _ port.TransactionManager = (*DB)(nil)
