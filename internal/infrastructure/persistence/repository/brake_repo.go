package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// BrakeRepository implements port.BrakeRepository
type BrakeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBrakeRepository creates a new brake state repository
func NewBrakeRepository(db *sql.DB, logger *zap.Logger) port.BrakeRepository {
	return &BrakeRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the user's brake, or an inactive one if never set
func (r *BrakeRepository) Get(ctx context.Context, userID string) (*entity.BrakeState, error) {
	query := `SELECT user_id, active, reason, activated_at, updated_at FROM brake_states WHERE user_id = ?`

	var state entity.BrakeState
	var reason sql.NullString
	var activatedAt sql.NullTime

	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(
		&state.UserID,
		&state.Active,
		&reason,
		&activatedAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.InactiveBrake(userID), nil
	}
	if err != nil {
		r.logger.Error("Failed to get brake state", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get brake state: %w", err)
	}

	state.Reason = reason.String
	if activatedAt.Valid {
		t := activatedAt.Time
		state.ActivatedAt = &t
	}
	return &state, nil
}

// Upsert writes the brake state
func (r *BrakeRepository) Upsert(ctx context.Context, state *entity.BrakeState) error {
	query := `
		INSERT INTO brake_states (user_id, active, reason, activated_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			active = excluded.active,
			reason = excluded.reason,
			activated_at = excluded.activated_at,
			updated_at = excluded.updated_at
	`

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = nowUTC()
	}
	var activatedAt sql.NullTime
	if state.ActivatedAt != nil {
		activatedAt = sql.NullTime{Time: state.ActivatedAt.UTC(), Valid: true}
	}

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		state.UserID,
		state.Active,
		nullString(state.Reason),
		activatedAt,
		state.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert brake state",
			zap.String("user_id", state.UserID),
			zap.Bool("active", state.Active),
			zap.Error(err))
		return fmt.Errorf("failed to upsert brake state: %w", err)
	}
	return nil
}
