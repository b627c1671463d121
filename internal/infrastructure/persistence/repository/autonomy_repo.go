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

// AutonomyRepository implements port.AutonomyRepository
type AutonomyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAutonomyRepository creates a new autonomy repository
func NewAutonomyRepository(db *sql.DB, logger *zap.Logger) port.AutonomyRepository {
	return &AutonomyRepository{
		db:     db,
		logger: logger,
	}
}

// GetUserAutonomy returns the personal preference, or nil if unset
func (r *AutonomyRepository) GetUserAutonomy(ctx context.Context, userID string) (*entity.UserAutonomy, error) {
	var ua entity.UserAutonomy
	var level int

	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT user_id, level, updated_at FROM user_autonomy WHERE user_id = ?`, userID,
	).Scan(&ua.UserID, &level, &ua.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user autonomy", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user autonomy: %w", err)
	}
	ua.Level = entity.AutonomyLevel(level)
	return &ua, nil
}

// SetUserAutonomy stores the personal preference
func (r *AutonomyRepository) SetUserAutonomy(ctx context.Context, userID string, level entity.AutonomyLevel) error {
	query := `
		INSERT INTO user_autonomy (user_id, level, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET level = excluded.level, updated_at = excluded.updated_at
	`
	if _, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, userID, int(level), nowUTC()); err != nil {
		r.logger.Error("Failed to set user autonomy", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to set user autonomy: %w", err)
	}
	return nil
}

// GetOrganization returns the organization or entity.ErrNotFound
func (r *AutonomyRepository) GetOrganization(ctx context.Context, orgID string) (*entity.Organization, error) {
	var org entity.Organization
	var defaultLevel, maxLevel int

	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, default_level, max_autonomy, created_at FROM organizations WHERE id = ?`, orgID,
	).Scan(&org.ID, &org.Name, &defaultLevel, &maxLevel, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get organization", zap.String("org_id", orgID), zap.Error(err))
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.DefaultLevel = entity.AutonomyLevel(defaultLevel)
	org.MaxAutonomy = entity.AutonomyLevel(maxLevel)
	return &org, nil
}

// SaveOrganization creates or updates an organization
func (r *AutonomyRepository) SaveOrganization(ctx context.Context, org *entity.Organization) error {
	query := `
		INSERT INTO organizations (id, name, default_level, max_autonomy, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_level = excluded.default_level,
			max_autonomy = excluded.max_autonomy
	`
	if org.CreatedAt.IsZero() {
		org.CreatedAt = nowUTC()
	}
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		org.ID, org.Name, int(org.DefaultLevel), int(org.MaxAutonomy), org.CreatedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to save organization", zap.String("org_id", org.ID), zap.Error(err))
		return fmt.Errorf("failed to save organization: %w", err)
	}
	return nil
}

// GetMembership returns the user's membership or nil
func (r *AutonomyRepository) GetMembership(ctx context.Context, userID string) (*entity.OrgMembership, error) {
	var m entity.OrgMembership
	var override sql.NullInt64

	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT org_id, user_id, override_level, updated_at FROM org_memberships WHERE user_id = ?`, userID,
	).Scan(&m.OrgID, &m.UserID, &override, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get membership", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if override.Valid {
		level := entity.AutonomyLevel(override.Int64)
		m.OverrideLevel = &level
	}
	return &m, nil
}

// AddMember puts the user in an org. A user belongs to at most one org;
// moving clears any previous override.
func (r *AutonomyRepository) AddMember(ctx context.Context, orgID, userID string) error {
	query := `
		INSERT INTO org_memberships (user_id, org_id, override_level, updated_at)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			org_id = excluded.org_id,
			override_level = CASE WHEN org_memberships.org_id = excluded.org_id
				THEN org_memberships.override_level ELSE NULL END,
			updated_at = excluded.updated_at
	`
	if _, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, userID, orgID, nowUTC()); err != nil {
		r.logger.Error("Failed to add member",
			zap.String("org_id", orgID),
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// SetOverride sets or clears (nil level) the admin override for a member
func (r *AutonomyRepository) SetOverride(ctx context.Context, orgID, userID string, level *entity.AutonomyLevel) error {
	var override sql.NullInt64
	if level != nil {
		override = sql.NullInt64{Int64: int64(*level), Valid: true}
	}

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`UPDATE org_memberships SET override_level = ?, updated_at = ? WHERE org_id = ? AND user_id = ?`,
		override, nowUTC(), orgID, userID)
	if err != nil {
		r.logger.Error("Failed to set override", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to set override: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return entity.ErrNotFound
	}
	return nil
}
