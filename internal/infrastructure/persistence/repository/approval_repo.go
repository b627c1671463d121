package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval queue repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, user_id, agent_type, task_id, action_name, action_kind, payload, context, status, created_at, expires_at, resolved_at`

// Create inserts a new approval item
func (r *ApprovalRepository) Create(ctx context.Context, item *entity.ApprovalItem) error {
	query := `
		INSERT INTO approval_queue (
			id, user_id, agent_type, task_id, action_name, action_kind,
			payload, context, status, created_at, expires_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload, err := encodeJSON(item.Payload)
	if err != nil {
		return err
	}
	actionContext, err := encodeJSON(item.Context)
	if err != nil {
		return err
	}

	var resolvedAt sql.NullTime
	if item.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: item.ResolvedAt.UTC(), Valid: true}
	}

	_, err = sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		item.ID,
		item.UserID,
		string(item.AgentType),
		nullString(item.TaskID),
		item.ActionName,
		string(item.ActionKind),
		payload,
		actionContext,
		string(item.Status),
		item.CreatedAt.UTC(),
		item.ExpiresAt.UTC(),
		resolvedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval item",
			zap.String("id", item.ID),
			zap.String("user_id", item.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval item: %w", err)
	}
	return nil
}

// GetByID retrieves an approval item
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalItem, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_queue WHERE id = ?`

	item, err := scanApproval(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get approval item", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval item: %w", err)
	}
	return item, nil
}

// GetByTask retrieves the item queued by a task for one action
func (r *ApprovalRepository) GetByTask(ctx context.Context, taskID, actionName string) (*entity.ApprovalItem, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_queue WHERE task_id = ? AND action_name = ?`

	item, err := scanApproval(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, taskID, actionName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval item for task %s: %w", taskID, err)
	}
	return item, nil
}

// ListPending returns the user's unexpired pending items, oldest first
func (r *ApprovalRepository) ListPending(ctx context.Context, userID string, now time.Time) ([]*entity.ApprovalItem, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approval_queue
		WHERE user_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at ASC`

	return r.list(ctx, query, userID, string(entity.ApprovalStatusPending), now.UTC())
}

// Resolve moves a pending item to a terminal status.
// The status check is part of the UPDATE so two concurrent resolutions
// cannot both succeed.
func (r *ApprovalRepository) Resolve(ctx context.Context, id string, status entity.ApprovalStatus, payload map[string]interface{}, resolvedAt time.Time) error {
	exec := sqlite.ExecutorFrom(ctx, r.db)

	var (
		result sql.Result
		err    error
	)
	if payload != nil {
		encoded, encErr := encodeJSON(payload)
		if encErr != nil {
			return encErr
		}
		result, err = exec.ExecContext(ctx,
			`UPDATE approval_queue SET status = ?, payload = ?, resolved_at = ? WHERE id = ? AND status = ?`,
			string(status), encoded, resolvedAt.UTC(), id, string(entity.ApprovalStatusPending))
	} else {
		result, err = exec.ExecContext(ctx,
			`UPDATE approval_queue SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
			string(status), resolvedAt.UTC(), id, string(entity.ApprovalStatusPending))
	}
	if err != nil {
		r.logger.Error("Failed to resolve approval item",
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to resolve approval item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing changed: either the item is gone or someone else resolved it first
	var current string
	err = exec.QueryRowContext(ctx, `SELECT status FROM approval_queue WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read approval status: %w", err)
	}
	return entity.ErrAlreadyResolved
}

// ExpireStale marks every overdue pending item expired and returns them
func (r *ApprovalRepository) ExpireStale(ctx context.Context, now time.Time) ([]*entity.ApprovalItem, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approval_queue
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC`

	candidates, err := r.list(ctx, query, string(entity.ApprovalStatusPending), now.UTC())
	if err != nil {
		return nil, err
	}

	resolvedAt := now.UTC()
	expired := make([]*entity.ApprovalItem, 0, len(candidates))
	for _, item := range candidates {
		err := r.Resolve(ctx, item.ID, entity.ApprovalStatusExpired, nil, resolvedAt)
		if errors.Is(err, entity.ErrAlreadyResolved) || errors.Is(err, entity.ErrNotFound) {
			// Resolved by a human between the select and the update
			continue
		}
		if err != nil {
			return expired, err
		}
		item.Status = entity.ApprovalStatusExpired
		item.ResolvedAt = &resolvedAt
		expired = append(expired, item)
	}

	if len(expired) > 0 {
		r.logger.Info("Expired stale approval items", zap.Int("count", len(expired)))
	}
	return expired, nil
}

func (r *ApprovalRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalItem, error) {
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval items", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval items: %w", err)
	}
	defer rows.Close()

	var items []*entity.ApprovalItem
	for rows.Next() {
		item, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approval items: %w", err)
	}
	return items, nil
}

func scanApproval(row rowScanner) (*entity.ApprovalItem, error) {
	var item entity.ApprovalItem
	var agentType, actionKind, status string
	var taskID, payload, actionContext sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&agentType,
		&taskID,
		&item.ActionName,
		&actionKind,
		&payload,
		&actionContext,
		&status,
		&item.CreatedAt,
		&item.ExpiresAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	item.AgentType = entity.AgentType(agentType)
	item.ActionKind = entity.ActionKind(actionKind)
	item.Status = entity.ApprovalStatus(status)
	item.TaskID = taskID.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		item.ResolvedAt = &t
	}

	var err error
	if item.Payload, err = decodeJSON(payload); err != nil {
		return nil, err
	}
	if item.Context, err = decodeJSON(actionContext); err != nil {
		return nil, err
	}
	return &item, nil
}
