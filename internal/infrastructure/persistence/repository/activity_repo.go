package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ActivityRepository implements port.ActivityRepository
type ActivityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActivityRepository creates a new activity record repository
func NewActivityRepository(db *sql.DB, logger *zap.Logger) port.ActivityRepository {
	return &ActivityRepository{
		db:     db,
		logger: logger,
	}
}

const activityColumns = `id, user_id, agent_type, task_id, event_type, severity, data, created_at`

// Create appends a record and sets its ID
func (r *ActivityRepository) Create(ctx context.Context, record *entity.ActivityRecord) error {
	query := `
		INSERT INTO activity_records (
			user_id, agent_type, task_id, event_type, severity, data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	data, err := encodeJSON(record.Data)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = nowUTC()
	}
	if record.Severity == "" {
		record.Severity = entity.SeverityInfo
	}

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		record.UserID,
		nullString(string(record.AgentType)),
		nullString(record.TaskID),
		record.EventType,
		string(record.Severity),
		data,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create activity record",
			zap.String("event_type", record.EventType),
			zap.String("user_id", record.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create activity record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// ListByUser returns the user's timeline, newest first
func (r *ActivityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.list(ctx, query, userID, limit)
}

// ListByTask returns records for a task, oldest first
func (r *ActivityRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE task_id = ? ORDER BY id ASC`
	return r.list(ctx, query, taskID)
}

func (r *ActivityRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ActivityRecord, error) {
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list activity records", zap.Error(err))
		return nil, fmt.Errorf("failed to list activity records: %w", err)
	}
	defer rows.Close()

	var records []*entity.ActivityRecord
	for rows.Next() {
		var record entity.ActivityRecord
		var agentType, taskID, data sql.NullString
		var severity string

		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&agentType,
			&taskID,
			&record.EventType,
			&severity,
			&data,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}

		record.AgentType = entity.AgentType(agentType.String)
		record.TaskID = taskID.String
		record.Severity = entity.Severity(severity)
		if record.Data, err = decodeJSON(data); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity records: %w", err)
	}
	return records, nil
}
