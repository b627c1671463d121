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

// OutputRepository implements port.OutputRepository
type OutputRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutputRepository creates a new agent output repository
func NewOutputRepository(db *sql.DB, logger *zap.Logger) port.OutputRepository {
	return &OutputRepository{
		db:     db,
		logger: logger,
	}
}

const outputColumns = `id, task_id, agent_type, user_id, action, rationale, confidence, data, requires_approval, created_at`

// Create appends an output and sets its ID
func (r *OutputRepository) Create(ctx context.Context, output *entity.AgentOutput) error {
	query := `
		INSERT INTO agent_outputs (
			task_id, agent_type, user_id, action, rationale,
			confidence, data, requires_approval, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	data, err := encodeJSON(output.Data)
	if err != nil {
		return err
	}
	if output.CreatedAt.IsZero() {
		output.CreatedAt = nowUTC()
	}

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		output.TaskID,
		string(output.AgentType),
		output.UserID,
		output.Action,
		nullString(output.Rationale),
		output.Confidence,
		data,
		output.RequiresApproval,
		output.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create agent output",
			zap.String("task_id", output.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to create agent output: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	output.ID = id
	return nil
}

// ListByTask returns outputs of a task, oldest first
func (r *OutputRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.AgentOutput, error) {
	query := `SELECT ` + outputColumns + ` FROM agent_outputs WHERE task_id = ? ORDER BY id ASC`
	return r.list(ctx, query, taskID)
}

// ListByUser returns the user's most recent outputs, newest first
func (r *OutputRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + outputColumns + ` FROM agent_outputs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.list(ctx, query, userID, limit)
}

func (r *OutputRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.AgentOutput, error) {
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list agent outputs", zap.Error(err))
		return nil, fmt.Errorf("failed to list agent outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*entity.AgentOutput
	for rows.Next() {
		output, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent outputs: %w", err)
	}
	return outputs, nil
}

func scanOutput(row rowScanner) (*entity.AgentOutput, error) {
	var output entity.AgentOutput
	var agentType string
	var rationale, data sql.NullString

	err := row.Scan(
		&output.ID,
		&output.TaskID,
		&agentType,
		&output.UserID,
		&output.Action,
		&rationale,
		&output.Confidence,
		&data,
		&output.RequiresApproval,
		&output.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent output: %w", err)
	}

	output.AgentType = entity.AgentType(agentType)
	output.Rationale = rationale.String
	if output.Data, err = decodeJSON(data); err != nil {
		return nil, err
	}
	return &output, nil
}
