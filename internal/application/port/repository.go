package port

import (
	"context"
	"time"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// OutputRepository persists agent outputs. Outputs are append-only.
type OutputRepository interface {
	Create(ctx context.Context, output *entity.AgentOutput) error
	ListByTask(ctx context.Context, taskID string) ([]*entity.AgentOutput, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error)
}

// ActivityRepository persists the audit trail. Records are never updated.
type ActivityRepository interface {
	Create(ctx context.Context, record *entity.ActivityRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error)
	ListByTask(ctx context.Context, taskID string) ([]*entity.ActivityRecord, error)
}

// ApprovalRepository persists approval queue items.
// Status changes are conditional on the item still being pending.
type ApprovalRepository interface {
	Create(ctx context.Context, item *entity.ApprovalItem) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalItem, error)

	// GetByTask returns the item a task queued for an action, in any status,
	// or entity.ErrNotFound
	GetByTask(ctx context.Context, taskID, actionName string) (*entity.ApprovalItem, error)

	ListPending(ctx context.Context, userID string, now time.Time) ([]*entity.ApprovalItem, error)

	// Resolve moves a pending item to status, replacing its payload when
	// payload is non-nil. Returns entity.ErrNotFound or entity.ErrAlreadyResolved
	// when the item is missing or no longer pending.
	Resolve(ctx context.Context, id string, status entity.ApprovalStatus, payload map[string]interface{}, resolvedAt time.Time) error

	// ExpireStale expires every pending item whose expiry is before now and
	// returns the items it changed.
	ExpireStale(ctx context.Context, now time.Time) ([]*entity.ApprovalItem, error)
}

// BrakeRepository persists the per-user brake. A missing row means inactive.
type BrakeRepository interface {
	Get(ctx context.Context, userID string) (*entity.BrakeState, error)
	Upsert(ctx context.Context, state *entity.BrakeState) error
}

// AutonomyRepository persists personal preferences, organizations and memberships
type AutonomyRepository interface {
	GetUserAutonomy(ctx context.Context, userID string) (*entity.UserAutonomy, error)
	SetUserAutonomy(ctx context.Context, userID string, level entity.AutonomyLevel) error

	GetOrganization(ctx context.Context, orgID string) (*entity.Organization, error)
	SaveOrganization(ctx context.Context, org *entity.Organization) error

	// GetMembership returns the user's organization membership, or nil
	GetMembership(ctx context.Context, userID string) (*entity.OrgMembership, error)
	AddMember(ctx context.Context, orgID, userID string) error
	SetOverride(ctx context.Context, orgID, userID string, level *entity.AutonomyLevel) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
