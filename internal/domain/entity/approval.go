package entity

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of an approval queue item
type ApprovalStatus string

const (
	ApprovalStatusPending        ApprovalStatus = "pending"
	ApprovalStatusApproved       ApprovalStatus = "approved"
	ApprovalStatusEditedApproved ApprovalStatus = "edited_approved"
	ApprovalStatusRejected       ApprovalStatus = "rejected"
	ApprovalStatusExpired        ApprovalStatus = "expired"
)

// IsTerminal returns true once the item can no longer be resolved
func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalStatusPending
}

// ResolveAction is a human decision on a pending approval item
type ResolveAction string

const (
	ResolveApprove     ResolveAction = "approve"
	ResolveEditApprove ResolveAction = "edit_approve"
	ResolveReject      ResolveAction = "reject"
)

// IsValid checks if the action is one of the defined constants
func (a ResolveAction) IsValid() bool {
	switch a {
	case ResolveApprove, ResolveEditApprove, ResolveReject:
		return true
	default:
		return false
	}
}

// DefaultApprovalTTL is how long a pending item waits before the sweep expires it
const DefaultApprovalTTL = 48 * time.Hour

// ApprovalItem is a pending human decision on a gated action
type ApprovalItem struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	AgentType  AgentType              `json:"agent_type"`
	TaskID     string                 `json:"task_id,omitempty"`
	ActionName string                 `json:"action_name"`
	ActionKind ActionKind             `json:"action_kind"`
	Payload    map[string]interface{} `json:"payload"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Status     ApprovalStatus         `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// NewApprovalItem creates a pending item expiring after ttl
func NewApprovalItem(userID string, agentType AgentType, action ProposedAction, ttl time.Duration, now time.Time) *ApprovalItem {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	now = now.UTC()
	return &ApprovalItem{
		ID:         uuid.NewString(),
		UserID:     userID,
		AgentType:  agentType,
		ActionName: action.Name,
		ActionKind: action.Kind,
		Payload:    action.Payload,
		Context:    action.Context,
		Status:     ApprovalStatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// IsExpiredAt reports whether a pending item has outlived its expiry
func (a *ApprovalItem) IsExpiredAt(now time.Time) bool {
	return a.Status == ApprovalStatusPending && now.After(a.ExpiresAt)
}

// Action rebuilds the proposed action the item holds
func (a *ApprovalItem) Action() ProposedAction {
	return ProposedAction{
		Kind:    a.ActionKind,
		Name:    a.ActionName,
		Payload: a.Payload,
		Context: a.Context,
	}
}
