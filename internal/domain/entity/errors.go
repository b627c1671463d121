package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrValidation        = errors.New("validation failed")
	ErrBrakeActive       = errors.New("brake active")
	ErrStrategyExecution = errors.New("strategy execution failed")
	ErrAlreadyResolved   = errors.New("approval already resolved")
	ErrApprovalExpired   = errors.New("approval expired")
	ErrAutonomyExceeded  = errors.New("autonomy level exceeds organization ceiling")
	ErrNotFound          = errors.New("not found")
	ErrUnknownAgentType  = errors.New("unknown agent type")
)

// ValidationError reports a structurally invalid request. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BrakeActiveError is raised when a user's brake blocks a run.
// It is a control-flow signal and never recorded as a failure.
type BrakeActiveError struct {
	UserID string
	Reason string
}

func (e *BrakeActiveError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("brake active for user %s", e.UserID)
	}
	return fmt.Sprintf("brake active for user %s: %s", e.UserID, e.Reason)
}

func (e *BrakeActiveError) Is(target error) bool { return target == ErrBrakeActive }

// StrategyExecutionError wraps a strategy failure. Record is the error
// activity prepared by the runtime, persisted once retries run out.
type StrategyExecutionError struct {
	AgentType AgentType
	UserID    string
	Err       error
	Record    *ActivityRecord
}

func (e *StrategyExecutionError) Error() string {
	return fmt.Sprintf("agent %s failed for user %s: %v", e.AgentType, e.UserID, e.Err)
}

func (e *StrategyExecutionError) Unwrap() error { return e.Err }

func (e *StrategyExecutionError) Is(target error) bool { return target == ErrStrategyExecution }

// AutonomyExceededError is returned by the self-service path when the
// requested level is above the org ceiling.
type AutonomyExceededError struct {
	Requested AutonomyLevel
	Ceiling   AutonomyLevel
}

func (e *AutonomyExceededError) Error() string {
	return fmt.Sprintf("requested autonomy %s exceeds ceiling %s", e.Requested, e.Ceiling)
}

func (e *AutonomyExceededError) Is(target error) bool { return target == ErrAutonomyExceeded }

// IsRetryable reports whether the dispatcher may retry after err
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrBrakeActive) || errors.Is(err, ErrUnknownAgentType) {
		return false
	}
	return errors.Is(err, ErrStrategyExecution)
}
