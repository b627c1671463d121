package workflow

import "context"

// StateMachine tracks one run or one approval item through its lifecycle.
// Instances are not safe for concurrent use; each run builds its own.
type StateMachine interface {
	State() State

	// CanFire reports whether trigger has a configured transition. Guards are not evaluated.
	CanFire(trigger Trigger) bool

	// Fire moves to the target of the first transition whose guard passes
	Fire(ctx context.Context, trigger Trigger) error

	PermittedTriggers() []Trigger
}
