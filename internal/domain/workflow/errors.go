package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a trigger has no transition from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState is returned when a trigger is fired on a finished run or resolved item.
	// It wraps ErrInvalidTransition.
	ErrTerminalState = fmt.Errorf("%w: state is terminal", ErrInvalidTransition)

	// ErrGuardFailed is returned when every guarded transition declines
	ErrGuardFailed = errors.New("guard condition failed")
)
