// Package besteffort is the single place where failures are deliberately
// discarded. Recording, publishing and notifications go through Do so that
// every swallowed error is logged the same way.
package besteffort

import (
	"context"
	"fmt"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
}

// Do runs fn and discards its error or panic after logging it.
// It reports whether fn succeeded.
func Do(ctx context.Context, logger Logger, op string, fn func(ctx context.Context) error, keysAndValues ...interface{}) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logFailure(logger, op, fmt.Errorf("panic: %v", r), keysAndValues)
		}
	}()

	if err := fn(ctx); err != nil {
		logFailure(logger, op, err, keysAndValues)
		return false
	}
	return true
}

func logFailure(logger Logger, op string, err error, keysAndValues []interface{}) {
	if logger == nil {
		return
	}
	fields := append([]interface{}{"operation", op, "error", err}, keysAndValues...)
	logger.Warn("Best-effort operation failed", fields...)
}
