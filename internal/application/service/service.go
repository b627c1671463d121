// Package service holds the application services behind the HTTP API and
// the runtime: brakes, autonomy, the approval queue, activity history and
// event publishing.
package service

import (
	"context"
	"time"

	"github.com/garyjia/agent-runtime/internal/application/besteffort"
	"github.com/garyjia/agent-runtime/internal/application/dispatcher"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// EventPublisher hands events to the bus. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

type busPublisher struct {
	bus    dispatcher.Dispatcher
	logger Logger
}

// NewEventPublisher creates a publisher on top of the in-process bus
func NewEventPublisher(bus dispatcher.Dispatcher, logger Logger) EventPublisher {
	return &busPublisher{bus: bus, logger: logger}
}

// Publish dispatches asynchronously through the best-effort boundary
func (p *busPublisher) Publish(ctx context.Context, evt *event.Event) {
	if evt == nil {
		return
	}
	besteffort.Do(ctx, p.logger, "publish_event", func(ctx context.Context) error {
		p.bus.DispatchAsync(ctx, evt)
		return nil
	}, "event_type", evt.Type.String(), "user_id", evt.UserID)
}
