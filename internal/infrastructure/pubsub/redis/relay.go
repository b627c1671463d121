// Package redis relays domain events to out-of-process listeners over
// Redis pub/sub. Each event goes to the shared channel and to the user's
// own channel so a front-end can subscribe to one user's stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

// DefaultChannel is used when no channel is configured
const DefaultChannel = "agent-events"

// Config for the redis connection
type Config struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// Message is the JSON envelope published for each event
type Message struct {
	Event *event.Event      `json:"event"`
	Tuple event.StreamTuple `json:"tuple"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Relay implements port.EventRelay
type Relay struct {
	client  publisher
	channel string
	logger  *zap.Logger
}

// NewRelay connects to redis and checks the connection
func NewRelay(ctx context.Context, cfg Config, logger *zap.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("Redis event relay connected", zap.String("address", cfg.Address))
	return newRelay(client, cfg.Channel, logger), nil
}

func newRelay(client publisher, channel string, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, logger: logger}
}

// UserChannel is the per-user channel name
func (r *Relay) UserChannel(userID string) string {
	return r.channel + ":" + userID
}

// Publish sends the event to the shared channel and the user's channel
func (r *Relay) Publish(ctx context.Context, evt *event.Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}

	channels := []string{r.channel}
	if evt.UserID != "" {
		channels = append(channels, r.UserChannel(evt.UserID))
	}
	for _, ch := range channels {
		if err := r.client.Publish(ctx, ch, body).Err(); err != nil {
			return fmt.Errorf("publish %s to %s: %w", evt.Type, ch, err)
		}
	}
	return nil
}

// Handle adapts the relay to an event bus handler
func (r *Relay) Handle(ctx context.Context, evt *event.Event) error {
	return r.Publish(ctx, evt)
}

// Ping checks the connection
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection
func (r *Relay) Close() error {
	return r.client.Close()
}

// Encode builds the published JSON for an event
func Encode(evt *event.Event) ([]byte, error) {
	body, err := json.Marshal(Message{Event: evt, Tuple: evt.Tuple()})
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	return body, nil
}

var _ port.EventRelay = (*Relay)(nil)
