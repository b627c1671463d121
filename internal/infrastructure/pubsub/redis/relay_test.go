package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/domain/event"
)

type published struct {
	channel string
	body    []byte
}

type mockClient struct {
	published  []published
	publishErr error
	closed     bool
}

func (m *mockClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if m.publishErr != nil {
		return redis.NewIntResult(0, m.publishErr)
	}
	m.published = append(m.published, published{channel: channel, body: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (m *mockClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

func TestEncode(t *testing.T) {
	evt := event.NewEvent(event.TypeStepCompleted, "u1", "job_search", map[string]interface{}{
		event.KeyAction:     "matched_jobs",
		event.KeyConfidence: 0.82,
	})

	body, err := Encode(evt)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, map[string]interface{}{
		"agentType":  "job_search",
		"userId":     "u1",
		"action":     "matched_jobs",
		"confidence": 0.82,
	}, raw["tuple"])
	assert.Equal(t, "agent.step_completed", raw["event"]["type"])
	assert.Equal(t, evt.ID, raw["event"]["id"])
}

func TestRelay_Publish(t *testing.T) {
	client := &mockClient{}
	relay := newRelay(client, "", zap.NewNop())

	evt := event.NewEvent(event.TypeBrakeChanged, "u1", "", nil)
	require.NoError(t, relay.Handle(context.Background(), evt))

	require.Len(t, client.published, 2)
	assert.Equal(t, DefaultChannel, client.published[0].channel)
	assert.Equal(t, "agent-events:u1", client.published[1].channel)
	assert.Equal(t, client.published[0].body, client.published[1].body)

	var msg Message
	require.NoError(t, json.Unmarshal(client.published[0].body, &msg))
	assert.Equal(t, "brake.changed", msg.Tuple.Action)
}

func TestRelay_PublishWithoutUser(t *testing.T) {
	client := &mockClient{}
	relay := newRelay(client, "events", zap.NewNop())

	require.NoError(t, relay.Publish(context.Background(), event.NewEvent(event.TypeApprovalExpired, "", "", nil)))
	require.Len(t, client.published, 1)
	assert.Equal(t, "events", client.published[0].channel)
}

func TestRelay_PublishError(t *testing.T) {
	client := &mockClient{publishErr: errors.New("connection refused")}
	relay := newRelay(client, "events", zap.NewNop())

	err := relay.Publish(context.Background(), event.NewEvent(event.TypeTaskFailed, "u1", "", nil))
	assert.Error(t, err)

	assert.NoError(t, relay.Ping(context.Background()))
	require.NoError(t, relay.Close())
	assert.True(t, client.closed)
}
