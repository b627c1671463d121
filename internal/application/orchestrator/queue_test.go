package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/infrastructure/queue/memory"
)

func newQueueOrchestrator(q port.TaskQueue, runner Runner, backoff time.Duration) (*Orchestrator, *mockRecorder) {
	cfg := DefaultConfig()
	cfg.AgentRoute = Route{Queue: entity.QueueAgent, MaxRetries: entity.DefaultMaxRetries, Backoff: backoff}
	recorder := &mockRecorder{}
	orch := New(q, runner, knownTypes{entity.AgentTypeJobSearch: true}, recorder, &mockPublisher{}, cfg, &mockLogger{})
	return orch, recorder
}

func TestOrchestrator_RetryBackoffDoesNotDelayOtherUsers(t *testing.T) {
	q := memory.New(8, zap.NewNop())
	defer q.Close()

	var mu sync.Mutex
	var handledB time.Time
	runner := &mockRunner{runFunc: func(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error) {
		if inv.UserID == "a" {
			return nil, strategyFailure(inv)
		}
		mu.Lock()
		handledB = time.Now()
		mu.Unlock()
		return &entity.AgentOutput{Action: "ok"}, nil
	}}
	orch, recorder := newQueueOrchestrator(q, runner, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Consume(ctx, entity.QueueAgent, orch.HandleTask)

	_, err := orch.Submit(ctx, entity.AgentTypeJobSearch, "a", nil)
	require.NoError(t, err)
	submittedB := time.Now()
	_, err = orch.Submit(ctx, entity.AgentTypeJobSearch, "b", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !handledB.IsZero()
	}, time.Second, 5*time.Millisecond, "task for b waited behind a's backoff")

	mu.Lock()
	assert.Less(t, handledB.Sub(submittedB), time.Second)
	mu.Unlock()
	assert.Equal(t, 1, q.Scheduled(), "a's retry is parked on a timer")
	assert.Empty(t, recorder.records)
}

func TestOrchestrator_RetryIntoFullQueueDoesNotDeadlock(t *testing.T) {
	q := memory.New(1, zap.NewNop())
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 2)
	attemptsA := 0
	runner := &mockRunner{runFunc: func(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error) {
		if inv.UserID == "a" {
			attemptsA++
			if attemptsA == 1 {
				close(started)
				<-release
				return nil, strategyFailure(inv)
			}
		}
		done <- inv.UserID
		return &entity.AgentOutput{Action: "ok"}, nil
	}}
	orch, recorder := newQueueOrchestrator(q, runner, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Consume(ctx, entity.QueueAgent, orch.HandleTask)

	_, err := orch.Submit(ctx, entity.AgentTypeJobSearch, "a", nil)
	require.NoError(t, err)
	<-started

	// a is held by the consumer; b fills the single slot
	_, err = orch.Submit(ctx, entity.AgentTypeJobSearch, "b", nil)
	require.NoError(t, err)
	require.Equal(t, 1, q.Len(entity.QueueAgent))
	close(release)

	var got []string
	for len(got) < 2 {
		select {
		case user := <-done:
			got = append(got, user)
		case <-time.After(2 * time.Second):
			t.Fatalf("consumer stalled re-enqueueing into its own full queue, handled %v", got)
		}
	}
	assert.Equal(t, []string{"b", "a"}, got)
	assert.Empty(t, recorder.records)
}
