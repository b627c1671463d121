package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

func TestQueue_EnqueueConsume(t *testing.T) {
	q := New(4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, entity.QueueAgent, entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil)))
	}
	assert.Equal(t, 3, q.Len(entity.QueueAgent))
	assert.Equal(t, 0, q.Len(entity.QueueGeneral))

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, entity.QueueAgent, func(ctx context.Context, task *entity.AgentTask) error {
			mu.Lock()
			got = append(got, task.ID)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				return errors.New("handler failed")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestQueue_EnqueueRespectsContextWhenFull(t *testing.T) {
	q := New(1, zap.NewNop())
	require.NoError(t, q.Enqueue(context.Background(), "agent", entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, "agent", entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close(t *testing.T) {
	q := New(0, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), "agent", func(ctx context.Context, task *entity.AgentTask) error { return nil })
	}()

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after Close")
	}

	err := q.Enqueue(context.Background(), "agent", entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_EnqueueAtDelaysDelivery(t *testing.T) {
	q := New(4, zap.NewNop())
	defer q.Close()

	task := entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil)
	require.NoError(t, q.EnqueueAt(context.Background(), "agent", task, time.Now().Add(50*time.Millisecond)))
	assert.Equal(t, 0, q.Len("agent"))
	assert.Equal(t, 1, q.Scheduled())

	require.Eventually(t, func() bool { return q.Len("agent") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Scheduled())
}

func TestQueue_EnqueueAtReturnsWhenFull(t *testing.T) {
	q := New(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer q.Close()

	first := entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil)
	second := entity.NewAgentTask(entity.AgentTypeJobSearch, "u2", nil)
	require.NoError(t, q.Enqueue(ctx, "agent", first))

	returned := make(chan error, 1)
	go func() { returned <- q.EnqueueAt(ctx, "agent", second, time.Now()) }()
	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("EnqueueAt blocked on a full queue")
	}

	var mu sync.Mutex
	var got []string
	go q.Consume(ctx, "agent", func(ctx context.Context, task *entity.AgentTask) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, task.UserID)
		return nil
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"u1", "u2"}, got)
}

func TestQueue_CloseDropsScheduled(t *testing.T) {
	q := New(1, zap.NewNop())
	require.NoError(t, q.EnqueueAt(context.Background(), "agent", entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil), time.Now().Add(time.Hour)))
	require.NoError(t, q.Close())
	assert.Equal(t, 0, q.Scheduled())

	err := q.EnqueueAt(context.Background(), "agent", entity.NewAgentTask(entity.AgentTypeJobSearch, "u1", nil), time.Now())
	assert.ErrorIs(t, err, ErrClosed)
}
