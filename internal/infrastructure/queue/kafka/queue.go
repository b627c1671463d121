// Package kafka is the distributed task queue. Each logical queue maps to
// one topic plus a retry topic for scheduled tasks. Tasks are JSON encoded
// and keyed by task ID so redeliveries of the same task land on the same
// partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

const (
	retrySuffix     = ".retry"
	headerNotBefore = "not_before"
)

// Config for the kafka transport
type Config struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue implements port.TaskQueue on kafka topics
type Queue struct {
	config    Config
	writer    messageWriter
	newReader func(topic string) messageReader
	logger    *zap.Logger

	mu      sync.Mutex
	readers []messageReader
	closed  bool
}

// New creates a Queue. Topics are created on first write when the broker allows it.
func New(cfg Config, logger *zap.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "agent-runtime"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	q := &Queue{config: cfg, writer: writer, logger: logger}
	q.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
			Dialer:   &kafka.Dialer{Timeout: 10 * time.Second},
		})
	}
	return q, nil
}

// Topic returns the topic that backs a logical queue
func (q *Queue) Topic(queue string) string {
	return q.config.TopicPrefix + queue
}

// Enqueue writes the task to the queue's topic
func (q *Queue) Enqueue(ctx context.Context, queue string, task *entity.AgentTask) error {
	msg, err := encodeTask(q.Topic(queue), task)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write task %s to %s: %w", task.ID, msg.Topic, err)
	}
	return nil
}

// EnqueueAt writes a task that is not yet due to the queue's retry topic
// with its due time in a header. Due tasks go straight to the main topic.
func (q *Queue) EnqueueAt(ctx context.Context, queue string, task *entity.AgentTask, at time.Time) error {
	if !at.After(time.Now()) {
		return q.Enqueue(ctx, queue, task)
	}

	msg, err := encodeTask(q.RetryTopic(queue), task)
	if err != nil {
		return err
	}
	msg.Headers = append(msg.Headers, kafka.Header{Key: headerNotBefore, Value: []byte(at.UTC().Format(time.RFC3339Nano))})
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("schedule task %s on %s: %w", task.ID, msg.Topic, err)
	}
	return nil
}

// RetryTopic returns the topic that holds scheduled tasks for a logical queue
func (q *Queue) RetryTopic(queue string) string {
	return q.Topic(queue) + retrySuffix
}

// Consume reads the queue's topic in the consumer group. Offsets are
// committed after the handler returns nil, so a task is delivered at least
// once. A handler error stops consumption without committing; the caller
// restarts Consume and the group redelivers from the last commit.
//
// Alongside the main topic, Consume drains the retry topic: each scheduled
// task is held until due and then moved to the main topic. Only the retry
// partition waits, so healthy work keeps flowing.
func (q *Queue) Consume(ctx context.Context, queue string, handler port.TaskHandler) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.pump(ctx, q.Topic(queue), func(ctx context.Context, msg kafka.Message) error {
			task, err := decodeTask(msg)
			if err != nil {
				q.dropUndecodable(msg, err)
				return nil
			}
			if err := handler(ctx, task); err != nil {
				return fmt.Errorf("handle task %s: %w", task.ID, err)
			}
			return nil
		})
	})
	g.Go(func() error {
		return q.pump(ctx, q.RetryTopic(queue), func(ctx context.Context, msg kafka.Message) error {
			return q.forward(ctx, q.Topic(queue), msg)
		})
	})
	return g.Wait()
}

// pump fetches from topic, hands each message to handle and commits it
func (q *Queue) pump(ctx context.Context, topic string, handle func(ctx context.Context, msg kafka.Message) error) error {
	reader, err := q.track(topic)
	if err != nil {
		return err
	}
	defer q.untrack(reader)

	q.logger.Info("Kafka consumer started", zap.String("topic", topic), zap.String("group", q.config.GroupID))
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", topic, err)
		}

		if err := handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s offset %d: %w", topic, msg.Offset, err)
		}
	}
}

// forward waits until a scheduled message is due and writes it to topic
func (q *Queue) forward(ctx context.Context, topic string, msg kafka.Message) error {
	if _, err := decodeTask(msg); err != nil {
		q.dropUndecodable(msg, err)
		return nil
	}

	if delay := time.Until(notBefore(msg)); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	out := kafka.Message{Topic: topic, Key: msg.Key, Value: msg.Value}
	for _, h := range msg.Headers {
		if h.Key != headerNotBefore {
			out.Headers = append(out.Headers, h)
		}
	}
	if err := q.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("forward task %s to %s: %w", msg.Key, topic, err)
	}
	return nil
}

// dropUndecodable logs a poison message; the caller commits so the group moves past it
func (q *Queue) dropUndecodable(msg kafka.Message, err error) {
	q.logger.Error("Dropping undecodable task",
		zap.Error(err),
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
}

func notBefore(msg kafka.Message) time.Time {
	for _, h := range msg.Headers {
		if h.Key != headerNotBefore {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, string(h.Value))
		if err == nil {
			return at
		}
	}
	return time.Time{}
}

func (q *Queue) track(topic string) (messageReader, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("kafka queue closed")
	}
	r := q.newReader(topic)
	q.readers = append(q.readers, r)
	return r, nil
}

func (q *Queue) untrack(r messageReader) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, existing := range q.readers {
		if existing == r {
			q.readers = append(q.readers[:i], q.readers[i+1:]...)
			if err := r.Close(); err != nil {
				q.logger.Warn("Failed to close kafka reader", zap.Error(err))
			}
			return
		}
	}
}

// Close closes the writer and every active reader
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	var errs []error
	for _, r := range q.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	q.readers = nil
	if err := q.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func encodeTask(topic string, task *entity.AgentTask) (kafka.Message, error) {
	value, err := json.Marshal(task)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(task.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "agent_type", Value: []byte(task.AgentType)},
			{Key: "retry_count", Value: []byte(fmt.Sprint(task.RetryCount))},
		},
	}, nil
}

func decodeTask(msg kafka.Message) (*entity.AgentTask, error) {
	var task entity.AgentTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return nil, fmt.Errorf("decode task at offset %d: %w", msg.Offset, err)
	}
	if task.ID == "" {
		task.ID = string(msg.Key)
	}
	if task.TraceContext == nil {
		task.TraceContext = make(map[string]string)
	}
	return &task, nil
}

var _ port.TaskQueue = (*Queue)(nil)
