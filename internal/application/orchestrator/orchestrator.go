// Package orchestrator decides where agent work runs. Submit places tasks
// on a queue according to a routing table; HandleTask is the uniform
// wrapper every dequeued task goes through (trace, run, schedule the retry
// or record the permanent failure).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/garyjia/agent-runtime/internal/application/besteffort"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

// DefaultBackoff is the delay before a failed task is retried
const DefaultBackoff = 60 * time.Second

// Route says which queue a task goes to and how it is retried
type Route struct {
	Queue      string
	MaxRetries int
	Backoff    time.Duration
}

// Config is the routing table
type Config struct {
	// AgentRoute applies to every agent type without an explicit route
	AgentRoute Route
	// JobRoute applies to maintenance jobs
	JobRoute Route
	Routes   map[entity.AgentType]Route
}

// DefaultConfig sends agent work to the agent queue and jobs to the general
// queue, both with two retries 60s apart
func DefaultConfig() Config {
	return Config{
		AgentRoute: Route{Queue: entity.QueueAgent, MaxRetries: entity.DefaultMaxRetries, Backoff: DefaultBackoff},
		JobRoute:   Route{Queue: entity.QueueGeneral, MaxRetries: entity.DefaultMaxRetries, Backoff: DefaultBackoff},
	}
}

// Runner executes one invocation
type Runner interface {
	Run(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error)
}

// AgentTypes reports which agent types can be run
type AgentTypes interface {
	Has(agentType entity.AgentType) bool
}

// FailureRecorder persists the permanent failure record
type FailureRecorder interface {
	RecordActivity(ctx context.Context, record *entity.ActivityRecord) error
}

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

// JobFunc runs a maintenance job
type JobFunc func(ctx context.Context, payload map[string]interface{}) error

// Orchestrator submits tasks and handles them on the worker side
type Orchestrator struct {
	queue     port.TaskQueue
	runner    Runner
	types     AgentTypes
	recorder  FailureRecorder
	publisher Publisher
	metrics   port.Metrics
	logger    port.Logger
	config    Config

	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	flush      func(ctx context.Context) error

	jobsMu sync.RWMutex
	jobs   map[string]JobFunc

	now func() time.Time
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithTracer traces every task. flush runs after each task completes.
func WithTracer(tracer trace.Tracer, flush func(ctx context.Context) error) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
		o.flush = flush
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics port.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// New creates an Orchestrator
func New(
	queue port.TaskQueue,
	runner Runner,
	types AgentTypes,
	recorder FailureRecorder,
	publisher Publisher,
	config Config,
	logger port.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		queue:      queue,
		runner:     runner,
		types:      types,
		recorder:   recorder,
		publisher:  publisher,
		metrics:    port.NopMetrics{},
		logger:     logger,
		config:     normalize(config),
		tracer:     noop.NewTracerProvider().Tracer("orchestrator"),
		propagator: propagation.TraceContext{},
		jobs:       make(map[string]JobFunc),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	fill := func(r, fallback Route) Route {
		if r.Queue == "" {
			r.Queue = fallback.Queue
		}
		if r.MaxRetries < 0 {
			r.MaxRetries = 0
		}
		if r.Backoff < 0 {
			r.Backoff = 0
		}
		return r
	}
	if cfg.AgentRoute == (Route{}) {
		cfg.AgentRoute = def.AgentRoute
	}
	if cfg.JobRoute == (Route{}) {
		cfg.JobRoute = def.JobRoute
	}
	cfg.AgentRoute = fill(cfg.AgentRoute, def.AgentRoute)
	cfg.JobRoute = fill(cfg.JobRoute, def.JobRoute)
	routes := make(map[entity.AgentType]Route, len(cfg.Routes))
	for t, r := range cfg.Routes {
		routes[t] = fill(r, cfg.AgentRoute)
	}
	cfg.Routes = routes
	return cfg
}

// RouteFor returns the route of an agent type
func (o *Orchestrator) RouteFor(agentType entity.AgentType) Route {
	if r, ok := o.config.Routes[agentType]; ok {
		return r
	}
	return o.config.AgentRoute
}

// Queues lists every queue a worker pool must consume
func (o *Orchestrator) Queues() []string {
	seen := map[string]bool{o.config.AgentRoute.Queue: true, o.config.JobRoute.Queue: true}
	queues := []string{o.config.AgentRoute.Queue}
	if o.config.JobRoute.Queue != o.config.AgentRoute.Queue {
		queues = append(queues, o.config.JobRoute.Queue)
	}
	for _, r := range o.config.Routes {
		if !seen[r.Queue] {
			seen[r.Queue] = true
			queues = append(queues, r.Queue)
		}
	}
	return queues
}

// RegisterJob adds a maintenance job handler
func (o *Orchestrator) RegisterJob(name string, fn JobFunc) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	o.jobs[name] = fn
}

// Submit enqueues an agent run and returns the task ID
func (o *Orchestrator) Submit(ctx context.Context, agentType entity.AgentType, userID string, payload map[string]interface{}) (string, error) {
	if userID == "" {
		return "", entity.NewValidationError("user_id", "required")
	}
	if !o.types.Has(agentType) {
		return "", entity.NewValidationError("agent_type", fmt.Sprintf("%s: %s", entity.ErrUnknownAgentType, agentType))
	}

	task := entity.NewAgentTask(agentType, userID, payload)
	route := o.RouteFor(agentType)
	return o.enqueue(ctx, task, route, agentType.String())
}

// SubmitJob enqueues a maintenance job on the job route
func (o *Orchestrator) SubmitJob(ctx context.Context, name string, payload map[string]interface{}) (string, error) {
	o.jobsMu.RLock()
	_, ok := o.jobs[name]
	o.jobsMu.RUnlock()
	if !ok {
		return "", entity.NewValidationError("job", fmt.Sprintf("unknown job %q", name))
	}

	task := entity.NewAgentTask("", "", payload)
	task.Job = name
	return o.enqueue(ctx, task, o.config.JobRoute, name)
}

func (o *Orchestrator) enqueue(ctx context.Context, task *entity.AgentTask, route Route, name string) (string, error) {
	task.Queue = route.Queue
	task.MaxRetries = route.MaxRetries

	ctx, span := o.tracer.Start(ctx, "submit "+name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(taskAttributes(task)...))
	defer span.End()

	o.propagator.Inject(ctx, propagation.MapCarrier(task.TraceContext))

	if err := o.queue.Enqueue(ctx, task.Queue, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		o.logger.Error("Failed to enqueue task", "error", err, "task_id", task.ID, "queue", task.Queue)
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	o.logger.Info("Task submitted", "task_id", task.ID, "name", name, "user_id", task.UserID, "queue", task.Queue)
	return task.ID, nil
}

// HandleTask runs one dequeued task. It never waits out a backoff: retries
// and early deliveries are scheduled on the transport. It returns an error
// only when the task was not handled and the transport should deliver it
// again; rejections and permanent failures are consumed. A retry that cannot
// be scheduled becomes the permanent failure.
func (o *Orchestrator) HandleTask(ctx context.Context, task *entity.AgentTask) (err error) {
	ctx = o.propagator.Extract(ctx, propagation.MapCarrier(task.TraceContext))

	name := task.AgentType.String()
	if task.IsJob() {
		name = task.Job
	}
	ctx, span := o.tracer.Start(ctx, "task "+name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(taskAttributes(task)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.flushTraces(ctx)
	}()

	if task.NotBefore.After(o.now()) {
		// Delivered early; hand it back to the transport rather than hold the consumer
		span.SetAttributes(attribute.String("task.outcome", "not_due"))
		if err := o.queue.EnqueueAt(ctx, task.Queue, task, task.NotBefore); err != nil {
			return fmt.Errorf("reschedule task %s: %w", task.ID, err)
		}
		return nil
	}

	var runErr error
	if task.IsJob() {
		runErr = o.runJob(ctx, task)
	} else {
		_, runErr = o.runner.Run(ctx, port.Invocation{
			TaskID:    task.ID,
			AgentType: task.AgentType,
			UserID:    task.UserID,
			Payload:   task.Payload,
			Attempt:   task.RetryCount + 1,
		})
	}
	if runErr == nil {
		return nil
	}

	switch {
	case errors.Is(runErr, entity.ErrBrakeActive):
		span.SetAttributes(attribute.String("task.outcome", "brake"))
		o.logger.Info("Task rejected by brake", "task_id", task.ID, "user_id", task.UserID)
		return nil
	case errors.Is(runErr, entity.ErrValidation):
		span.SetAttributes(attribute.String("task.outcome", "invalid"))
		o.logger.Warn("Task rejected as invalid", "task_id", task.ID, "error", runErr)
		return nil
	}

	if retryable(task, runErr) && !task.RetriesExhausted() {
		retryErr := o.retry(ctx, task, name, runErr)
		if retryErr == nil {
			return nil
		}
		runErr = errors.Join(runErr, retryErr)
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, "permanently failed")
	o.fail(ctx, task, name, runErr)
	return nil
}

func retryable(task *entity.AgentTask, err error) bool {
	if task.IsJob() {
		return !errors.Is(err, entity.ErrValidation)
	}
	return entity.IsRetryable(err)
}

func (o *Orchestrator) retry(ctx context.Context, task *entity.AgentTask, name string, cause error) error {
	route := o.config.JobRoute
	if !task.IsJob() {
		route = o.RouteFor(task.AgentType)
	}

	next := task.NextAttempt(route.Backoff, o.now())
	if err := o.queue.EnqueueAt(ctx, task.Queue, next, next.NotBefore); err != nil {
		o.logger.Error("Failed to re-enqueue task", "error", err, "task_id", task.ID)
		return fmt.Errorf("re-enqueue task %s: %w", task.ID, err)
	}

	o.metrics.TaskRetried(name)
	o.logger.Warn("Task scheduled for retry",
		"task_id", task.ID,
		"name", name,
		"retry", next.RetryCount,
		"max_retries", next.MaxRetries,
		"not_before", next.NotBefore,
		"error", cause,
	)
	return nil
}

// fail persists the single failure record for a task that ran out of retries
func (o *Orchestrator) fail(ctx context.Context, task *entity.AgentTask, name string, cause error) {
	o.metrics.TaskFailed(name)
	o.logger.Error("Task permanently failed",
		"error", cause,
		"task_id", task.ID,
		"name", name,
		"user_id", task.UserID,
		"retries", task.RetryCount,
	)

	if task.IsJob() {
		return
	}

	var record *entity.ActivityRecord
	var se *entity.StrategyExecutionError
	if errors.As(cause, &se) && se.Record != nil {
		record = se.Record
	} else {
		record = entity.NewActivityRecord(task.UserID, task.AgentType, entity.ActivityTaskFailed, entity.SeverityError,
			map[string]interface{}{event.KeyError: cause.Error()})
		record.TaskID = task.ID
	}
	if record.Data == nil {
		record.Data = make(map[string]interface{})
	}
	record.Data["retries"] = task.RetryCount

	besteffort.Do(ctx, o.logger, "record_task_failure", func(ctx context.Context) error {
		return o.recorder.RecordActivity(ctx, record)
	}, "task_id", task.ID)

	evt := event.NewEventWithCorrelation(event.TypeTaskFailed, task.UserID, task.AgentType.String(), map[string]interface{}{
		event.KeyTaskID: task.ID,
		event.KeyError:  cause.Error(),
		"retries":       task.RetryCount,
	}, task.ID)
	besteffort.Do(ctx, o.logger, "publish_task_failed", func(ctx context.Context) error {
		o.publisher.Publish(ctx, evt)
		return nil
	}, "task_id", task.ID)
}

func (o *Orchestrator) runJob(ctx context.Context, task *entity.AgentTask) error {
	o.jobsMu.RLock()
	fn, ok := o.jobs[task.Job]
	o.jobsMu.RUnlock()
	if !ok {
		return entity.NewValidationError("job", fmt.Sprintf("unknown job %q", task.Job))
	}
	return fn(ctx, task.Payload)
}

func (o *Orchestrator) flushTraces(ctx context.Context) {
	if o.flush == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	besteffort.Do(flushCtx, o.logger, "flush_traces", o.flush)
}

func taskAttributes(task *entity.AgentTask) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("task.id", task.ID),
		attribute.String("task.queue", task.Queue),
		attribute.Int("task.retry_count", task.RetryCount),
	}
	if task.IsJob() {
		attrs = append(attrs, attribute.String("task.job", task.Job))
	} else {
		attrs = append(attrs,
			attribute.String("agent.type", task.AgentType.String()),
			attribute.String("user.id", task.UserID))
	}
	return attrs
}
