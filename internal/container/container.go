package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/dispatcher"
	"github.com/garyjia/agent-runtime/internal/application/orchestrator"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/application/runtime"
	"github.com/garyjia/agent-runtime/internal/application/service"
	redisRelay "github.com/garyjia/agent-runtime/internal/infrastructure/pubsub/redis"
	"github.com/garyjia/agent-runtime/internal/infrastructure/worker"
	httpAdapter "github.com/garyjia/agent-runtime/internal/interfaces/http"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *DatabaseBundle
	repositories *RepositoryBundle

	// Infrastructure - Observability
	observability *ObservabilityBundle

	// Infrastructure - Messaging
	queue     port.TaskQueue
	relay     *redisRelay.Relay
	messenger port.MessageSender

	// Application
	dispatcher   dispatcher.Dispatcher
	publisher    service.EventPublisher
	services     *ServiceBundle
	registry     *runtime.Registry
	orchestrator *orchestrator.Orchestrator

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Output   port.OutputRepository
	Activity port.ActivityRepository
	Approval port.ApprovalRepository
	Brake    port.BrakeRepository
	Autonomy port.AutonomyRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Activity service.ActivityService
	Brake    service.BrakeService
	Autonomy service.AutonomyService
	Approval service.ApprovalService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components. Workers are not started; call
// StartWorkers for processes that consume tasks.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Observability
// 3. Queue transport
// 4. Event bus and subscribers
// 5. Application services
// 6. Strategy registry, runtime and orchestrator
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize tracing and metrics
	obs, err := ProvideObservability(c.ctx, c.config)
	if err != nil {
		return c.abort(fmt.Errorf("failed to initialize observability: %w", err))
	}
	c.observability = obs
	c.logger.Info("Observability initialized", zap.Bool("tracing", obs.Tracer.Enabled()))

	// Step 3: Initialize queue transport
	queue, err := ProvideQueue(&c.config.Queue, c.logger)
	if err != nil {
		return c.abort(fmt.Errorf("failed to initialize queue: %w", err))
	}
	c.queue = queue
	c.logger.Info("Queue initialized", zap.String("driver", c.config.Queue.Driver))

	// Step 4: Initialize event bus and subscribers
	if err := c.initEventBus(); err != nil {
		return c.abort(fmt.Errorf("failed to initialize event bus: %w", err))
	}
	c.logger.Info("Event bus initialized")

	// Step 5: Initialize application services
	c.registry = ProvideRegistry(c.config, c.messenger, c.logger)
	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.database.TransactionMgr,
		Strategies: c.registry,
		Publisher:  c.publisher,
		Metrics:    c.observability.Metrics,
		Approval:   c.config.Approval,
		Autonomy:   c.config.Autonomy,
		Logger:     c.logger,
	})
	if err != nil {
		return c.abort(fmt.Errorf("failed to initialize services: %w", err))
	}
	c.services = services
	c.logger.Info("Application services initialized")

	// Step 6: Initialize runtime and orchestrator
	orch, err := ProvideOrchestrator(&OrchestratorDeps{
		Queue:         c.queue,
		Registry:      c.registry,
		Services:      c.services,
		Publisher:     c.publisher,
		Observability: c.observability,
		Retry:         c.config.Retry,
		Logger:        c.logger,
	})
	if err != nil {
		return c.abort(fmt.Errorf("failed to initialize orchestrator: %w", err))
	}
	c.orchestrator = orch
	c.logger.Info("Orchestrator initialized", zap.Strings("agent_types", agentTypeNames(c.registry)))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// StartWorkers starts one consumer per queue (times queue.workers) and,
// when sweeper is set, the approval sweeper.
func (c *Container) StartWorkers(sweeper bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	if c.workers != nil {
		return fmt.Errorf("workers already started")
	}

	workers, err := ProvideWorkers(c.queue, c.orchestrator, c.config, sweeper, c.logger)
	if err != nil {
		return err
	}
	if err := workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workers = workers
	c.logger.Info("Workers started", zap.Strings("workers", workers.Names()))
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Step 1: Stop workers so no new task starts
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 2: Drain the event bus, then close the relay it feeds
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}
	if c.relay != nil {
		if err := c.relay.Close(); err != nil {
			c.logger.Error("Failed to close relay", zap.Error(err))
			errs = append(errs, fmt.Errorf("close relay: %w", err))
		}
	}

	// Step 3: Close the queue transport
	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			c.logger.Error("Failed to close queue", zap.Error(err))
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		} else {
			c.logger.Info("Queue closed")
		}
	}

	// Step 4: Flush spans
	if c.observability != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.observability.Tracer.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("Failed to shut down tracer", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
		cancel()
	}

	// Step 5: Close database
	if c.database != nil {
		if err := c.database.Conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// abort releases what Start has opened so far
func (c *Container) abort(err error) error {
	if c.queue != nil {
		_ = c.queue.Close()
	}
	if c.relay != nil {
		_ = c.relay.Close()
	}
	if c.database != nil {
		_ = c.database.Conn.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	return err
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	// Check database
	if c.database != nil {
		if err := c.database.Conn.PingContext(ctx); err != nil {
			set("database", fmt.Errorf("ping failed: %w", err))
		} else {
			set("database", nil)
		}
	} else {
		set("database", fmt.Errorf("not initialized"))
	}

	// Check relay, when configured
	if c.relay != nil {
		set("redis", c.relay.Ping(ctx))
	}

	// Check workers, when this process runs them
	if c.workers != nil {
		if c.workers.IsRunning() {
			status.Components["workers"] = ComponentHealth{
				Healthy: true,
				Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
			}
		} else {
			set("workers", fmt.Errorf("stopped"))
		}
	}

	if c.orchestrator == nil {
		set("orchestrator", fmt.Errorf("not initialized"))
	} else {
		set("orchestrator", nil)
	}

	return status
}

// HealthErrors adapts Health to the HTTP health check
func (c *Container) HealthErrors(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for name, h := range c.Health(ctx).Components {
		if h.Healthy {
			out[name] = nil
			continue
		}
		out[name] = fmt.Errorf("%s", h.Message)
	}
	return out
}

// HTTPServer builds the API server over the container's services.
func (c *Container) HTTPServer() (*httpAdapter.Server, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready.Load() {
		return nil, fmt.Errorf("container not started")
	}

	return httpAdapter.NewServer(httpAdapter.ServerConfig{
		Host:         c.config.Server.Host,
		Port:         c.config.Server.Port,
		ReadTimeout:  c.config.Server.ReadTimeout,
		WriteTimeout: c.config.Server.WriteTimeout,
		Version:      c.config.Version,
	}, httpAdapter.Services{
		Tasks:     c.orchestrator,
		Approvals: c.services.Approval,
		Brakes:    c.services.Brake,
		Autonomy:  c.services.Autonomy,
		Activity:  c.services.Activity,
		Health:    c.HealthErrors,
		Gatherer:  c.observability.Registry,
	}, &zapLoggerAdapter{logger: c.logger}), nil
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = dbBundle

	repos, err := ProvideRepositories(dbBundle.Conn, c.logger)
	if err != nil {
		dbBundle.Conn.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initEventBus creates the dispatcher and subscribes the relay and the
// notifier. The relay receives every event type.
func (c *Container) initEventBus() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.publisher = service.NewEventPublisher(disp, &zapLoggerAdapter{logger: c.logger})

	relay, err := ProvideRelay(c.ctx, &c.config.Redis, c.logger)
	if err != nil {
		return err
	}
	if relay != nil {
		c.relay = relay
		disp.SubscribeAll("redis-relay", relay.Handle)
	}

	c.messenger = ProvideMessenger(&c.config.Lark, c.logger)
	ProvideNotifier(disp, c.messenger, &c.config.Lark, c.logger)
	return nil
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Orchestrator returns the orchestrator.
func (c *Container) Orchestrator() *orchestrator.Orchestrator {
	return c.orchestrator
}

// Workers returns the worker manager, nil until StartWorkers.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

func agentTypeNames(r *runtime.Registry) []string {
	types := r.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}

// zapLoggerAdapter adapts zap.Logger to the application Logger interfaces.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
