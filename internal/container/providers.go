package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/agents/jobsearch"
	"github.com/garyjia/agent-runtime/internal/agents/networking"
	"github.com/garyjia/agent-runtime/internal/ai"
	"github.com/garyjia/agent-runtime/internal/application/dispatcher"
	"github.com/garyjia/agent-runtime/internal/application/orchestrator"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/application/runtime"
	"github.com/garyjia/agent-runtime/internal/application/service"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	infraLark "github.com/garyjia/agent-runtime/internal/infrastructure/external/lark"
	infraOpenAI "github.com/garyjia/agent-runtime/internal/infrastructure/external/openai"
	"github.com/garyjia/agent-runtime/internal/infrastructure/observability"
	"github.com/garyjia/agent-runtime/internal/infrastructure/persistence/repository"
	"github.com/garyjia/agent-runtime/internal/infrastructure/persistence/sqlite"
	redisRelay "github.com/garyjia/agent-runtime/internal/infrastructure/pubsub/redis"
	"github.com/garyjia/agent-runtime/internal/infrastructure/queue/kafka"
	"github.com/garyjia/agent-runtime/internal/infrastructure/queue/memory"
	"github.com/garyjia/agent-runtime/internal/infrastructure/worker"
	"github.com/garyjia/agent-runtime/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// ObservabilityBundle holds tracing and metrics.
type ObservabilityBundle struct {
	Tracer   *observability.TracerProvider
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
}

// ProvideDatabase opens the database and, when configured, applies the
// embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(db, logger).RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Conn:           db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Output:   repository.NewOutputRepository(db.DB, logger),
		Activity: repository.NewActivityRepository(db.DB, logger),
		Approval: repository.NewApprovalRepository(db.DB, logger),
		Brake:    repository.NewBrakeRepository(db.DB, logger),
		Autonomy: repository.NewAutonomyRepository(db.DB, logger),
	}, nil
}

// ProvideObservability builds the tracer provider and a private metrics
// registry that also carries the Go and process collectors.
func ProvideObservability(ctx context.Context, cfg *Config) (*ObservabilityBundle, error) {
	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceVersion: cfg.Version,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &ObservabilityBundle{
		Tracer:   tracer,
		Metrics:  observability.MustNewMetrics(reg),
		Registry: reg,
	}, nil
}

// ProvideQueue creates the task transport for the configured driver.
func ProvideQueue(cfg *QueueConfig, logger *zap.Logger) (port.TaskQueue, error) {
	switch cfg.Driver {
	case QueueDriverKafka:
		return kafka.New(kafka.Config{
			Brokers:     cfg.Brokers,
			TopicPrefix: cfg.TopicPrefix,
			GroupID:     cfg.GroupID,
		}, logger)
	case QueueDriverMemory, "":
		return memory.New(cfg.Buffer, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// ProvideRelay connects the redis relay. It returns nil when no address is
// configured.
func ProvideRelay(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*redisRelay.Relay, error) {
	if cfg.Address == "" {
		return nil, nil
	}
	return redisRelay.NewRelay(ctx, redisRelay.Config{
		Address:  cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		Channel:  cfg.Channel,
	}, logger)
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// ProvideMessenger returns the Lark messenger, or a sender that refuses
// every message when Lark is not configured.
func ProvideMessenger(cfg *LarkConfig, logger *zap.Logger) port.MessageSender {
	larkCfg := infraLark.Config{AppID: cfg.AppID, AppSecret: cfg.AppSecret, BaseURL: cfg.BaseURL}
	if !larkCfg.Configured() {
		logger.Warn("Lark is not configured, outbound messages will fail")
		return unconfiguredSender{}
	}
	return infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg, logger), logger)
}

// ServiceDeps holds dependencies needed to create services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Strategies port.StrategyResolver
	Publisher  service.EventPublisher
	Metrics    port.Metrics
	Approval   ApprovalConfig
	Autonomy   AutonomyConfig
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}

	log := &zapLoggerAdapter{logger: deps.Logger}

	activity := service.NewActivityService(deps.Repos.Output, deps.Repos.Activity, log)
	brakes := service.NewBrakeService(deps.Repos.Brake, activity, deps.Publisher, log)
	autonomy := service.NewAutonomyService(deps.Repos.Autonomy, deps.Publisher, deps.Autonomy.DefaultLevel, log)
	approvals := service.NewApprovalService(
		deps.Repos.Approval,
		deps.TxManager,
		deps.Strategies,
		brakes,
		activity,
		deps.Publisher,
		deps.Metrics,
		service.ApprovalConfig{TTL: deps.Approval.TTL},
		log,
	)

	return &ServiceBundle{
		Activity: activity,
		Brake:    brakes,
		Autonomy: autonomy,
		Approval: approvals,
	}, nil
}

// ProvideNotifier subscribes the chat notifier. Nothing is subscribed when
// no chat is configured.
func ProvideNotifier(bus dispatcher.Dispatcher, sender port.MessageSender, cfg *LarkConfig, logger *zap.Logger) {
	if cfg.NotifyChatID == "" {
		return
	}
	notifier := service.NewNotificationService(sender, service.NotificationConfig{
		ReceiveIDType: "chat_id",
		ReceiveID:     cfg.NotifyChatID,
	}, &zapLoggerAdapter{logger: logger})

	bus.SubscribeNamed(event.TypeApprovalCreated, "lark-notifier", notifier.HandleApprovalCreated)
	bus.SubscribeNamed(event.TypeTaskFailed, "lark-notifier", notifier.HandleTaskFailed)
}

// ProvideRegistry registers the built-in strategies. Each is built lazily so
// a process only creates the OpenAI clients for agent types it runs.
func ProvideRegistry(cfg *Config, sender port.MessageSender, logger *zap.Logger) *runtime.Registry {
	registry := runtime.NewRegistry()
	log := &zapLoggerAdapter{logger: logger}
	openAICfg := infraOpenAI.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.Timeout,
	}

	registry.RegisterLazy(entity.AgentTypeJobSearch, func() (port.Strategy, error) {
		var refiner ai.Refiner
		if openAICfg.APIKey != "" {
			prompts, err := infraOpenAI.LoadPrompts(cfg.OpenAI.PromptsPath)
			if err != nil {
				return nil, err
			}
			r, err := infraOpenAI.NewRefiner(infraOpenAI.NewClient(openAICfg), prompts, openAICfg, logger)
			if err != nil {
				return nil, err
			}
			refiner = r
		}
		return jobsearch.New(refiner, sender, jobsearch.Config{
			Threshold:     cfg.Pipeline.Threshold,
			Concurrency:   cfg.Pipeline.RefineConcurrency,
			ReceiveIDType: "chat_id",
			ReceiveID:     cfg.Lark.NotifyChatID,
			SentCacheSize: cfg.Pipeline.OutreachCacheSize,
		}, log)
	})

	registry.RegisterLazy(entity.AgentTypeNetworking, func() (port.Strategy, error) {
		var drafter networking.Drafter
		if openAICfg.APIKey != "" {
			prompts, err := infraOpenAI.LoadPrompts(cfg.OpenAI.PromptsPath)
			if err != nil {
				return nil, err
			}
			d, err := infraOpenAI.NewDrafter(infraOpenAI.NewClient(openAICfg), prompts, openAICfg, logger)
			if err != nil {
				return nil, err
			}
			drafter = networking.DrafterFunc(func(ctx context.Context, c networking.Contact) (string, error) {
				return d.DraftOutreach(ctx, infraOpenAI.OutreachRequest{Name: c.Name, Company: c.Company, Note: c.Note})
			})
		}
		return networking.New(drafter, sender, cfg.Pipeline.OutreachCacheSize, log)
	})

	return registry
}

// OrchestratorDeps holds dependencies needed to create the orchestrator.
type OrchestratorDeps struct {
	Queue         port.TaskQueue
	Registry      *runtime.Registry
	Services      *ServiceBundle
	Publisher     service.EventPublisher
	Observability *ObservabilityBundle
	Retry         RetryConfig
	Logger        *zap.Logger
}

// ProvideOrchestrator builds the runtime and the orchestrator around it and
// registers the maintenance jobs.
func ProvideOrchestrator(deps *OrchestratorDeps) (*orchestrator.Orchestrator, error) {
	if deps == nil || deps.Services == nil {
		return nil, fmt.Errorf("orchestrator dependencies are required")
	}
	log := &zapLoggerAdapter{logger: deps.Logger}

	rt := runtime.New(runtime.Deps{
		Strategies: deps.Registry,
		Brakes:     deps.Services.Brake,
		Autonomy:   deps.Services.Autonomy,
		Approvals:  deps.Services.Approval,
		Recorder:   deps.Services.Activity,
		Publisher:  deps.Publisher,
		Metrics:    deps.Observability.Metrics,
		Logger:     log,
	})

	routing := orchestrator.DefaultConfig()
	routing.AgentRoute.MaxRetries = deps.Retry.MaxRetries
	routing.JobRoute.MaxRetries = deps.Retry.MaxRetries
	if deps.Retry.Backoff > 0 {
		routing.AgentRoute.Backoff = deps.Retry.Backoff
		routing.JobRoute.Backoff = deps.Retry.Backoff
	}

	orch := orchestrator.New(
		deps.Queue,
		rt,
		deps.Registry,
		deps.Services.Activity,
		deps.Publisher,
		routing,
		log,
		orchestrator.WithTracer(deps.Observability.Tracer.Tracer(), deps.Observability.Tracer.ForceFlush),
		orchestrator.WithMetrics(deps.Observability.Metrics),
	)

	approvals := deps.Services.Approval
	orch.RegisterJob(entity.JobSweepExpiredApprovals, func(ctx context.Context, _ map[string]interface{}) error {
		_, err := approvals.SweepExpired(ctx)
		return err
	})

	return orch, nil
}

// ProvideWorkers creates one or more consumers per logical queue and,
// optionally, the approval sweeper.
func ProvideWorkers(queue port.TaskQueue, orch *orchestrator.Orchestrator, cfg *Config, sweeper bool, logger *zap.Logger) (*worker.WorkerManager, error) {
	if queue == nil || orch == nil {
		return nil, fmt.Errorf("queue and orchestrator are required")
	}

	manager := worker.NewWorkerManager(logger)
	consumers := cfg.Queue.Workers
	if consumers < 1 {
		consumers = 1
	}
	for _, name := range orch.Queues() {
		for i := 0; i < consumers; i++ {
			manager.Register(worker.NewQueueWorker(queue, name, i, orch.HandleTask, logger))
		}
	}
	if sweeper {
		manager.Register(worker.NewApprovalSweeper(orch, cfg.Approval.SweepInterval, logger))
	}
	return manager, nil
}

// unconfiguredSender fails every send
type unconfiguredSender struct{}

func (unconfiguredSender) SendText(ctx context.Context, receiveIDType, receiveID, content string) (string, error) {
	return "", fmt.Errorf("lark messenger not configured")
}
