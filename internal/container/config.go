// Package container provides dependency injection and lifecycle management
// for the agent runtime following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// Queue drivers
const (
	QueueDriverMemory = "memory"
	QueueDriverKafka  = "kafka"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Version is reported by /health and the tracer resource
	Version string

	// Database configuration
	Database DatabaseConfig

	// Queue transport configuration
	Queue QueueConfig

	// Retry policy for agent and job routes
	Retry RetryConfig

	// Approval queue configuration
	Approval ApprovalConfig

	// Autonomy defaults
	Autonomy AutonomyConfig

	// Pipeline tuning for the job search strategy
	Pipeline PipelineConfig

	// Redis pub/sub relay configuration
	Redis RedisConfig

	// Tracing configuration
	Tracing TracingConfig

	// OpenAI configuration
	OpenAI OpenAIConfig

	// Lark API configuration
	Lark LarkConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending migrations on start
	AutoMigrate bool
}

// QueueConfig selects and configures the task transport.
type QueueConfig struct {
	// Driver is "memory" or "kafka"
	Driver string

	// Buffer is the per-queue channel size of the memory driver
	Buffer int

	// Workers is the number of consumers started per logical queue
	Workers int

	Brokers     []string
	TopicPrefix string
	GroupID     string
}

// RetryConfig is applied to both the agent and the general route.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// ApprovalConfig holds approval queue settings.
type ApprovalConfig struct {
	// TTL is how long an item stays pending
	TTL time.Duration

	// SweepInterval is how often the expiry job is submitted
	SweepInterval time.Duration
}

// AutonomyConfig holds the system default level.
type AutonomyConfig struct {
	DefaultLevel entity.AutonomyLevel
}

// PipelineConfig tunes the job search pipeline.
type PipelineConfig struct {
	RefineConcurrency int
	Threshold         float64

	// OutreachCacheSize bounds the networking strategy's sent-message memory
	OutreachCacheSize int
}

// RedisConfig holds the relay connection. An empty Address disables the relay.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool
	Exporter   string
	Endpoint   string
	SampleRate float64
}

// OpenAIConfig holds OpenAI API settings. An empty APIKey disables refinement
// and outreach drafting.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration

	// PromptsPath optionally overrides the built-in prompts
	PromptsPath string
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string

	// NotifyChatID receives approval and failure notifications
	NotifyChatID string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "dev",
		Database: DatabaseConfig{
			Path:            "data/agent-runtime.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Queue: QueueConfig{
			Driver:      QueueDriverMemory,
			Buffer:      1024,
			Workers:     1,
			TopicPrefix: "agent-runtime.",
			GroupID:     "agent-runtime",
		},
		Retry: RetryConfig{
			MaxRetries: entity.DefaultMaxRetries,
			Backoff:    60 * time.Second,
		},
		Approval: ApprovalConfig{
			TTL:           entity.DefaultApprovalTTL,
			SweepInterval: 10 * time.Minute,
		},
		Autonomy: AutonomyConfig{
			DefaultLevel: entity.DefaultAutonomyLevel,
		},
		Pipeline: PipelineConfig{
			RefineConcurrency: 5,
			Threshold:         60,
			OutreachCacheSize: 4096,
		},
		Redis: RedisConfig{
			Channel: "agent-events",
		},
		Tracing: TracingConfig{
			Exporter:   "otlp",
			SampleRate: 1.0,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o",
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Queue.Driver {
	case QueueDriverMemory:
	case QueueDriverKafka:
		if len(c.Queue.Brokers) == 0 {
			return fmt.Errorf("queue.brokers is required for the kafka driver")
		}
		if c.Queue.GroupID == "" {
			return fmt.Errorf("queue.group_id is required for the kafka driver")
		}
	default:
		return fmt.Errorf("unknown queue.driver %q", c.Queue.Driver)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("approval.ttl must be positive")
	}
	if !c.Autonomy.DefaultLevel.IsValid() {
		return fmt.Errorf("autonomy.default_level must be one of L0..L3")
	}

	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	return nil
}
