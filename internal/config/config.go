package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Autonomy AutonomyConfig `mapstructure:"autonomy"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Lark     LarkConfig     `mapstructure:"lark"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// QueueConfig holds the task transport configuration
type QueueConfig struct {
	Driver      string   `mapstructure:"driver"` // memory or kafka
	Buffer      int      `mapstructure:"buffer"`
	Workers     int      `mapstructure:"workers"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	GroupID     string   `mapstructure:"group_id"`
}

// RetryConfig holds the retry policy
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// ApprovalConfig holds approval queue configuration
type ApprovalConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AutonomyConfig holds the system default autonomy level ("L0".."L3")
type AutonomyConfig struct {
	DefaultLevel string `mapstructure:"default_level"`
}

// PipelineConfig tunes the confidence-gated pipeline
type PipelineConfig struct {
	RefineConcurrency int     `mapstructure:"refine_concurrency"`
	Threshold         float64 `mapstructure:"threshold"`
	OutreachCacheSize int     `mapstructure:"outreach_cache_size"`
}

// RedisConfig holds the pub/sub relay configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsPath string        `mapstructure:"prompts_path"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID        string `mapstructure:"app_id"`
	AppSecret    string `mapstructure:"app_secret"`
	BaseURL      string `mapstructure:"base_url"`
	NotifyChatID string `mapstructure:"notify_chat_id"`
}

// Load loads configuration from an optional YAML file, a .env file in the
// working directory and the environment. An empty configPath skips the file.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports variables from path without overriding ones already set
func loadDotEnv(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/agent-runtime.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Queue defaults
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.buffer", 1024)
	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.brokers", []string{})
	v.SetDefault("queue.topic_prefix", "agent-runtime.")
	v.SetDefault("queue.group_id", "agent-runtime")

	// Retry defaults
	v.SetDefault("retry.max_retries", entity.DefaultMaxRetries)
	v.SetDefault("retry.backoff", 60*time.Second)

	// Approval defaults
	v.SetDefault("approval.ttl", entity.DefaultApprovalTTL)
	v.SetDefault("approval.sweep_interval", 10*time.Minute)

	// Autonomy defaults
	v.SetDefault("autonomy.default_level", entity.DefaultAutonomyLevel.String())

	// Pipeline defaults
	v.SetDefault("pipeline.refine_concurrency", 5)
	v.SetDefault("pipeline.threshold", 60)
	v.SetDefault("pipeline.outreach_cache_size", 4096)

	// Redis defaults
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "agent-events")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_rate", 1.0)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.prompts_path", "")

	// Lark defaults
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.base_url", "")
	v.SetDefault("lark.notify_chat_id", "")
}

// bindEnvVars binds the conventional names of secrets
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"lark.app_id":     "LARK_APP_ID",
		"lark.app_secret": "LARK_APP_SECRET",
		"openai.api_key":  "OPENAI_API_KEY",
		"redis.password":  "REDIS_PASSWORD",
	}
	for key, env := range bindings {
		// AGENT_ prefixed names keep working alongside the conventional ones
		prefixed := "AGENT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Queue.Driver {
	case "memory":
	case "kafka":
		if len(c.Queue.Brokers) == 0 {
			return fmt.Errorf("queue.brokers is required for the kafka driver")
		}
	default:
		return fmt.Errorf("queue.driver must be memory or kafka, got %q", c.Queue.Driver)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("approval.ttl must be positive")
	}
	if _, err := entity.ParseAutonomyLevel(c.Autonomy.DefaultLevel); err != nil {
		return fmt.Errorf("autonomy.default_level: %w", err)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within 0..1")
	}

	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	return nil
}

// Exists reports whether a config file is present at path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
