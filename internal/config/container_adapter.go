package config

import (
	"github.com/garyjia/agent-runtime/internal/container"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig(version string) *container.Config {
	level, err := entity.ParseAutonomyLevel(c.Autonomy.DefaultLevel)
	if err != nil {
		level = entity.DefaultAutonomyLevel
	}

	return &container.Config{
		Version: version,
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Queue: container.QueueConfig{
			Driver:      c.Queue.Driver,
			Buffer:      c.Queue.Buffer,
			Workers:     c.Queue.Workers,
			Brokers:     c.Queue.Brokers,
			TopicPrefix: c.Queue.TopicPrefix,
			GroupID:     c.Queue.GroupID,
		},
		Retry: container.RetryConfig{
			MaxRetries: c.Retry.MaxRetries,
			Backoff:    c.Retry.Backoff,
		},
		Approval: container.ApprovalConfig{
			TTL:           c.Approval.TTL,
			SweepInterval: c.Approval.SweepInterval,
		},
		Autonomy: container.AutonomyConfig{
			DefaultLevel: level,
		},
		Pipeline: container.PipelineConfig{
			RefineConcurrency: c.Pipeline.RefineConcurrency,
			Threshold:         c.Pipeline.Threshold,
			OutreachCacheSize: c.Pipeline.OutreachCacheSize,
		},
		Redis: container.RedisConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Channel:  c.Redis.Channel,
		},
		Tracing: container.TracingConfig{
			Enabled:    c.Tracing.Enabled,
			Exporter:   c.Tracing.Exporter,
			Endpoint:   c.Tracing.Endpoint,
			SampleRate: c.Tracing.SampleRate,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			Temperature: c.OpenAI.Temperature,
			Timeout:     c.OpenAI.Timeout,
			PromptsPath: c.OpenAI.PromptsPath,
		},
		Lark: container.LarkConfig{
			AppID:        c.Lark.AppID,
			AppSecret:    c.Lark.AppSecret,
			BaseURL:      c.Lark.BaseURL,
			NotifyChatID: c.Lark.NotifyChatID,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
	}
}
