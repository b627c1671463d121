package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 48*time.Hour, cfg.Approval.TTL)
	assert.Equal(t, "L1", cfg.Autonomy.DefaultLevel)
	assert.Equal(t, 5, cfg.Pipeline.RefineConcurrency)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9090
queue:
  driver: kafka
  brokers: ["kafka-1:9092", "kafka-2:9092"]
approval:
  ttl: 24h
autonomy:
  default_level: L2
lark:
  notify_chat_id: oc_123
`)
	t.Setenv("AGENT_RETRY_MAX_RETRIES", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Queue.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Approval.TTL)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)

	cc := cfg.ToContainerConfig("1.2.3")
	assert.Equal(t, "1.2.3", cc.Version)
	assert.Equal(t, entity.L2, cc.Autonomy.DefaultLevel)
	assert.Equal(t, "oc_123", cc.Lark.NotifyChatID)
	assert.NoError(t, cc.Validate())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "LARK_APP_ID=cli_dotenv\nLARK_APP_SECRET=secret\n")
	t.Cleanup(func() {
		os.Unsetenv("LARK_APP_ID")
		os.Unsetenv("LARK_APP_SECRET")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cli_dotenv", cfg.Lark.AppID)
	assert.Equal(t, "secret", cfg.Lark.AppSecret)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, dir, "bad.yaml", "queue:\n  driver: kafka\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.brokers")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Path: "x.db"},
			Queue:    QueueConfig{Driver: "memory"},
			Approval: ApprovalConfig{TTL: time.Hour},
			Autonomy: AutonomyConfig{DefaultLevel: "L1"},
			Tracing:  TracingConfig{SampleRate: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Autonomy.DefaultLevel = "L4" }, true},
		{"bad driver", func(c *Config) { c.Queue.Driver = "nats" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, true},
		{"lark secret only", func(c *Config) { c.Lark.AppSecret = "s" }, true},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
