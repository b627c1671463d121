// Command agentd runs the agent execution and approval runtime
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/config"
	"github.com/garyjia/agent-runtime/internal/container"
	"github.com/garyjia/agent-runtime/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "agentd",
		Short:         "Agent execution and approval runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath,
		"path to the YAML config file; skipped when the default is absent")

	cmd.AddCommand(
		newServeCommand(opts),
		newWorkerCommand(opts),
		newSweepCommand(opts),
		newMigrateCommand(opts),
	)
	return cmd
}

// bootstrap loads configuration and builds the logger
func (o *rootOptions) bootstrap() (*config.Config, *zap.Logger, error) {
	path := o.configPath
	if path == defaultConfigPath && !config.Exists(path) {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "agentd",
		Version:    version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// startContainer builds and starts the container
func (o *rootOptions) startContainer(ctx context.Context) (*container.Container, *zap.Logger, error) {
	cfg, logger, err := o.bootstrap()
	if err != nil {
		return nil, nil, err
	}

	c, err := container.NewContainer(cfg.ToContainerConfig(version), logger)
	if err != nil {
		return nil, logger, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, logger, err
	}
	return c, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
