package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	var sweeper bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the agent and general queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, logger, err := opts.startContainer(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := c.StartWorkers(sweeper); err != nil {
				_ = c.Close()
				return err
			}
			logger.Info("Worker started", zap.Strings("workers", c.Workers().Names()))

			<-ctx.Done()
			logger.Info("Shutdown signal received")
			return c.Close()
		},
	}
	cmd.Flags().BoolVar(&sweeper, "sweeper", false, "also submit the approval expiry job on an interval")
	return cmd
}
