package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue workers and the approval sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, logger, err := opts.startContainer(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Shutdown finished with errors", zap.Error(err))
				}
			}()

			if !noWorkers {
				if err := c.StartWorkers(true); err != nil {
					return err
				}
			}

			server, err := c.HTTPServer()
			if err != nil {
				return err
			}
			logger.Info("Agent runtime started",
				zap.String("version", version),
				zap.String("address", server.Address()))

			// Start blocks until ctx is cancelled by a signal
			return server.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only; tasks are consumed by separate worker processes")
	return cmd
}
