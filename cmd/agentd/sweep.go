package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending approvals past their deadline and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, logger, err := opts.startContainer(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			expired, err := c.Services().Approval.SweepExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			logger.Info("Sweep finished", zap.Int("expired", expired))
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d approval(s)\n", expired)
			return nil
		},
	}
}
