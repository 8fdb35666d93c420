// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamatthews/pgost/pkg/orchestrator"
)

func replayOnlyCmd() *cobra.Command {
	var (
		ddl      string
		strategy string
	)

	replayOnlyCmd := &cobra.Command{
		Use:   "replay-only",
		Short: "Set up the shadow schema and replay changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			captureStrategy, err := orchestrator.ParseStrategy(strategy)
			if err != nil {
				return err
			}

			o, err := NewOrchestrator(ctx)
			if err != nil {
				return err
			}
			defer o.Close()

			return o.ReplayOnly(ctx, ddl, captureStrategy)
		},
	}

	replayOnlyCmd.Flags().StringVar(&ddl, "sql", "", "DDL statement to migrate (required)")
	replayOnlyCmd.Flags().StringVar(&strategy, "strategy", string(orchestrator.StrategyTriggers), "Change capture strategy: triggers, logical or streaming")
	replayOnlyCmd.MarkFlagRequired("sql")

	return replayOnlyCmd
}
