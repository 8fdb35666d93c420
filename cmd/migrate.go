// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jamatthews/pgost/pkg/backfill"
	"github.com/jamatthews/pgost/pkg/orchestrator"
)

func migrateCmd() *cobra.Command {
	var (
		ddl       string
		execute   bool
		strategy  string
		batchSize int
	)

	migrateCmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Run an online schema migration for the given DDL",
		Example: `migrate --sql "ALTER TABLE users ADD COLUMN bar TEXT" --execute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			captureStrategy, err := orchestrator.ParseStrategy(strategy)
			if err != nil {
				return err
			}

			sp, _ := pterm.DefaultSpinner.WithText("Starting migration...").Start()

			o, err := NewOrchestrator(ctx,
				orchestrator.WithBackfillBatchSize(batchSize),
				orchestrator.WithBackfillCallback(func(done int64) {
					sp.UpdateText(fmt.Sprintf("%d rows backfilled...", done))
				}),
			)
			if err != nil {
				sp.Fail(fmt.Sprintf("Failed to connect: %s", err))
				return err
			}
			defer o.Close()

			if err := o.Migrate(ctx, ddl, execute, captureStrategy); err != nil {
				sp.Fail(fmt.Sprintf("Migration failed: %s", err))
				return err
			}

			if execute {
				sp.Success("Migration complete")
			} else {
				sp.Success("Dry run complete; shadow table dropped")
			}
			return nil
		},
	}

	migrateCmd.Flags().StringVar(&ddl, "sql", "", "DDL statement to migrate (required)")
	migrateCmd.Flags().BoolVar(&execute, "execute", false, "Perform the cutover; without this flag the run is a dry run")
	migrateCmd.Flags().StringVar(&strategy, "strategy", string(orchestrator.StrategyTriggers), "Change capture strategy: triggers, logical or streaming")
	migrateCmd.Flags().IntVar(&batchSize, "backfill-batch-size", backfill.DefaultBatchSize, "Number of rows backfilled in each batch")
	migrateCmd.MarkFlagRequired("sql")

	return migrateCmd
}
