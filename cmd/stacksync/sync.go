package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncFlags runFlags

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-publish content already published to an environment",
		Long: `Synchronize one environment by re-publishing every entry and asset that
already has a publish record for the environment and locale. Entries are
re-published at the version recorded in their publish history.

The sync command will:
  1. Verify the stack supports bulk operations and the locale is configured
  2. Resolve the environment and check it has servers
  3. Optionally back up local content for the locale
  4. Read assets and entries published to the environment
  5. Queue one job per record and deliver them one at a time

Use --datetime to limit the run to records published at or after a time.

The command exits non-zero when the run aborts and also when the run completes
but any job failed; the summary lists each failed job.`,
		Example: `  stacksync sync --env production
  stacksync sync --env production --lang en-us --type assets
  stacksync sync --env staging --datetime 2024-03-01T00:00:00Z --backup yes`,
		Args: cobra.NoArgs,
		RunE: syncRun,
	}

	syncFlags.register(cmd, false)
	cmd.Flags().StringVar(&syncFlags.since, "datetime", "", "only records published at or after this RFC3339 time")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	if globalRunner == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	opts, err := syncFlags.options(defaultLanguage())
	if err != nil {
		return err
	}

	logger.Info("sync operation", "environment", opts.Environments, "locale", opts.Language, "type", opts.Mode)

	report, err := globalRunner.Sync(cmd.Context(), opts)
	printReport(cmd.OutOrStdout(), report, err)
	if err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("sync completed with %d failures", n)
	}
	return nil
}
