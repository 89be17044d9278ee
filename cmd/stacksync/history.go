package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	historyCommand string
	historyLimit   int
	historyFailed  string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Long: `Show runs recorded in the history database (history.db_path), newest
first. Use --failed with a run id to list the jobs that could not be delivered
during that run.`,
		Example: `  stacksync history
  stacksync history --command sync --limit 5
  stacksync history --failed 6f1c2a4e-0d7b-4a53-9a53-3b0f4c1e2d10`,
		Args: cobra.NoArgs,
		RunE: historyRun,
	}

	cmd.Flags().StringVar(&historyCommand, "command", "", "only show runs of this command (sync, publish, unpublish)")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().StringVar(&historyFailed, "failed", "", "list failed jobs of the given run id")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := openStore(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if historyFailed != "" {
		run, err := globalStore.GetRun(ctx, historyFailed)
		if err != nil {
			return err
		}
		jobs, err := globalStore.ListFailedJobs(ctx, run.ID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintf(out, "Run %s has no failed jobs\n", run.ID)
			return nil
		}
		fmt.Fprintf(out, "%-6s %-24s %-20s %-10s %s\n", "Kind", "UID", "Content Type", "Action", "Error")
		fmt.Fprintln(out, strings.Repeat("-", 90))
		for _, j := range jobs {
			ct := j.ContentType
			if ct == "" {
				ct = "-"
			}
			fmt.Fprintf(out, "%-6s %-24s %-20s %-10s %s\n", j.Kind, j.UID, ct, j.Action, j.Error)
		}
		return nil
	}

	runs, err := globalStore.ListRuns(ctx, historyCommand, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-10s %-20s %-8s %-10s %9s %9s %s\n",
		"Run", "Command", "Environments", "Locale", "Status", "Entries", "Assets", "Started")
	fmt.Fprintln(out, strings.Repeat("-", 130))
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s %-10s %-20s %-8s %-10s %9s %9s %s\n",
			r.ID, r.Command, r.Environments, r.Locale, r.Status,
			fmt.Sprintf("%d/%d", r.EntriesSucceeded, r.EntriesSucceeded+r.EntriesFailed),
			fmt.Sprintf("%d/%d", r.AssetsSucceeded, r.AssetsSucceeded+r.AssetsFailed),
			r.StartTime.Format("2006-01-02 15:04"),
		)
	}
	return nil
}
