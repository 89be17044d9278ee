package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/stacksync/internal/engine"
)

var (
	publishFlags   runFlags
	unpublishFlags runFlags
)

func newPublishCmd(command engine.Command) *cobra.Command {
	flags := &publishFlags
	verb := "Publish"
	if command == engine.CommandUnpublish {
		flags = &unpublishFlags
		verb = "Unpublish"
	}

	cmd := &cobra.Command{
		Use:   string(command),
		Short: verb + " entries and assets of a locale in bulk",
		Long: verb + ` every asset and every entry of the selected content types in one
locale to one or more environments. Assets are sent before entries, each kind
through a bounded worker pool.

Content types are all content types of the stack, minus --skip_content_types,
restricted to --content_types when given. Unknown uids are reported and ignored.

The command exits non-zero when the run aborts and also when the run completes
but any job failed; the summary lists each failed job.`,
		Example: fmt.Sprintf(`  stacksync %[1]s --env staging,production
  stacksync %[1]s --env staging --type assets --lang en-us
  stacksync %[1]s --env staging --content_types blog,page --username ops@example.com --password ...`, command),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return publishRun(cmd, command, flags)
		},
	}

	flags.register(cmd, true)
	cmd.Flags().StringVar(&flags.username, "username", "", "account email for a user session (optional)")
	cmd.Flags().StringVar(&flags.password, "password", "", "account password for a user session")

	return cmd
}

func publishRun(cmd *cobra.Command, command engine.Command, flags *runFlags) error {
	if globalRunner == nil {
		return fmt.Errorf("publish engine not initialized")
	}

	opts, err := flags.options(defaultLanguage())
	if err != nil {
		return err
	}

	logger.Info(string(command)+" operation", "environments", opts.Environments, "locale", opts.Language, "type", opts.Mode)

	var report *engine.Report
	if command == engine.CommandUnpublish {
		report, err = globalRunner.Unpublish(cmd.Context(), opts)
	} else {
		report, err = globalRunner.Publish(cmd.Context(), opts)
	}
	printReport(cmd.OutOrStdout(), report, err)
	if err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%s completed with %d failures", command, n)
	}
	return nil
}
