package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/config"
	"github.com/BadgerOps/stacksync/internal/dispatch"
	"github.com/BadgerOps/stacksync/internal/engine"
	"github.com/BadgerOps/stacksync/internal/stack"
	"github.com/BadgerOps/stacksync/internal/store"
	"github.com/BadgerOps/stacksync/internal/transport"
)

var (
	// Global flags
	cfgPath   string
	envFile   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore  *store.Store
	globalRunner *engine.Runner
)

// initializeComponents builds the API client, sender, journal and runner
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := globalCfg.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeConfiguration, "config", err)
	}

	httpClient, err := transport.NewClient(transport.Options{
		BaseURL:        globalCfg.Stack.Host,
		Version:        globalCfg.Stack.Version,
		UserAgent:      globalCfg.Stack.UserAgent,
		APIKey:         globalCfg.Stack.APIKey,
		AccessToken:    globalCfg.Stack.AccessToken,
		MaxAttempts:    globalCfg.Transport.MaxAttempts,
		BaseDelay:      globalCfg.Transport.BaseDelay,
		RequestTimeout: globalCfg.Transport.RequestTimeout,
		MaxBodyBytes:   globalCfg.Transport.MaxBodyBytes,
	}, logger)
	if err != nil {
		return err
	}

	api := stack.NewClient(httpClient, globalCfg.Dispatch.PageSize, globalCfg.Dispatch.PageConcurrency, logger)

	deps := engine.Deps{
		API:     api,
		SyncAPI: api.WithPageSize(globalCfg.Dispatch.SyncPageSize),
		Sender:  dispatch.NewAPISender(api),
	}

	if globalCfg.History.DBPath != "" {
		st, err := store.New(globalCfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
		deps.Journal = st
	}

	globalRunner = engine.NewRunner(globalCfg, deps, logger)

	logger.Debug("components initialized", "host", globalCfg.Stack.Host, "history", globalCfg.History.DBPath != "")
	return nil
}

// openStore opens the history database without building API components
func openStore() error {
	if globalStore != nil {
		return nil
	}
	if globalCfg.History.DBPath == "" {
		return apperr.New(apperr.CodeConfiguration, "history", "history.db_path is not configured")
	}
	st, err := store.New(globalCfg.History.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st
	return nil
}

// needsComponents reports whether a command talks to the remote stack
func needsComponents(cmdName string) bool {
	switch cmdName {
	case "sync", "publish", "unpublish":
		return true
	}
	return false
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stacksync",
		Short: "Bulk publish, unpublish and synchronize headless CMS content",
		Long: `stacksync drives bulk operations against a headless CMS stack. It can
publish or unpublish every entry and asset of a locale to a set of
environments, and synchronize an environment by re-publishing content that is
already published there.

Credentials are read from the config file or from the STACKSYNC_API_KEY and
STACKSYNC_ACCESS_TOKEN environment variables (a .env file is honoured).

Exit status is 0 on success and 2 for CONFIGURATION, AUTH and CANCELLED
errors. Any other failure, including a run that finished with failed jobs,
exits 1.`,
		Example: `  stacksync sync --env production --lang en-us
  stacksync publish --env staging,production --type content_types --content_types blog,page
  stacksync unpublish --env staging --type assets
  stacksync history --limit 10`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return apperr.Wrap(apperr.CodeConfiguration, "config", fmt.Errorf("failed to load config: %w", err))
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if err := globalCfg.ApplyEnv(envFile); err != nil {
				return apperr.Wrap(apperr.CodeConfiguration, "config", err)
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "host", globalCfg.Stack.Host)
			}

			if needsComponents(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newSyncCmd(),
		newPublishCmd(engine.CommandPublish),
		newPublishCmd(engine.CommandUnpublish),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
