package main

import (
	"github.com/spf13/cobra"

	"github.com/BadgerOps/stacksync/internal/engine"
)

// runFlags are the flags shared by sync, publish and unpublish
type runFlags struct {
	env              string
	mode             string
	lang             string
	contentTypes     string
	skipContentTypes string
	backup           string
	since            string
	username         string
	password         string
}

func (f *runFlags) register(cmd *cobra.Command, multiEnv bool) {
	envHelp := "environment to synchronize"
	if multiEnv {
		envHelp = "comma-separated list of target environments"
	}
	cmd.Flags().StringVar(&f.env, "env", "", envHelp)
	cmd.Flags().StringVar(&f.mode, "type", string(engine.ModeAll), "what to process: all, assets or content_types")
	cmd.Flags().StringVar(&f.lang, "lang", "", "locale code (defaults to the first configured language)")
	cmd.Flags().StringVar(&f.contentTypes, "content_types", "", "comma-separated content type uids to include")
	cmd.Flags().StringVar(&f.skipContentTypes, "skip_content_types", "", "comma-separated content type uids to exclude")
	cmd.Flags().StringVar(&f.backup, "backup", "no", "back up existing local content for the locale first (yes/no)")
}

// options converts flag values into run options
func (f *runFlags) options(defaultLang string) (engine.Options, error) {
	since, err := engine.ParseSince(f.since)
	if err != nil {
		return engine.Options{}, err
	}
	lang := f.lang
	if lang == "" {
		lang = defaultLang
	}
	return engine.Options{
		Environments:     engine.SplitList(f.env),
		Mode:             engine.Mode(f.mode),
		Language:         lang,
		ContentTypes:     engine.SplitList(f.contentTypes),
		SkipContentTypes: engine.SplitList(f.skipContentTypes),
		Since:            since,
		Backup:           engine.ParseConfirm(f.backup),
		Username:         f.username,
		Password:         f.password,
	}, nil
}

func defaultLanguage() string {
	if globalCfg != nil && len(globalCfg.Languages) > 0 {
		return globalCfg.Languages[0].Code
	}
	return ""
}
