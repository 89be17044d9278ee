package engine

import (
	"context"
	"strings"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/store"
)

// Journal persists run history. *store.Store satisfies it. Journal writes
// never fail a run; errors are logged.
type Journal interface {
	CreateRun(ctx context.Context, run *store.Run) error
	FinishRun(ctx context.Context, run *store.Run) error
	AddFailedJob(ctx context.Context, rec *store.FailedJob) error
}

// journalStart records the run as running. Later journal writes are skipped
// when this one fails.
func (r *Runner) journalStart(ctx context.Context, rn *run) {
	if r.deps.Journal == nil {
		return
	}
	rec := &store.Run{
		ID:           rn.id,
		Command:      string(rn.command),
		Environments: strings.Join(rn.opts.Environments, ","),
		Locale:       rn.opts.Language,
		Mode:         string(rn.opts.Mode),
		StartTime:    rn.report.Start,
		Status:       store.StatusRunning,
	}
	if err := r.deps.Journal.CreateRun(ctx, rec); err != nil {
		rn.logger.Warn("failed to record run start", "error", err)
		return
	}
	rn.journaled = true
}

func (r *Runner) journalFinish(ctx context.Context, rn *run, runErr error) {
	if r.deps.Journal == nil || !rn.journaled {
		return
	}
	// The run context may already be done.
	ctx = context.WithoutCancel(ctx)

	rep := rn.report
	rec := &store.Run{
		ID:               rn.id,
		EndTime:          rep.End,
		EntriesSucceeded: rep.Entries.Succeeded,
		EntriesFailed:    rep.Entries.Failed,
		AssetsSucceeded:  rep.Assets.Succeeded,
		AssetsFailed:     rep.Assets.Failed,
		Skipped:          rep.Skipped,
		Status:           runStatus(rep, runErr),
	}
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
	}

	for _, f := range rep.Failures {
		fj := &store.FailedJob{
			RunID:    rn.id,
			Kind:     string(f.Job.Kind),
			UID:      f.Job.UID,
			Title:    f.Job.Title,
			Locale:   f.Job.Locale,
			Action:   string(f.Job.Action),
			Error:    f.Err.Error(),
			FailedAt: rep.End,
		}
		if f.Job.ContentType != nil {
			fj.ContentType = f.Job.ContentType.UID
		}
		if err := r.deps.Journal.AddFailedJob(ctx, fj); err != nil {
			rn.logger.Warn("failed to record failed job", "uid", f.Job.UID, "error", err)
		}
	}

	if err := r.deps.Journal.FinishRun(ctx, rec); err != nil {
		rn.logger.Warn("failed to record run result", "error", err)
	}
}

func runStatus(rep *Report, runErr error) string {
	switch {
	case runErr != nil && apperr.CodeOf(runErr) == apperr.CodeCancelled:
		return store.StatusCancelled
	case runErr != nil:
		return store.StatusFailed
	case rep.Failed() > 0:
		return store.StatusPartial
	default:
		return store.StatusSuccess
	}
}
