// Package engine sequences a bulk run: stack validation, environment
// resolution, content type reconciliation, collection reads, job
// normalization and dispatch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/backup"
	"github.com/BadgerOps/stacksync/internal/config"
	"github.com/BadgerOps/stacksync/internal/dispatch"
	"github.com/BadgerOps/stacksync/internal/job"
	"github.com/BadgerOps/stacksync/internal/reconcile"
	"github.com/BadgerOps/stacksync/internal/stack"
)

// API is the remote surface a run reads from.
type API interface {
	GetStack(ctx context.Context) (*stack.Stack, error)
	Login(ctx context.Context, email, password string) error
	GetEnvironment(ctx context.Context, name string) (*stack.Environment, error)
	ListEnvironments(ctx context.Context) ([]stack.Environment, error)
	ContentTypes(ctx context.Context) ([]stack.ContentType, error)
	Entries(ctx context.Context, contentType string, q stack.Query) (entries []stack.Entry, malformed int, err error)
	Assets(ctx context.Context, q stack.Query) (assets []stack.Asset, malformed int, err error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	// API serves publish and unpublish reads.
	API API
	// SyncAPI serves synchronize reads; defaults to API.
	SyncAPI API
	Sender  dispatch.Sender
	// Journal records runs when non-nil.
	Journal Journal
	// OnProgress receives a snapshot after every dispatch batch and once the
	// run ends. It may be called from dispatch goroutines.
	OnProgress func(Progress)
}

// Runner executes runs. A Runner holds no per-run state and may execute
// several runs concurrently.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRunner creates a Runner.
func NewRunner(cfg *config.Config, deps Deps, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.SyncAPI == nil {
		deps.SyncAPI = deps.API
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Report summarizes a finished or aborted run.
type Report struct {
	RunID        string
	Command      Command
	Mode         Mode
	Environments []string
	Locale       string
	ContentTypes int
	Entries      dispatch.Counts
	Assets       dispatch.Counts
	// Skipped counts malformed records that produced no job, including
	// records that could not be decoded.
	Skipped int
	// Ineligible counts records filtered out by publish history or since.
	Ineligible  int
	Dropped     []string
	Failures    []dispatch.Failure
	BackupPath  string
	Phase       Phase
	Transitions []Transition
	Start       time.Time
	End         time.Time
}

// Failed returns the number of failed jobs.
func (r *Report) Failed() int {
	return r.Entries.Failed + r.Assets.Failed
}

// Sync re-issues publishes for content already published to one environment.
func (r *Runner) Sync(ctx context.Context, opts Options) (*Report, error) {
	return r.execute(ctx, CommandSync, opts)
}

// Publish publishes content to the given environments.
func (r *Runner) Publish(ctx context.Context, opts Options) (*Report, error) {
	return r.execute(ctx, CommandPublish, opts)
}

// Unpublish removes content from the given environments.
func (r *Runner) Unpublish(ctx context.Context, opts Options) (*Report, error) {
	return r.execute(ctx, CommandUnpublish, opts)
}

// run carries the state of one invocation.
type run struct {
	id      string
	command Command
	opts    Options
	api     API
	tracker *Tracker
	logger  *slog.Logger
	report  *Report

	journaled bool

	envs   []stack.Environment
	envIDs []string

	assets      []job.SyncJob
	entryGroups [][]job.SyncJob
}

func (r *Runner) execute(ctx context.Context, cmd Command, opts Options) (*Report, error) {
	id := r.newID()
	logger := r.logger.With("run_id", id, "command", string(cmd))

	api := r.deps.API
	if cmd == CommandSync {
		api = r.deps.SyncAPI
	}

	rn := &run{
		id:      id,
		command: cmd,
		opts:    opts,
		api:     api,
		logger:  logger,
		tracker: NewTracker(r.now, func(t Transition) {
			logger.Debug("phase", "phase", string(t.Phase))
		}),
		report: &Report{
			RunID:        id,
			Command:      cmd,
			Mode:         opts.Mode,
			Environments: opts.Environments,
			Locale:       opts.Language,
			Start:        r.now(),
		},
	}

	if err := opts.Validate(cmd); err != nil {
		return r.finish(ctx, rn, err)
	}

	if r.cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Run.Timeout)
		defer cancel()
	}

	r.journalStart(ctx, rn)
	logger.Info("starting run", "environments", opts.Environments, "locale", opts.Language, "mode", string(opts.Mode))

	err := r.pipeline(ctx, rn)
	return r.finish(ctx, rn, err)
}

func (r *Runner) pipeline(ctx context.Context, rn *run) error {
	if err := r.validateStack(ctx, rn); err != nil {
		return err
	}

	if rn.command != CommandSync && rn.opts.Username != "" {
		if err := rn.api.Login(ctx, rn.opts.Username, rn.opts.Password); err != nil {
			return err
		}
	}

	rn.tracker.SetPhase(PhaseResolvingEnvironment)
	if err := r.resolveEnvironments(ctx, rn); err != nil {
		return err
	}

	path, err := backup.Snapshot(r.cfg.Storage.ContentDir, rn.opts.Language, rn.opts.Backup, backup.Format(r.cfg.Storage.BackupFormat), r.now())
	if err != nil {
		return fmt.Errorf("preparing local content: %w", err)
	}
	if path != "" {
		rn.report.BackupPath = path
		rn.logger.Info("backup created", "path", path)
	}

	var types []stack.ContentType
	if rn.opts.Mode.IncludesEntries() {
		rn.tracker.SetPhase(PhaseReconcilingContentTypes)
		types, err = r.reconcileContentTypes(ctx, rn)
		if err != nil {
			return err
		}
	}

	var assets []stack.Asset
	if rn.opts.Mode.IncludesAssets() {
		rn.tracker.SetPhase(PhaseFetchingAssets)
		assets, err = r.fetchAssets(ctx, rn)
		if err != nil {
			return err
		}
	}

	entries := make([][]stack.Entry, len(types))
	if len(types) > 0 {
		rn.tracker.SetPhase(PhaseFetchingEntries)
		for i, ct := range types {
			entries[i], err = r.fetchEntries(ctx, rn, ct)
			if err != nil {
				return err
			}
		}
	}

	rn.tracker.SetPhase(PhaseNormalizingJobs)
	r.normalize(rn, assets, types, entries)

	rn.tracker.SetPhase(PhaseDispatching)
	if rn.command == CommandSync {
		return r.dispatchSerial(ctx, rn)
	}
	r.dispatchParallel(ctx, rn)
	return ctx.Err()
}

func (r *Runner) validateStack(ctx context.Context, rn *run) error {
	st, err := rn.api.GetStack(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrUpstreamPermanent) {
			return apperr.Wrap(apperr.CodeAuth, "engine.stack", err)
		}
		return err
	}
	if !st.SupportsBulk() {
		return apperr.Newf(apperr.CodeConfiguration, "engine.stack",
			"stack %q is on schema version %d; version %d or later is required",
			st.Name, st.SchemaVersion, stack.MinBulkSchemaVersion)
	}
	rn.logger.Info("stack validated", "stack", st.Name, "schema_version", st.SchemaVersion)
	lang, err := reconcile.CheckLocale(r.cfg, rn.opts.Language)
	if err != nil {
		return err
	}
	rn.logger.Debug("language resolved", "locale", lang.Code, "url_prefix", lang.RelativeURLPrefix)
	return nil
}

func (r *Runner) resolveEnvironments(ctx context.Context, rn *run) error {
	if rn.command == CommandSync {
		env, err := rn.api.GetEnvironment(ctx, rn.opts.Environments[0])
		if err != nil {
			return err
		}
		rn.envs = []stack.Environment{*env}
	} else {
		all, err := rn.api.ListEnvironments(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]stack.Environment, len(all))
		for _, env := range all {
			byName[env.Name] = env
		}
		for _, name := range rn.opts.Environments {
			env, ok := byName[name]
			if !ok {
				return apperr.Newf(apperr.CodeConfiguration, "engine.environment", "environment %q not found in the stack", name)
			}
			rn.envs = append(rn.envs, env)
		}
	}

	for _, env := range rn.envs {
		if len(env.Servers) == 0 {
			return apperr.Newf(apperr.CodeConfiguration, "engine.environment", "environment %q has no servers", env.Name)
		}
		rn.envIDs = append(rn.envIDs, env.UID)
	}
	rn.logger.Info("environments resolved", "environments", rn.envIDs)
	return nil
}

func (r *Runner) reconcileContentTypes(ctx context.Context, rn *run) ([]stack.ContentType, error) {
	all, err := rn.api.ContentTypes(ctx)
	if err != nil {
		return nil, err
	}
	sel := reconcile.ContentTypes(all, rn.opts.ContentTypes, rn.opts.SkipContentTypes)
	if len(sel.Dropped) > 0 {
		rn.logger.Warn("ignoring unknown content types", "content_types", sel.Dropped)
	}
	rn.report.Dropped = sel.Dropped
	rn.report.ContentTypes = len(sel.Types)
	rn.logger.Info("content types selected", "count", len(sel.Types), "available", len(all))
	return sel.Types, nil
}

func (r *Runner) fetchAssets(ctx context.Context, rn *run) ([]stack.Asset, error) {
	q := stack.Query{Locale: rn.opts.Language}
	if rn.command == CommandSync {
		q.Environment = rn.envs[0].Name
		q.Filter = map[string]any{"publish_details.locale": rn.opts.Language}
		q.Only = []string{"publish_details", "filename", "_version"}
	}
	rn.tracker.SetMessage("reading assets")
	assets, malformed, err := rn.api.Assets(ctx, q)
	if err != nil {
		return nil, err
	}
	rn.report.Skipped += malformed

	if rn.command == CommandSync {
		env := rn.envs[0].UID
		eligible := reconcile.EligibleAssets(assets, env, rn.opts.Language, rn.opts.Since)
		kept := eligible[:0:0]
		for _, a := range eligible {
			if reconcile.HasPublishRecord(a.PublishDetails, env, rn.opts.Language) {
				kept = append(kept, a)
			}
		}
		rn.report.Ineligible += len(assets) - len(kept)
		assets = kept
	}
	rn.logger.Info("assets retrieved", "count", len(assets))
	return assets, nil
}

func (r *Runner) fetchEntries(ctx context.Context, rn *run, ct stack.ContentType) ([]stack.Entry, error) {
	q := stack.Query{Locale: rn.opts.Language}
	if rn.command == CommandSync {
		q.Environment = rn.envs[0].Name
	}
	rn.tracker.SetMessage("reading entries of " + ct.UID)
	entries, malformed, err := rn.api.Entries(ctx, ct.UID, q)
	if err != nil {
		return nil, err
	}
	rn.report.Skipped += malformed

	if rn.command == CommandSync {
		env := rn.envs[0].UID
		eligible := reconcile.EligibleEntries(entries, env, rn.opts.Language, rn.opts.Since)
		kept := eligible[:0:0]
		for _, e := range eligible {
			if reconcile.HasPublishRecord(e.PublishDetails, env, rn.opts.Language) {
				kept = append(kept, e)
			}
		}
		rn.report.Ineligible += len(entries) - len(kept)
		entries = kept
	}
	rn.logger.Info("entries retrieved", "content_type", ct.UID, "count", len(entries))
	return entries, nil
}

func (r *Runner) normalize(rn *run, assets []stack.Asset, types []stack.ContentType, entries [][]stack.Entry) {
	target := job.Target{
		Locale:       rn.opts.Language,
		Environments: rn.envIDs,
		Action:       job.ActionPublish,
		Origin:       job.OriginPublish,
	}
	switch rn.command {
	case CommandUnpublish:
		target.Action = job.ActionUnpublish
	case CommandSync:
		target.Origin = job.OriginSync
	}

	jobs, skipped := job.Assets(assets, target, rn.logger)
	rn.assets = jobs
	rn.report.Skipped += skipped

	for i, ct := range types {
		jobs, skipped := job.Entries(entries[i], ct, target, rn.logger)
		rn.entryGroups = append(rn.entryGroups, jobs)
		rn.report.Skipped += skipped
	}
}

// dispatchSerial feeds the FIFO queue one batch at a time, assets first, and
// waits for it to drain.
func (r *Runner) dispatchSerial(ctx context.Context, rn *run) error {
	q := dispatch.NewQueue(r.deps.Sender, rn.logger)

	var mu sync.Mutex
	var total dispatch.Result
	q.OnDrained(func(res dispatch.Result) {
		mu.Lock()
		total.Tally = total.Tally.Add(res.Tally)
		total.Failures = append(total.Failures, res.Failures...)
		mu.Unlock()
		rn.tracker.AddResult(res)
		r.reportProgress(rn)
	})

	batches := append([][]job.SyncJob{rn.assets}, rn.entryGroups...)
	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		rn.tracker.AddPlanned(len(batch))
		rn.tracker.SetMessage(fmt.Sprintf("queued %d jobs", len(batch)))
		q.Push(batch...)
		q.Start(ctx)
	}
	// Fires OnDrained for an empty run too.
	q.Start(ctx)

	if err := q.Wait(ctx); err != nil {
		return err
	}
	// The drain may still be finishing its last job after cancellation.
	_ = q.Wait(context.Background())

	mu.Lock()
	defer mu.Unlock()
	r.applyResult(rn, total)
	return ctx.Err()
}

// dispatchParallel runs the asset batch and then the entry batch through
// bounded pools.
func (r *Runner) dispatchParallel(ctx context.Context, rn *run) {
	var entries []job.SyncJob
	for _, g := range rn.entryGroups {
		entries = append(entries, g...)
	}
	rn.tracker.AddPlanned(len(rn.assets) + len(entries))

	onFinish := func(kind string) func(dispatch.Result) {
		return func(res dispatch.Result) {
			rn.tracker.AddResult(res)
			r.reportProgress(rn)
			rn.logger.Info("batch finished", "kind", kind,
				"succeeded", res.Tally.Entries.Succeeded+res.Tally.Assets.Succeeded,
				"failed", res.Tally.Entries.Failed+res.Tally.Assets.Failed)
		}
	}

	var total dispatch.Result
	if rn.opts.Mode.IncludesAssets() {
		rn.tracker.SetMessage(fmt.Sprintf("dispatching %d assets", len(rn.assets)))
		pool := dispatch.NewPool(r.deps.Sender, r.cfg.Dispatch.AssetConcurrency, rn.logger)
		res := pool.Execute(ctx, rn.assets, onFinish("asset"))
		total.Tally = total.Tally.Add(res.Tally)
		total.Failures = append(total.Failures, res.Failures...)
	}
	if rn.opts.Mode.IncludesEntries() {
		rn.tracker.SetMessage(fmt.Sprintf("dispatching %d entries", len(entries)))
		pool := dispatch.NewPool(r.deps.Sender, r.cfg.Dispatch.EntryConcurrency, rn.logger)
		res := pool.Execute(ctx, entries, onFinish("entry"))
		total.Tally = total.Tally.Add(res.Tally)
		total.Failures = append(total.Failures, res.Failures...)
	}
	r.applyResult(rn, total)
}

// reportProgress logs the current snapshot and passes it to OnProgress.
func (r *Runner) reportProgress(rn *run) {
	p := rn.tracker.Snapshot()
	rn.logger.Info("progress", "phase", string(p.Phase), "message", p.Message,
		"completed", p.CompletedJobs, "failed", p.FailedJobs, "total", p.TotalJobs,
		"percent", fmt.Sprintf("%.0f", p.Percent), "elapsed", p.Elapsed)
	if r.deps.OnProgress != nil {
		r.deps.OnProgress(p)
	}
}

func (r *Runner) applyResult(rn *run, res dispatch.Result) {
	rn.report.Entries = rn.report.Entries.Add(res.Tally.Entries)
	rn.report.Assets = rn.report.Assets.Add(res.Tally.Assets)
	rn.report.Failures = append(rn.report.Failures, res.Failures...)
}

// finish moves the run to its terminal phase and records it.
func (r *Runner) finish(ctx context.Context, rn *run, err error) (*Report, error) {
	if err == nil {
		rn.tracker.SetPhase(PhaseReporting)
		rn.tracker.SetMessage("completed")
		rn.tracker.SetPhase(PhaseDone)
	} else {
		if ctxErr := ctx.Err(); ctxErr != nil && apperr.CodeOf(err) != apperr.CodeCancelled {
			err = apperr.Wrap(apperr.CodeCancelled, "engine.run", fmt.Errorf("%w: %w", ctxErr, err))
		}
		rn.tracker.SetMessage(err.Error())
		rn.tracker.SetPhase(PhaseAborted)
		rn.logger.Error("run aborted", "error", err)
	}
	r.reportProgress(rn)

	rn.report.Phase = rn.tracker.Phase()
	rn.report.Transitions = rn.tracker.Transitions()
	rn.report.End = r.now()

	r.journalFinish(ctx, rn, err)

	if err == nil {
		rn.logger.Info("run finished",
			"entries_succeeded", rn.report.Entries.Succeeded, "entries_failed", rn.report.Entries.Failed,
			"assets_succeeded", rn.report.Assets.Succeeded, "assets_failed", rn.report.Assets.Failed,
			"skipped", rn.report.Skipped, "duration", rn.report.End.Sub(rn.report.Start))
	}
	return rn.report, err
}
