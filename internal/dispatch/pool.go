// Package dispatch delivers publish jobs to the API, either with bounded
// concurrency or strictly one at a time.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/job"
)

// Sender delivers one job.
type Sender interface {
	Send(ctx context.Context, j job.SyncJob) error
}

// Counts are per-kind outcome totals.
type Counts struct {
	Succeeded int
	Failed    int
}

// Total returns the number of jobs counted.
func (c Counts) Total() int {
	return c.Succeeded + c.Failed
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{Succeeded: c.Succeeded + o.Succeeded, Failed: c.Failed + o.Failed}
}

// Tally splits counts by job kind.
type Tally struct {
	Entries Counts
	Assets  Counts
}

// Add returns the element-wise sum.
func (t Tally) Add(o Tally) Tally {
	return Tally{Entries: t.Entries.Add(o.Entries), Assets: t.Assets.Add(o.Assets)}
}

// Failure records a job that could not be delivered.
type Failure struct {
	Job job.SyncJob
	Err error
}

// Result is the outcome of one batch or drain cycle.
type Result struct {
	Tally    Tally
	Failures []Failure
}

// counters accumulates outcomes from concurrent workers.
type counters struct {
	entryOK, entryFail int64
	assetOK, assetFail int64

	mu       sync.Mutex
	failures []Failure
}

func (c *counters) record(j job.SyncJob, err error) {
	switch {
	case err == nil && j.Kind == job.KindAsset:
		atomic.AddInt64(&c.assetOK, 1)
	case err == nil:
		atomic.AddInt64(&c.entryOK, 1)
	case j.Kind == job.KindAsset:
		atomic.AddInt64(&c.assetFail, 1)
	default:
		atomic.AddInt64(&c.entryFail, 1)
	}
	if err != nil {
		c.mu.Lock()
		c.failures = append(c.failures, Failure{Job: j, Err: err})
		c.mu.Unlock()
	}
}

func (c *counters) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Tally: Tally{
			Entries: Counts{Succeeded: int(atomic.LoadInt64(&c.entryOK)), Failed: int(atomic.LoadInt64(&c.entryFail))},
			Assets:  Counts{Succeeded: int(atomic.LoadInt64(&c.assetOK)), Failed: int(atomic.LoadInt64(&c.assetFail))},
		},
		Failures: append([]Failure(nil), c.failures...),
	}
}

// Pool delivers a batch of jobs with a bounded number of workers.
type Pool struct {
	sender  Sender
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool with the given number of worker goroutines.
func NewPool(sender Sender, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sender:  sender,
		workers: workers,
		logger:  logger,
	}
}

// Execute delivers every job and waits for all of them. A failed job is
// logged and counted and does not stop its siblings. Jobs not started before
// ctx ends are counted as failed. onFinish, when non-nil, is called exactly
// once with the aggregate result, also for an empty batch.
func (p *Pool) Execute(ctx context.Context, jobs []job.SyncJob, onFinish func(Result)) Result {
	var c counters

	if len(jobs) > 0 {
		jobsChan := make(chan job.SyncJob)
		var wg sync.WaitGroup

		workers := p.workers
		if workers > len(jobs) {
			workers = len(jobs)
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go p.worker(ctx, jobsChan, &c, &wg)
		}

		for i, j := range jobs {
			select {
			case jobsChan <- j:
				continue
			case <-ctx.Done():
			}
			for _, rest := range jobs[i:] {
				c.record(rest, apperr.Wrap(apperr.CodeCancelled, "dispatch", ctx.Err()))
			}
			break
		}
		close(jobsChan)
		wg.Wait()
	}

	res := c.result()
	if onFinish != nil {
		onFinish(res)
	}
	return res
}

func (p *Pool) worker(ctx context.Context, jobsChan <-chan job.SyncJob, c *counters, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobsChan {
		c.record(j, deliver(ctx, p.sender, j, p.logger))
	}
}

// deliver sends one job and logs its outcome.
func deliver(ctx context.Context, sender Sender, j job.SyncJob, logger *slog.Logger) error {
	err := sender.Send(ctx, j)
	if err != nil {
		logger.Error("job failed", "kind", j.Kind, "uid", j.UID, "title", j.Title, "action", j.Action, "error", err)
		return err
	}
	logger.Info("job delivered", "kind", j.Kind, "uid", j.UID, "title", j.Title, "action", j.Action)
	return nil
}
