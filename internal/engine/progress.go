package engine

import (
	"sync"
	"time"

	"github.com/BadgerOps/stacksync/internal/dispatch"
)

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseValidatingStack         Phase = "validating_stack"
	PhaseResolvingEnvironment    Phase = "resolving_environment"
	PhaseReconcilingContentTypes Phase = "reconciling_content_types"
	PhaseFetchingAssets          Phase = "fetching_assets"
	PhaseFetchingEntries         Phase = "fetching_entries"
	PhaseNormalizingJobs         Phase = "normalizing_jobs"
	PhaseDispatching             Phase = "dispatching"
	PhaseReporting               Phase = "reporting"
	PhaseDone                    Phase = "done"
	PhaseAborted                 Phase = "aborted"
)

// Terminal reports whether no further transitions can follow.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// Transition records entering a phase.
type Transition struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// Progress is a snapshot of a run, safe for JSON serialization.
type Progress struct {
	Phase          Phase     `json:"phase"`
	Message        string    `json:"message,omitempty"`
	TotalJobs      int       `json:"total_jobs"`
	CompletedJobs  int       `json:"completed_jobs"`
	FailedJobs     int       `json:"failed_jobs"`
	Percent        float64   `json:"percent"`
	StartTime      time.Time `json:"start_time"`
	Elapsed        string    `json:"elapsed"`
	TransitionSeen int       `json:"transitions"`
}

// Tracker records phase transitions and dispatch progress for one run. It is
// safe for concurrent use by dispatch callbacks.
type Tracker struct {
	mu sync.Mutex

	phase       Phase
	message     string
	transitions []Transition
	totalJobs   int
	completed   int
	failed      int
	startTime   time.Time
	now         func() time.Time
	onChange    func(Transition)
}

// NewTracker creates a tracker in the validating_stack phase.
func NewTracker(now func() time.Time, onChange func(Transition)) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{now: now, onChange: onChange, startTime: now()}
	t.SetPhase(PhaseValidatingStack)
	return t
}

// SetPhase enters phase. Transitions out of a terminal phase are ignored.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	if t.phase.Terminal() {
		t.mu.Unlock()
		return
	}
	tr := Transition{Phase: phase, At: t.now()}
	t.phase = phase
	t.transitions = append(t.transitions, tr)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(tr)
	}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Transitions returns every phase entered so far, in order.
func (t *Tracker) Transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.transitions...)
}

// SetMessage sets a human-readable status message.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
}

// AddPlanned adds n jobs to the dispatch total.
func (t *Tracker) AddPlanned(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalJobs += n
}

// AddResult folds a finished dispatch batch into the counters.
func (t *Tracker) AddResult(r dispatch.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed += r.Tally.Entries.Succeeded + r.Tally.Assets.Succeeded
	t.failed += r.Tally.Entries.Failed + r.Tally.Assets.Failed
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalJobs > 0 {
		pct = float64(t.completed+t.failed) / float64(t.totalJobs) * 100
	} else if t.phase == PhaseDone {
		pct = 100
	}

	return Progress{
		Phase:          t.phase,
		Message:        t.message,
		TotalJobs:      t.totalJobs,
		CompletedJobs:  t.completed,
		FailedJobs:     t.failed,
		Percent:        pct,
		StartTime:      t.startTime,
		Elapsed:        t.now().Sub(t.startTime).Truncate(time.Second).String(),
		TransitionSeen: len(t.transitions),
	}
}
