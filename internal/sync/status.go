package sync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the reconciler's coarse run state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// RunSummary describes one tick.
type RunSummary struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Successes  int        `json:"successes"`
	Errors     int        `json:"errors"`
	DryRun     bool       `json:"dry_run"`
	Message    string     `json:"message,omitempty"`
}

// Status is the externally visible snapshot.
type Status struct {
	State        State       `json:"state"`
	LastSyncTime *time.Time  `json:"last_sync_time,omitempty"`
	LastRun      *RunSummary `json:"last_run,omitempty"`
}

// StatusReporter exposes the last tick's summary and the current state to
// observers. All methods are safe for concurrent use; the reconciler writes,
// the HTTP status handler reads.
type StatusReporter struct {
	mu           sync.Mutex
	state        State
	lastSyncTime time.Time
	current      *RunSummary
	last         *RunSummary
}

// NewStatusReporter creates an idle reporter.
func NewStatusReporter() *StatusReporter {
	return &StatusReporter{state: StateIdle}
}

// TickStarted records the beginning of a tick and returns its run id.
func (r *StatusReporter) TickStarted(dryRun bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateRunning
	r.current = &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		DryRun:    dryRun,
	}
	return r.current.RunID
}

// ItemSucceeded counts one reconciled item.
func (r *StatusReporter) ItemSucceeded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Successes++
	}
}

// ItemFailed counts one failed item.
func (r *StatusReporter) ItemFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Errors++
	}
}

// TickFinished records the end of a tick with a human-readable message.
func (r *StatusReporter) TickFinished(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateIdle
	if r.current != nil {
		now := time.Now().UTC()
		r.current.FinishedAt = &now
		r.current.Message = message
		r.last = r.current
		r.current = nil
	}
}

// SetLastSyncTime records the persisted last successful sync start.
func (r *StatusReporter) SetLastSyncTime(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSyncTime = t
}

// Snapshot returns the current status. The returned summary is a copy.
func (r *StatusReporter) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{State: r.state}
	if !r.lastSyncTime.IsZero() {
		t := r.lastSyncTime
		s.LastSyncTime = &t
	}

	// Prefer the in-flight run so observers see live progress.
	src := r.current
	if src == nil {
		src = r.last
	}
	if src != nil {
		cp := *src
		s.LastRun = &cp
	}
	return s
}
