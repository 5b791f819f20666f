// Package progress holds the live state of a pipeline run, shared between the
// coordinator that mutates it and the reporters that read it.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eloisaabril01/emailscrap/internal/listing"
)

// Phase is a pipeline state machine position.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseInitializing    Phase = "initializing"
	PhaseDiscovering     Phase = "discovering"
	PhaseExtractingBatch Phase = "extracting_batch"
	PhaseMerging         Phase = "merging"
	PhaseFinalizing      Phase = "finalizing"
	PhaseCompleted       Phase = "completed"
	PhaseCancelled       Phase = "cancelled"
	PhaseFailed          Phase = "failed"
)

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled, PhaseFailed:
		return true
	}
	return false
}

// Active reports whether a run is in progress.
func (p Phase) Active() bool {
	return p != PhaseIdle && !p.Terminal()
}

// State is a snapshot of one run.
type State struct {
	RunID       string    `json:"run_id,omitempty"`
	Query       string    `json:"query,omitempty"`
	Current     int       `json:"current"`
	Target      int       `json:"total"`
	Status      string    `json:"status"`
	Phase       Phase     `json:"phase"`
	Cancelled   bool      `json:"cancelled"`
	Destination string    `json:"destination,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Version     uint64    `json:"version"`
}

// Tracker owns the State of the current run. Every State access goes through mu; the
// cancellation flag is atomic so workers can poll it without contention.
type Tracker struct {
	mu      sync.Mutex
	state   State
	results []listing.VerifiedResult
	changed chan struct{}

	cancel atomic.Bool
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:   State{Phase: PhaseIdle, Status: "idle"},
		changed: make(chan struct{}),
	}
}

// Arm prepares the tracker for a run that is about to start. It clears a stale
// cancellation and moves to Initializing; a cancellation requested after Arm survives
// Begin and is observed by the run.
func (t *Tracker) Arm() {
	t.cancel.Store(false)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{
		Phase:   PhaseInitializing,
		Status:  "Initializing...",
		Version: t.state.Version,
	}
	t.results = nil
	t.notifyLocked()
}

// Armed reports whether Arm was called and no run has begun since.
func (t *Tracker) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Phase == PhaseInitializing && t.state.RunID == ""
}

// Begin records the identity of the run started after Arm. It leaves the
// cancellation flag alone.
func (t *Tracker) Begin(runID, query string, target int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{
		RunID:     runID,
		Query:     query,
		Target:    target,
		Phase:     PhaseInitializing,
		Status:    "Initializing...",
		StartedAt: time.Now(),
		Version:   t.state.Version,
	}
	t.results = nil
	t.notifyLocked()
}

// SetPhase moves the run to phase.
func (t *Tracker) SetPhase(phase Phase) {
	t.update(func(s *State) { s.Phase = phase })
}

// SetStatus replaces the status text.
func (t *Tracker) SetStatus(status string) {
	t.update(func(s *State) { s.Status = status })
}

// SetPhaseStatus moves the run to phase with a new status text.
func (t *Tracker) SetPhaseStatus(phase Phase, status string) {
	t.update(func(s *State) {
		s.Phase = phase
		s.Status = status
	})
}

// SetProgress records the merged count and status text.
func (t *Tracker) SetProgress(current int, status string) {
	t.update(func(s *State) {
		s.Current = current
		s.Status = status
	})
}

// Finish moves the run to a terminal phase.
func (t *Tracker) Finish(phase Phase, status, destination string) {
	cancelled := t.cancel.Load()
	t.update(func(s *State) {
		s.Phase = phase
		s.Status = status
		s.Destination = destination
		s.Cancelled = cancelled || phase == PhaseCancelled
		s.FinishedAt = time.Now()
	})
}

// Snapshot returns a copy of the current State.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	if s.Phase.Active() {
		s.Cancelled = s.Cancelled || t.cancel.Load()
	}
	return s
}

// Changed returns a channel closed on the next State change.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// RequestCancel sets the cancellation flag. It reports whether a run was active.
func (t *Tracker) RequestCancel() bool {
	t.cancel.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyLocked()
	return t.state.Phase.Active()
}

// Cancelled reports whether cancellation was requested for the current run.
func (t *Tracker) Cancelled() bool {
	return t.cancel.Load()
}

// AddResult appends a merged result to the run's feed.
func (t *Tracker) AddResult(r listing.VerifiedResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, r)
}

// Results returns a copy of the results merged so far.
func (t *Tracker) Results() []listing.VerifiedResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]listing.VerifiedResult, len(t.results))
	copy(out, t.results)
	return out
}

// Reset returns the tracker to idle, dropping results.
func (t *Tracker) Reset() {
	t.cancel.Store(false)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{Phase: PhaseIdle, Status: "idle", Version: t.state.Version}
	t.results = nil
	t.notifyLocked()
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
	t.notifyLocked()
}

func (t *Tracker) notifyLocked() {
	t.state.Version++
	close(t.changed)
	t.changed = make(chan struct{})
}
