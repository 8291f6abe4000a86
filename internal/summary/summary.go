// Package summary defines the structured run-summary record and per-file
// event stream the core hands to external collaborators (spec §6). Nothing
// under internal/ formats these into log lines or JSON — that is the CLI
// layer's concern (cmd/pacsync/output.go).
package summary

import (
	"sync"
	"time"

	"github.com/pacsync/pacsync/internal/planner"
)

// Status is the terminal state of one executed action.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusWarning   Status = "warning"
)

// Event is one per-file record in the event stream (spec §6): action kind,
// source/destination rel paths, status, elapsed time, and reason code.
type Event struct {
	Kind    planner.ActionKind
	Reason  planner.Reason
	SrcRel  string
	DstRel  string
	Status  Status
	Elapsed time.Duration
	Err     error
}

// Counts tallies actions by outcome (spec §6's run-summary counts).
type Counts struct {
	Converted int
	Skipped   int
	Renamed   int
	Retagged  int
	Pruned    int
	Failed    int
}

// Run accumulates the run-summary record as the executor completes actions.
// Counters are updated under a mutex so concurrent worker completions are
// correctly tallied (spec §5).
type Run struct {
	mu   sync.Mutex
	Counts
	Events   []Event
	Backend  string
	Started  time.Time
	Finished time.Time
}

// NewRun starts a run-summary record with the frozen backend identity (spec
// §4.1's "record its identity in every fingerprint" extends to the summary
// too, so callers can see which backend a run used).
func NewRun(backendID string) *Run {
	return &Run{Backend: backendID, Started: time.Now()}
}

// Record appends one completed action's event and updates the matching
// counter. Safe for concurrent use by multiple workers.
func (r *Run) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Events = append(r.Events, e)

	switch {
	case e.Status == StatusFailed:
		r.Failed++
	case e.Kind == planner.Convert:
		r.Converted++
	case e.Kind == planner.Rename:
		r.Renamed++
	case e.Kind == planner.Retag:
		r.Retagged++
	case e.Kind == planner.Skip:
		r.Skipped++
	case e.Kind == planner.Prune:
		r.Pruned++
	}
}

// Finish stamps the completion time. Call once after every worker has
// drained.
func (r *Run) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Finished = time.Now()
}

// ExitCode implements spec §6's exit-status contract: 0 when every action
// succeeded, 1 when any file action failed. Preflight failures (no backend
// selected) never reach this far — the caller exits with a distinct code
// (2) before a Run is even constructed.
func (r *Run) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Failed > 0 {
		return 1
	}

	return 0
}
