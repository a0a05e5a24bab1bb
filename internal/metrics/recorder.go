package metrics

import "time"

// RunOutcome enumerates final run states for counters.
type RunOutcome string

const (
	OutcomeSuccess  RunOutcome = "success"
	OutcomeFailed   RunOutcome = "failed"   // one or more entries failed
	OutcomeError    RunOutcome = "error"    // the run could not start or finish
	OutcomeCanceled RunOutcome = "canceled" // the context ended before all entries ran
)

// Recorder defines observability hooks for runs and entries. Implementations may
// forward to Prometheus or anything else; NoopRecorder is the default.
type Recorder interface {
	IncEntryResult(state string)
	ObserveEntryDuration(state string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome RunOutcome)
	SetInventorySize(n int)
	SetWorkers(n int)
	AddOrphansRemoved(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncEntryResult(string)                      {}
func (NoopRecorder) ObserveEntryDuration(string, time.Duration) {}
func (NoopRecorder) ObserveRunDuration(time.Duration)           {}
func (NoopRecorder) IncRunOutcome(RunOutcome)                   {}
func (NoopRecorder) SetInventorySize(int)                       {}
func (NoopRecorder) SetWorkers(int)                             {}
func (NoopRecorder) AddOrphansRemoved(int)                      {}
