package pipeline

import (
	"fmt"
	"sort"
	"time"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
)

// Report captures the outcome of one run.
type Report struct {
	RunID string
	Start time.Time
	End   time.Time
	// Files and Entries describe the inventory that was read.
	Files   int
	Entries int
	Workers int
	// Issues are inventory problems; they never fail a run.
	Issues []error
	// Results holds one terminal result per processed entry, sorted by catalog path.
	Results []Result

	Built   int
	Skipped int
	Missing int
	Failed  int

	CleanDir    string
	Cleaned     []string
	CleanErrors []error
	DryRunClean bool

	MarkerPath string
	MarkerErr  error

	Canceled bool
	Outcome  metrics.RunOutcome
}

func newReport(runID string, start time.Time) *Report {
	return &Report{RunID: runID, Start: start}
}

// record folds res into the counters. Only the consumer goroutine calls it.
func (r *Report) record(res Result) {
	r.Results = append(r.Results, res)
	switch res.State {
	case StateBuilt:
		r.Built++
	case StateSkipped:
		r.Skipped++
	case StateMissing:
		r.Missing++
	case StateFailed:
		r.Failed++
	}
}

func (r *Report) finish(end time.Time) {
	r.End = end
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].CatalogPath < r.Results[j].CatalogPath })
	switch {
	case r.Canceled:
		r.Outcome = metrics.OutcomeCanceled
	case r.Failed > 0:
		r.Outcome = metrics.OutcomeFailed
	default:
		r.Outcome = metrics.OutcomeSuccess
	}
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.End.Sub(r.Start) }

// Summary returns the single summary line.
func (r *Report) Summary() string {
	return fmt.Sprintf("Watermark generation complete: wrote=%d skipped=%d missing=%d failed=%d",
		r.Built, r.Skipped, r.Missing, r.Failed)
}

// CleanLine describes the reap, or returns "" when nothing was (or would be) removed.
func (r *Report) CleanLine() string {
	if len(r.Cleaned) == 0 {
		return ""
	}
	if r.DryRunClean {
		return fmt.Sprintf("Would clean %d orphan files from %s", len(r.Cleaned), r.CleanDir)
	}
	return fmt.Sprintf("Cleaned %d orphan files from %s", len(r.Cleaned), r.CleanDir)
}

// Diagnostics returns one line per missing or failed entry, in catalog order.
func (r *Report) Diagnostics() []string {
	var lines []string
	for _, res := range r.Results {
		switch res.State {
		case StateMissing:
			lines = append(lines, "Missing: "+res.CatalogPath)
		case StateFailed:
			lines = append(lines, fmt.Sprintf("Failed: %s (%s)", res.CatalogPath, iberrors.Reason(res.Err)))
		}
	}
	return lines
}

// Lines returns everything a one-shot build prints: diagnostics, orphans, summary.
func (r *Report) Lines() []string {
	lines := r.Diagnostics()
	if l := r.CleanLine(); l != "" {
		lines = append(lines, l)
	}
	return append(lines, r.Summary())
}

// Err is nil unless an entry failed.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return iberrors.EntriesFailed(r.Failed)
}
