package pipeline

import (
	"time"

	"git.home.luguber.info/inful/imagebuilder/internal/derivative"
	"git.home.luguber.info/inful/imagebuilder/internal/inventory"
	"git.home.luguber.info/inful/imagebuilder/internal/resolve"
)

// State is the lifecycle position of one entry.
type State string

const (
	StatePending   State = "pending"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
	StateMissing   State = "missing"
	StateSkipped   State = "skipped"
	StateBuilt     State = "built"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateMissing, StateSkipped, StateBuilt, StateFailed:
		return true
	default:
		return false
	}
}

// Skip notes attached to Skipped results.
const (
	NoteUpToDate        = "up to date"
	NoteOutsidePrefix   = "outside publication root"
	NoteMissingOriginal = "original missing, keeping published derivatives"
)

// Task is a resolved entry waiting for a worker.
type Task struct {
	Entry      inventory.Entry
	Resolution resolve.Resolution
	Outputs    derivative.Set
	Mark       bool
}

// Result is the terminal report of one entry.
type Result struct {
	CatalogPath string
	State       State
	Source      string
	Strategy    resolve.Strategy
	// Outputs are the derivatives this entry owns on disk after the run. They join
	// the expected set.
	Outputs []string
	Written []string
	Marked  bool
	Note    string
	Err     error
	// Duration covers resolve and build.
	Duration time.Duration
}
