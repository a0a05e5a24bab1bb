package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID       = "run_id"
	KeyEntry       = "entry"
	KeySource      = "source"
	KeyDestination = "destination"
	KeyStrategy    = "strategy"
	KeyState       = "state"
	KeyStage       = "stage"
	KeyDurationMS  = "duration_ms"
	KeyWorkers     = "workers"
	KeyPath        = "path"
	KeyTrigger     = "trigger"
	KeySchedule    = "schedule"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr         { return slog.String(KeyRunID, id) }
func Entry(p string) slog.Attr          { return slog.String(KeyEntry, p) }
func Source(p string) slog.Attr         { return slog.String(KeySource, p) }
func Destination(p string) slog.Attr    { return slog.String(KeyDestination, p) }
func Strategy(s string) slog.Attr       { return slog.String(KeyStrategy, s) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func Stage(name string) slog.Attr       { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Workers(n int) slog.Attr           { return slog.Int(KeyWorkers, n) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Trigger(t string) slog.Attr        { return slog.String(KeyTrigger, t) }
func Schedule(expr string) slog.Attr    { return slog.String(KeySchedule, expr) }
func Elapsed(d time.Duration) slog.Attr { return DurationMS(float64(d.Microseconds()) / 1000) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
