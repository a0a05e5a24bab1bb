// Package buildcache decides whether a derivative must be regenerated.
package buildcache

import (
	"log/slog"
	"os"

	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
)

// Reason explains a staleness decision.
type Reason string

const (
	ReasonForced     Reason = "forced"
	ReasonMissing    Reason = "destination missing"
	ReasonOlder      Reason = "destination older than source"
	ReasonUnreadable Reason = "metadata unreadable"
	ReasonUpToDate   Reason = "up to date"
	ReasonNotRegular Reason = "destination is not a regular file"
)

// Cache compares a source with one destination.
type Cache interface {
	IsStale(src, dst string, force bool) bool
}

// Decider is a Cache that also reports why.
type Decider interface {
	Cache
	Decide(src, dst string, force bool) (bool, Reason)
}

// MTime judges staleness by modification time. The zero value is ready to use.
type MTime struct {
	logger *slog.Logger
}

// NewMTime returns an MTime cache that logs decisions at debug level.
func NewMTime(logger *slog.Logger) *MTime {
	return &MTime{logger: logger}
}

// IsStale reports whether dst must be regenerated from src.
func (c *MTime) IsStale(src, dst string, force bool) bool {
	stale, _ := c.Decide(src, dst, force)
	return stale
}

// Decide returns true unless dst exists and is at least as new as src. Unreadable
// metadata counts as stale.
func (c *MTime) Decide(src, dst string, force bool) (bool, Reason) {
	stale, reason := decide(src, dst, force)
	if c != nil && c.logger != nil {
		c.logger.Debug("Staleness decided", logfields.Source(src), logfields.Destination(dst),
			slog.Bool("stale", stale), slog.String("reason", string(reason)))
	}
	return stale, reason
}

func decide(src, dst string, force bool) (bool, Reason) {
	if force {
		return true, ReasonForced
	}
	di, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return true, ReasonMissing
	}
	if err != nil {
		return true, ReasonUnreadable
	}
	if !di.Mode().IsRegular() {
		return true, ReasonNotRegular
	}
	si, err := os.Stat(src)
	if err != nil {
		return true, ReasonUnreadable
	}
	if di.ModTime().Before(si.ModTime()) {
		return true, ReasonOlder
	}
	return false, ReasonUpToDate
}
