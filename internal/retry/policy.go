// Package retry holds the backoff policy the daemon applies when a run cannot
// start because another process holds the output lock.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff selects how delays grow between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Policy encapsulates retry/backoff settings. The zero value never retries.
type Policy struct {
	Mode       Backoff
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	MaxRetries int           // attempts after the first failure
}

// DefaultPolicy returns exponential backoff from 5s, capped at 1m, three retries.
func DefaultPolicy() Policy {
	return Policy{Mode: BackoffExponential, Initial: 5 * time.Second, Max: time.Minute, MaxRetries: 3}
}

// NewPolicy builds a policy from raw flag values; zero or invalid values fall back to defaults.
func NewPolicy(mode Backoff, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait before the given retry (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case BackoffFixed:
		return p.Initial
	case BackoffExponential:
		d = p.Initial
		for i := 1; i < retryCount && d < p.Max; i++ {
			d *= 2
		}
	default:
		d = time.Duration(retryCount) * p.Initial
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if p.MaxRetries == 0 {
		return nil
	}
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	return nil
}

// Wait sleeps for the delay of retryCount. It returns ctx.Err() when ctx ends first.
func (p Policy) Wait(ctx context.Context, retryCount int) error {
	t := time.NewTimer(p.Delay(retryCount))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
