// Package daemon keeps the derivative tree current: builds run on a cron schedule,
// after debounced changes to originals or inventory files, or both. Runs never
// overlap; triggers that arrive during a run collapse into one follow-up run.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/pipeline"
	"git.home.luguber.info/inful/imagebuilder/internal/retry"
)

// Builder runs one build. *pipeline.Runner implements it.
type Builder interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// Options configure a Daemon.
type Options struct {
	// Schedule is a five-field cron expression; empty disables scheduled runs.
	Schedule string
	// Interval runs a build at a fixed period; zero disables it.
	Interval time.Duration
	// Watch lists directories whose changes trigger a run; empty disables watching.
	Watch    []WatchTarget
	Debounce time.Duration
	// MetricsAddr is the listen address of the HTTP endpoint; empty disables it.
	MetricsAddr string
	// RunOnStart triggers a run as soon as the daemon starts.
	RunOnStart bool
	// ShutdownTimeout bounds HTTP server and scheduler shutdown.
	ShutdownTimeout time.Duration
	// LockRetry governs retries of runs that found the output lock held by another
	// process. The zero value does not retry.
	LockRetry retry.Policy
}

// Daemon serializes build runs requested by its triggers.
type Daemon struct {
	builder  Builder
	opts     Options
	registry *prom.Registry
	logger   *slog.Logger

	triggers chan string
	// served is closed once the HTTP server goroutine returns.
	served chan struct{}

	runs      atomic.Int64
	running   atomic.Bool
	last      atomic.Pointer[runStatus]
	startedAt time.Time
}

type runStatus struct {
	Report   *pipeline.Report
	Err      error
	Reason   string
	Finished time.Time
}

// New returns a Daemon. registry may be nil when no metrics endpoint is served.
func New(builder Builder, opts Options, registry *prom.Registry, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if registry == nil {
		registry = prom.NewRegistry()
	}
	return &Daemon{
		builder:  builder,
		opts:     opts,
		registry: registry,
		logger:   logger,
		triggers: make(chan string, 1),
	}
}

// Trigger requests a run. It never blocks; it returns false when a run is already
// pending, in which case the request is folded into it.
func (d *Daemon) Trigger(reason string) bool {
	select {
	case d.triggers <- reason:
		d.logger.Debug("Run requested", logfields.Trigger(reason))
		return true
	default:
		return false
	}
}

// Runs returns the number of completed runs.
func (d *Daemon) Runs() int64 { return d.runs.Load() }

// Run starts every configured trigger and executes runs until ctx ends. The run
// in flight when ctx ends is allowed to finish.
func (d *Daemon) Run(ctx context.Context) error {
	if d.opts.Schedule == "" && d.opts.Interval <= 0 && len(d.opts.Watch) == 0 && !d.opts.RunOnStart {
		return iberrors.InvalidParameter("schedule", "daemon needs a schedule, watch mode or both")
	}
	d.startedAt = time.Now()

	if d.opts.Schedule != "" || d.opts.Interval > 0 {
		sched, err := NewScheduler()
		if err != nil {
			return iberrors.InternalError("create scheduler", err)
		}
		if d.opts.Schedule != "" {
			if _, err := sched.ScheduleCron("imagebuilder-cron", d.opts.Schedule, func() { d.Trigger("schedule") }); err != nil {
				return iberrors.InvalidParameter("schedule", err.Error())
			}
		}
		if d.opts.Interval > 0 {
			if _, err := sched.ScheduleEvery("imagebuilder-interval", d.opts.Interval, func() { d.Trigger("interval") }); err != nil {
				return iberrors.InvalidParameter("every", err.Error())
			}
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				d.logger.Warn("Scheduler shutdown failed", logfields.Error(err))
			}
		}()
	}

	if len(d.opts.Watch) > 0 {
		w, err := NewWatcher(d.opts.Watch, d.opts.Debounce, func(reason string) { d.Trigger(reason) })
		if err != nil {
			return iberrors.InternalError("create watcher", err)
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Stop()
			return iberrors.WorkspaceError("watch source tree", err)
		}
		defer func() { _ = w.Stop() }()
	}

	if d.opts.MetricsAddr != "" {
		srv, err := d.serve()
		if err != nil {
			return err
		}
		defer d.shutdown(srv)
	}

	if d.opts.RunOnStart {
		d.Trigger("startup")
	}

	d.logger.Info("Daemon started", logfields.Schedule(d.opts.Schedule),
		slog.Bool("watch", len(d.opts.Watch) > 0), slog.String("metrics_addr", d.opts.MetricsAddr))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Daemon stopping", slog.Int64("runs", d.Runs()))
			return nil
		case reason := <-d.triggers:
			d.runOnce(ctx, reason)
		}
	}
}

// runOnce executes one build and records its status. Errors are logged; the daemon
// keeps serving. The build itself ignores cancellation of ctx; only waits between
// lock retries are cut short.
func (d *Daemon) runOnce(ctx context.Context, reason string) {
	d.running.Store(true)
	defer d.running.Store(false)

	start := time.Now()
	d.logger.Info("Run started", logfields.Trigger(reason))
	rep, err := d.builder.Run(context.WithoutCancel(ctx))
	for attempt := 1; rep == nil && errors.Is(err, iberrors.ErrLockHeld) && attempt <= d.opts.LockRetry.MaxRetries; attempt++ {
		delay := d.opts.LockRetry.Delay(attempt)
		d.logger.Info("Output lock held; retrying", logfields.Trigger(reason),
			slog.Int("attempt", attempt), slog.Duration("delay", delay))
		if d.opts.LockRetry.Wait(ctx, attempt) != nil {
			break
		}
		rep, err = d.builder.Run(context.WithoutCancel(ctx))
	}
	d.runs.Add(1)
	d.last.Store(&runStatus{Report: rep, Err: err, Reason: reason, Finished: time.Now()})

	attrs := []any{logfields.Trigger(reason), logfields.Elapsed(time.Since(start))}
	switch {
	case rep == nil:
		d.logger.Error("Run aborted before processing", append(attrs, logfields.Error(err))...)
	case err != nil:
		d.logger.Warn(rep.Summary(), append(attrs, logfields.RunID(rep.RunID), logfields.Error(err))...)
	default:
		d.logger.Info(rep.Summary(), append(attrs, logfields.RunID(rep.RunID))...)
	}
}

// serve starts the HTTP endpoint on its own goroutine.
func (d *Daemon) serve() (*http.Server, error) {
	ln, err := net.Listen("tcp", d.opts.MetricsAddr)
	if err != nil {
		return nil, iberrors.InvalidParameter("metrics-addr", err.Error())
	}
	srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
	d.served = make(chan struct{})
	go func() {
		defer close(d.served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server failed", logfields.Error(err))
		}
	}()
	d.logger.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
	return srv, nil
}

func (d *Daemon) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		d.logger.Warn("HTTP server shutdown failed", logfields.Error(err))
	}
	select {
	case <-d.served:
	case <-ctx.Done():
		d.logger.Warn("Timed out waiting for HTTP server", logfields.Error(ctx.Err()))
	}
}
