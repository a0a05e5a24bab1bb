package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/imagebuilder/internal/buildcache"
	"git.home.luguber.info/inful/imagebuilder/internal/config"
	"git.home.luguber.info/inful/imagebuilder/internal/derivative"
	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
	"git.home.luguber.info/inful/imagebuilder/internal/inventory"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/marker"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
	"git.home.luguber.info/inful/imagebuilder/internal/reaper"
	"git.home.luguber.info/inful/imagebuilder/internal/resolve"
	"git.home.luguber.info/inful/imagebuilder/internal/util/sets"
	"git.home.luguber.info/inful/imagebuilder/internal/watermark"
	"git.home.luguber.info/inful/imagebuilder/internal/workspace"
)

// Runner executes builds for one configuration. A Runner may be reused; runs on the
// same output tree are serialized by the workspace lock.
type Runner struct {
	cfg      config.Config
	logger   *slog.Logger
	recorder metrics.Recorder
	cache    buildcache.Cache
	now      func() time.Time
	newID    func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithCache replaces the modification time cache.
func WithCache(c buildcache.Cache) Option {
	return func(r *Runner) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithClock sets the time source used for the report and the marker nonce.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner returns a Runner for cfg. cfg is validated by Run, not here.
func NewRunner(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = buildcache.NewMTime(r.logger)
	}
	return r
}

// Config returns the configuration the runner was created with.
func (r *Runner) Config() config.Config { return r.cfg }

// run is the per-invocation state shared by producer and workers. Everything in it
// is read-only once Run starts scheduling.
type run struct {
	cfg      *config.Config
	logger   *slog.Logger
	resolver *resolve.Resolver
	builder  *derivative.Builder
	cache    buildcache.Cache
}

// Run performs one build. A non-nil error with a nil report means pre-flight failed
// and nothing was processed. Otherwise the report is complete and the error is
// EntriesFailed when an entry failed, or the context error when the run was
// interrupted.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	cfg := r.cfg
	if err := cfg.Validate(); err != nil {
		r.recorder.IncRunOutcome(metrics.OutcomeError)
		return nil, err
	}

	thumbName := ""
	if cfg.Output.Thumbnails {
		thumbName = cfg.ThumbDir
	}
	ws := workspace.NewManager(cfg.OutputPath(), thumbName)
	if err := ws.Create(); err != nil {
		r.recorder.IncRunOutcome(metrics.OutcomeError)
		return nil, err
	}
	if err := ws.Lock(); err != nil {
		r.recorder.IncRunOutcome(metrics.OutcomeError)
		return nil, err
	}
	defer ws.Unlock()

	font, err := watermark.LoadFont(cfg.Watermark.FontPath)
	if err != nil {
		r.recorder.IncRunOutcome(metrics.OutcomeError)
		return nil, iberrors.InvalidParameter("font", err.Error())
	}
	if !font.Scalable() {
		r.logger.Warn("No scalable font available; watermarks use the fixed-size fallback face")
	}

	start := r.now()
	rep := newReport(r.newID(), start)
	log := r.logger.With(logfields.RunID(rep.RunID))

	inv := inventory.Read(cfg.InventoryPaths()...)
	rep.Files, rep.Entries, rep.Issues = inv.Files, len(inv.Entries), inv.Issues
	for _, issue := range inv.Issues {
		log.Warn("Inventory file skipped", logfields.Error(issue))
	}
	r.recorder.SetInventorySize(len(inv.Entries))

	st := &run{
		cfg:      &cfg,
		logger:   log,
		resolver: resolve.New(cfg.Root, cfg.OriginalsPath(), cfg.PublicationPrefix),
		builder:  derivative.New(builderOptions(&cfg, ws), newRenderer(&cfg, font), log),
		cache:    r.cache,
	}

	rep.Workers = workerCount(cfg.Workers, len(inv.Entries))
	r.recorder.SetWorkers(rep.Workers)
	log.Info("Starting build", slog.Int("entries", len(inv.Entries)), slog.Int("files", inv.Files),
		logfields.Workers(rep.Workers), logfields.Path(ws.GetPath()))

	expected := sets.New[string]()
	for res := range st.schedule(ctx, inv.Entries, rep.Workers) {
		rep.record(res)
		expected.Add(res.Outputs...)
		r.recorder.IncEntryResult(string(res.State))
		r.recorder.ObserveEntryDuration(string(res.State), res.Duration)
		logResult(log, res)
	}
	rep.Canceled = ctx.Err() != nil && len(rep.Results) < rep.Entries

	switch {
	case !cfg.Clean:
	case rep.Canceled:
		log.Warn("Run interrupted; orphan cleanup skipped")
	default:
		r.reap(log, rep, ws.GetPath(), expected, cfg.DryRunClean)
	}

	rep.MarkerPath = cfg.MarkerFile()
	if err := marker.Write(rep.MarkerPath, r.marker(&cfg, rep)); err != nil {
		rep.MarkerErr = err
		log.Error("Failed to write build marker", logfields.Path(rep.MarkerPath), logfields.Error(err))
	}

	rep.finish(r.now())
	r.recorder.ObserveRunDuration(rep.Duration())
	r.recorder.IncRunOutcome(rep.Outcome)
	log.Info(rep.Summary(), slog.String("outcome", string(rep.Outcome)), logfields.Elapsed(rep.Duration()))

	if rep.Canceled {
		return rep, ctx.Err()
	}
	return rep, rep.Err()
}

// schedule resolves entries on the calling side of a bounded worker pool and
// returns the channel every terminal result arrives on. The channel closes once
// all scheduled work has finished. After ctx ends no new entry is started.
func (st *run) schedule(ctx context.Context, entries []inventory.Entry, workers int) <-chan Result {
	tasks := make(chan Task)
	results := make(chan Result, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for task := range tasks {
				if ctx.Err() != nil {
					continue
				}
				if res, ok := st.execute(ctx, task); ok {
					results <- res
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(tasks)
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			task, res, queued := st.resolve(e)
			if !queued {
				results <- res
				continue
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// resolve moves e from Resolving to Resolved (queued) or straight to a terminal result.
func (st *run) resolve(e inventory.Entry) (Task, Result, bool) {
	start := time.Now()
	res := Result{CatalogPath: e.CatalogPath, State: StateResolving}

	resolution, err := st.resolver.Resolve(e.CatalogPath)
	if err != nil {
		// Only published catalog paths keep their derivatives once the original is gone.
		var outputs []string
		if st.resolver.InPrefix(e.CatalogPath) {
			outputs = st.published(e.CatalogPath)
		}
		if len(outputs) > 0 {
			res.State, res.Note, res.Outputs = StateSkipped, NoteMissingOriginal, outputs
		} else {
			res.State, res.Err = StateMissing, err
		}
		res.Duration = time.Since(start)
		return Task{}, res, false
	}
	if !resolution.Published() {
		res.State, res.Note = StateSkipped, NoteOutsidePrefix
		res.Source, res.Strategy = resolution.Source, resolution.Strategy
		res.Duration = time.Since(start)
		return Task{}, res, false
	}

	return Task{
		Entry:      e,
		Resolution: resolution,
		Outputs:    st.builder.Plan(e.CatalogPath, resolution.Source),
		Mark:       st.builder.Eligible(e.LogicalName),
	}, Result{}, true
}

// published returns the derivatives already on disk for an entry whose original is
// gone. Forced runs never keep them.
func (st *run) published(catalogPath string) []string {
	if st.cfg.Force {
		return nil
	}
	set := st.builder.PlanExt(catalogPath, imageformat.OutputExt(path.Ext(catalogPath)))
	if !isRegular(set.Primary) {
		return nil
	}
	var out []string
	for _, p := range set.Paths() {
		if isRegular(p) {
			out = append(out, p)
		}
	}
	return out
}

// execute runs one task on a worker. It reports ok=false when the build was cut
// short by ctx, so interrupted entries are dropped rather than counted as failures.
func (st *run) execute(ctx context.Context, task Task) (Result, bool) {
	start := time.Now()
	src := task.Resolution.Source
	res := Result{
		CatalogPath: task.Entry.CatalogPath,
		State:       StateResolved,
		Source:      src,
		Strategy:    task.Resolution.Strategy,
		Outputs:     task.Outputs.Paths(),
	}

	stale := sets.New[string]()
	for _, dst := range res.Outputs {
		if st.cache.IsStale(src, dst, st.cfg.Force) {
			stale.Add(dst)
		}
	}
	if stale.Len() == 0 {
		res.State, res.Note = StateSkipped, NoteUpToDate
		res.Duration = time.Since(start)
		return res, true
	}

	out, err := st.builder.Build(ctx, derivative.Job{
		Source:  src,
		Outputs: task.Outputs,
		Mark:    task.Mark,
		Stale:   stale.Has,
	})
	res.Duration = time.Since(start)
	if out != nil {
		res.Written, res.Marked = out.Written, out.Marked
	}
	switch {
	case err == nil:
		res.State = StateBuilt
	case stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded):
		return res, false
	default:
		res.State, res.Err = StateFailed, err
	}
	return res, true
}

func (r *Runner) reap(log *slog.Logger, rep *Report, dir string, expected sets.Set[string], dryRun bool) {
	rep.CleanDir, rep.DryRunClean = dir, dryRun
	rr, err := reaper.Reap(dir, expected, reaper.Options{DryRun: dryRun, Logger: log})
	if err != nil {
		rep.CleanErrors = append(rep.CleanErrors, err)
		log.Error("Orphan cleanup failed", logfields.Path(dir), logfields.Error(err))
		return
	}
	rep.Cleaned, rep.CleanErrors = rr.Removed, rr.Errors
	for _, e := range rr.Errors {
		log.Warn("Could not remove orphan", logfields.Error(e))
	}
	if !dryRun {
		r.recorder.AddOrphansRemoved(len(rr.Removed))
	}
}

func (r *Runner) marker(cfg *config.Config, rep *Report) marker.Marker {
	m := marker.New(rep.Start, rep.RunID, cfg.Root, cfg.OutputPath())
	m.Text = cfg.Watermark.Text
	m.Angle = cfg.Watermark.Angle
	m.Opacity = cfg.Watermark.Opacity
	m.Prefixes = append([]string{}, cfg.Watermark.Prefixes...)
	return m
}

func builderOptions(cfg *config.Config, ws *workspace.Manager) derivative.Options {
	o := cfg.Output
	return derivative.Options{
		OutDir:    ws.GetPath(),
		ThumbDir:  ws.ThumbPath(),
		MaxEdge:   o.MaxEdge,
		ThumbEdge: o.ThumbEdge,
		WebP:      o.WebP,
		Prefixes:  cfg.Watermark.Prefixes,
		Encode: derivative.EncodeOptions{
			JPEGQuality: o.JPEGQuality,
			WebPQuality: o.WebPQuality,
			WebPMethod:  o.WebPMethod,
		},
	}
}

func newRenderer(cfg *config.Config, font *watermark.Font) *watermark.Renderer {
	w := cfg.Watermark
	return watermark.New(watermark.Options{
		Text:       w.Text,
		Angle:      w.Angle,
		Opacity:    w.Opacity,
		Margin:     w.Margin,
		StrokeFrac: w.StrokeFrac,
	}, font)
}

// workerCount applies the NumCPU default and never exceeds the entry count.
func workerCount(configured, entries int) int {
	n := configured
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > entries {
		n = entries
	}
	return max(n, 1)
}

func logResult(log *slog.Logger, res Result) {
	attrs := []any{logfields.Entry(res.CatalogPath), logfields.State(string(res.State)), logfields.Elapsed(res.Duration)}
	if res.Source != "" {
		attrs = append(attrs, logfields.Source(res.Source), logfields.Strategy(string(res.Strategy)))
	}
	switch res.State {
	case StateBuilt:
		log.Info("Built derivatives", append(attrs, slog.Int("written", len(res.Written)), slog.Bool("watermarked", res.Marked))...)
	case StateSkipped:
		log.Debug("Skipped entry", append(attrs, slog.String("note", res.Note))...)
	case StateMissing:
		log.Warn("No original found", attrs...)
	case StateFailed:
		log.Error("Entry failed", append(attrs, logfields.Error(res.Err))...)
	}
}

func isRegular(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
