package commands

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/imagebuilder/internal/config"
	"git.home.luguber.info/inful/imagebuilder/internal/daemon"
	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
	"git.home.luguber.info/inful/imagebuilder/internal/pipeline"
	"git.home.luguber.info/inful/imagebuilder/internal/retry"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	RunFlags    `embed:""`
	Schedule    string        `help:"Cron expression (five fields) for scheduled runs." env:"IMAGEBUILDER_SCHEDULE"`
	Every       time.Duration `help:"Run at this fixed interval (e.g. 30m)."`
	Watch       bool          `help:"Run after originals or inventory files change."`
	Debounce    time.Duration `help:"Quiet period after the last change before a watch run." default:"2s"`
	MetricsAddr string        `name:"metrics-addr" help:"Serve /metrics and /healthz on this address." env:"IMAGEBUILDER_METRICS_ADDR"`
	NoInitial   bool          `name:"no-initial-run" help:"Do not build at startup."`

	LockRetries    int           `name:"lock-retries" help:"Retries when another process holds the output lock." default:"3"`
	LockRetryDelay time.Duration `name:"lock-retry-delay" help:"First delay between lock retries; doubles up to a minute." default:"5s"`
}

func (d *DaemonCmd) Run(g *Global, _ *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cfg := d.ToConfig()
	return RunDaemon(ctx, g, cfg, d.options(cfg))
}

func (d *DaemonCmd) options(cfg config.Config) daemon.Options {
	opts := daemon.Options{
		Schedule:    d.Schedule,
		Interval:    d.Every,
		Debounce:    d.Debounce,
		MetricsAddr: d.MetricsAddr,
		RunOnStart:  !d.NoInitial,
		LockRetry:   retry.NewPolicy(retry.BackoffExponential, d.LockRetryDelay, time.Minute, d.LockRetries),
	}
	if d.Watch {
		opts.Watch = WatchTargets(&cfg)
	}
	return opts
}

// WatchTargets lists what watch mode observes: the originals directory and the
// inventory files. The marker file is never a target, so runs do not trigger
// themselves.
func WatchTargets(cfg *config.Config) []daemon.WatchTarget {
	targets := []daemon.WatchTarget{{Dir: cfg.OriginalsPath()}}
	byDir := map[string][]string{}
	var order []string
	for _, p := range cfg.InventoryPaths() {
		dir := filepath.Dir(p)
		if _, ok := byDir[dir]; !ok {
			order = append(order, dir)
		}
		byDir[dir] = append(byDir[dir], filepath.Base(p))
	}
	for _, dir := range order {
		targets = append(targets, daemon.WatchTarget{Dir: dir, Names: byDir[dir]})
	}
	return targets
}

// RunDaemon serves until ctx ends.
func RunDaemon(ctx context.Context, g *Global, cfg config.Config, opts daemon.Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := opts.LockRetry.Validate(); err != nil {
		return iberrors.InvalidParameter("lock-retries", err.Error())
	}
	reg := prom.NewRegistry()
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	runner := pipeline.NewRunner(cfg,
		pipeline.WithLogger(g.Logger),
		pipeline.WithRecorder(metrics.NewPrometheusRecorder(reg)),
	)

	var builder daemon.Builder = runner
	if cfg.MetricsTextfile != "" {
		builder = textfileBuilder{Runner: runner, reg: reg, path: cfg.Path(cfg.MetricsTextfile), g: g}
	}

	g.Logger.Info("Starting daemon mode", logfields.Schedule(opts.Schedule), logfields.Path(cfg.OutputPath()))
	return daemon.New(builder, opts, reg, g.Logger).Run(ctx)
}

// textfileBuilder refreshes the metrics textfile after every run.
type textfileBuilder struct {
	*pipeline.Runner
	reg  *prom.Registry
	path string
	g    *Global
}

func (t textfileBuilder) Run(ctx context.Context) (*pipeline.Report, error) {
	rep, err := t.Runner.Run(ctx)
	if werr := metrics.WriteTextfile(t.reg, t.path); werr != nil {
		t.g.Logger.Warn("Failed to write metrics textfile", logfields.Path(t.path), logfields.Error(werr))
	}
	return rep, err
}
