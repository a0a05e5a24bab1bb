package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/imagebuilder/internal/config"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
	"git.home.luguber.info/inful/imagebuilder/internal/pipeline"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	RunFlags `embed:""`
}

func (b *BuildCmd) Run(g *Global, _ *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunBuild(ctx, g, b.ToConfig())
}

// RunBuild performs one build and prints its report to stdout.
func RunBuild(ctx context.Context, g *Global, cfg config.Config) error {
	reg := prom.NewRegistry()
	runner := pipeline.NewRunner(cfg,
		pipeline.WithLogger(g.Logger),
		pipeline.WithRecorder(metrics.NewPrometheusRecorder(reg)),
	)

	rep, err := runner.Run(ctx)
	if rep != nil {
		printReport(os.Stdout, rep)
	}
	if cfg.MetricsTextfile != "" {
		path := cfg.Path(cfg.MetricsTextfile)
		if werr := metrics.WriteTextfile(reg, path); werr != nil {
			g.Logger.Warn("Failed to write metrics textfile", logfields.Path(path), logfields.Error(werr))
		}
	}
	return err
}
