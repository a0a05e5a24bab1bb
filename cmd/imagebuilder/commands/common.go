package commands

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/imagebuilder/internal/config"
)

// DefaultConfigFile is read when present and no --config is given.
const DefaultConfigFile = "imagebuilder.yaml"

// Global carries state shared by subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config    kong.ConfigFlag  `short:"c" help:"Configuration file (YAML or TOML; keys are flag names)."`
	Verbose   bool             `short:"v" help:"Enable verbose logging (same as --log-level=debug)."`
	LogLevel  string           `name:"log-level" help:"Log level: debug, info, warn or error." env:"IMAGEBUILDER_LOG_LEVEL" default:"info"`
	LogFormat string           `name:"log-format" help:"Log format: text or json." enum:"text,json" default:"text"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit."`

	Build  BuildCmd  `cmd:"" help:"Build derivatives for every catalog entry."`
	Check  CheckCmd  `cmd:"" help:"Report catalog entries whose original is missing or ambiguous."`
	Daemon DaemonCmd `cmd:"" help:"Rebuild on a schedule and whenever originals or inventories change."`
	Init   InitCmd   `cmd:"" help:"Write an example configuration file."`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	level := config.NormalizeLogLevel(c.LogLevel)
	if c.Verbose {
		level = config.LogLevelDebug
	}
	g.Logger = config.NewLogger(os.Stderr, level, config.NormalizeLogFormat(c.LogFormat))
	slog.SetDefault(g.Logger)
	return nil
}

// Vars are the interpolation variables behind flag defaults.
func Vars() kong.Vars {
	d := config.Default()
	return kong.Vars{
		"default_config":     DefaultConfigFile,
		"default_root":       d.Root,
		"default_originals":  d.OriginalsDir,
		"default_out":        d.OutputDir,
		"default_thumb_dir":  d.ThumbDir,
		"default_data":       strings.Join(d.Inventories, ","),
		"default_marker":     d.MarkerPath,
		"default_prefix":     d.PublicationPrefix,
		"default_text":       d.Watermark.Text,
		"default_angle":      formatFloat(d.Watermark.Angle),
		"default_opacity":    formatFloat(d.Watermark.Opacity),
		"default_margin":     formatFloat(d.Watermark.Margin),
		"default_stroke":     formatFloat(d.Watermark.StrokeFrac),
		"default_prefixes":   strings.Join(d.Watermark.Prefixes, ","),
		"default_webp_q":     strconv.Itoa(d.Output.WebPQuality),
		"default_webp_m":     strconv.Itoa(d.Output.WebPMethod),
		"default_jpeg_q":     strconv.Itoa(d.Output.JPEGQuality),
		"default_max_edge":   strconv.Itoa(d.Output.MaxEdge),
		"default_thumb_edge": strconv.Itoa(d.Output.ThumbEdge),
	}
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// RunFlags are the build parameters shared by build and daemon.
type RunFlags struct {
	Root              string   `help:"Project root; relative paths resolve against it." env:"IMAGEBUILDER_ROOT" default:"${default_root}"`
	OriginalsDir      string   `name:"originals-dir" help:"Directory holding the originals." default:"${default_originals}"`
	OutDir            string   `name:"out-dir" help:"Directory receiving derivatives." default:"${default_out}"`
	ThumbDir          string   `name:"thumb-dir" help:"Thumbnail directory name inside the output directory." default:"${default_thumb_dir}"`
	Data              []string `help:"Inventory files, in order (repeatable)." default:"${default_data}"`
	Marker            string   `help:"Build marker written after every run." default:"${default_marker}"`
	PublicationPrefix string   `name:"publication-prefix" help:"Catalog prefix of published images." default:"${default_prefix}"`

	Text              string  `help:"Watermark text." env:"IMAGEBUILDER_TEXT" default:"${default_text}"`
	Angle             float64 `help:"Watermark rotation in degrees." default:"${default_angle}"`
	Opacity           float64 `help:"Watermark opacity in [0,1]." default:"${default_opacity}"`
	Margin            float64 `help:"Margin fraction kept clear on every side." default:"${default_margin}"`
	StrokeFrac        float64 `name:"stroke-frac" help:"Outline width as a fraction of the font size." default:"${default_stroke}"`
	Font              string  `help:"TrueType/OpenType font for the watermark; system fonts are searched when empty." env:"IMAGEBUILDER_FONT"`
	WatermarkPrefixes string  `name:"watermark-prefixes" help:"Comma separated name prefixes that get the watermark." default:"${default_prefixes}"`

	Force       bool `help:"Rebuild every derivative."`
	Clean       bool `help:"Delete derivatives no catalog entry produces."`
	DryRunClean bool `name:"dry-run-clean" help:"With --clean, list orphans without deleting them."`

	NoWebP      bool `name:"no-webp" help:"Skip WebP siblings."`
	WebPQuality int  `name:"webp-quality" help:"WebP quality." default:"${default_webp_q}"`
	WebPMethod  int  `name:"webp-method" help:"WebP effort (0-6)." default:"${default_webp_m}"`
	JPEGQuality int  `name:"jpeg-quality" help:"JPEG quality." default:"${default_jpeg_q}"`
	MaxEdge     int  `name:"max-edge" help:"Long edge cap of primary outputs; 0 disables resizing." default:"${default_max_edge}"`
	ThumbEdge   int  `name:"thumb-edge" help:"Long edge cap of thumbnails." default:"${default_thumb_edge}"`
	NoThumbs    bool `name:"no-thumbs" help:"Skip thumbnails."`

	Workers         int    `help:"Worker pool size; 0 uses every CPU." env:"IMAGEBUILDER_WORKERS" default:"0"`
	MetricsTextfile string `name:"metrics-textfile" help:"Write Prometheus metrics in textfile format after each run."`
}

// ToConfig converts the flags into a run configuration. Validation happens when
// the run starts.
func (f *RunFlags) ToConfig() config.Config {
	cfg := config.Default()
	cfg.Root = f.Root
	cfg.OriginalsDir = f.OriginalsDir
	cfg.OutputDir = f.OutDir
	cfg.ThumbDir = f.ThumbDir
	cfg.Inventories = f.Data
	cfg.MarkerPath = f.Marker
	cfg.PublicationPrefix = f.PublicationPrefix

	cfg.Watermark = config.WatermarkConfig{
		Text:       f.Text,
		Angle:      f.Angle,
		Opacity:    f.Opacity,
		Margin:     f.Margin,
		StrokeFrac: f.StrokeFrac,
		Prefixes:   config.SplitPrefixes(f.WatermarkPrefixes),
		FontPath:   f.Font,
	}
	cfg.Output = config.OutputConfig{
		MaxEdge:     f.MaxEdge,
		ThumbEdge:   f.ThumbEdge,
		Thumbnails:  !f.NoThumbs,
		WebP:        !f.NoWebP,
		WebPQuality: f.WebPQuality,
		WebPMethod:  f.WebPMethod,
		JPEGQuality: f.JPEGQuality,
	}

	cfg.Force = f.Force
	cfg.Clean = f.Clean
	cfg.DryRunClean = f.DryRunClean
	cfg.Workers = f.Workers
	cfg.MetricsTextfile = f.MetricsTextfile
	return cfg
}
