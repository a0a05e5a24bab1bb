package config

import (
	"fmt"
	"path/filepath"
	"strings"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
)

// Default values for a run. They mirror the gallery layout of the site this tool serves.
const (
	DefaultRoot              = "."
	DefaultOriginalsDir      = "images/originals"
	DefaultOutputDir         = "images/wm"
	DefaultThumbDir          = "thumb"
	DefaultMarkerPath        = "_data/watermark_build.yaml"
	DefaultPublicationPrefix = "images/"
	DefaultText              = "© 2025 Michael A. David • michaeladavid.com"
	DefaultAngle             = -22.0
	DefaultOpacity           = 0.20
	DefaultMargin            = 0.06
	DefaultStrokeFrac        = 0.03
	DefaultPrefixes          = "nature,science,music,sports"
	DefaultWebPQuality       = 82
	DefaultWebPMethod        = 4
	DefaultJPEGQuality       = 92
	DefaultMaxEdge           = 2400
	DefaultThumbEdge         = 640
)

// DefaultInventories are the gallery data files read when none are given.
var DefaultInventories = []string{"_data/pictures.yaml", "_data/art.yaml"}

// Config is the validated view of one run's parameters.
type Config struct {
	// Root is the project root; relative paths below resolve against it.
	Root              string
	OriginalsDir      string
	OutputDir         string
	ThumbDir          string
	Inventories       []string
	MarkerPath        string
	PublicationPrefix string

	Watermark WatermarkConfig
	Output    OutputConfig

	Force       bool
	Clean       bool
	DryRunClean bool
	// Workers bounds the pool; 0 selects runtime.NumCPU().
	Workers         int
	MetricsTextfile string
}

// WatermarkConfig holds overlay parameters.
type WatermarkConfig struct {
	Text       string
	Angle      float64
	Opacity    float64
	Margin     float64
	StrokeFrac float64
	Prefixes   []string
	FontPath   string
}

// OutputConfig holds sizing and encoding parameters.
type OutputConfig struct {
	MaxEdge     int
	ThumbEdge   int
	Thumbnails  bool
	WebP        bool
	WebPQuality int
	WebPMethod  int
	JPEGQuality int
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Root:              DefaultRoot,
		OriginalsDir:      DefaultOriginalsDir,
		OutputDir:         DefaultOutputDir,
		ThumbDir:          DefaultThumbDir,
		Inventories:       append([]string(nil), DefaultInventories...),
		MarkerPath:        DefaultMarkerPath,
		PublicationPrefix: DefaultPublicationPrefix,
		Watermark: WatermarkConfig{
			Text:       DefaultText,
			Angle:      DefaultAngle,
			Opacity:    DefaultOpacity,
			Margin:     DefaultMargin,
			StrokeFrac: DefaultStrokeFrac,
			Prefixes:   SplitPrefixes(DefaultPrefixes),
		},
		Output: OutputConfig{
			MaxEdge:     DefaultMaxEdge,
			ThumbEdge:   DefaultThumbEdge,
			Thumbnails:  true,
			WebP:        true,
			WebPQuality: DefaultWebPQuality,
			WebPMethod:  DefaultWebPMethod,
			JPEGQuality: DefaultJPEGQuality,
		},
	}
}

// SplitPrefixes parses a comma separated prefix list, dropping blanks.
func SplitPrefixes(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Path resolves p against Root unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// OriginalsPath returns the originals directory on disk.
func (c *Config) OriginalsPath() string { return c.Path(c.OriginalsDir) }

// OutputPath returns the output directory on disk.
func (c *Config) OutputPath() string { return c.Path(c.OutputDir) }

// ThumbPath returns the nested thumbnail directory on disk.
func (c *Config) ThumbPath() string { return filepath.Join(c.OutputPath(), c.ThumbDir) }

// MarkerFile returns the build marker location on disk.
func (c *Config) MarkerFile() string { return c.Path(c.MarkerPath) }

// InventoryPaths returns the inventory files on disk, in configured order.
func (c *Config) InventoryPaths() []string {
	out := make([]string, 0, len(c.Inventories))
	for _, p := range c.Inventories {
		out = append(out, c.Path(p))
	}
	return out
}

// Validate checks every parameter and returns the first violation as a fatal
// validation error. No entry is processed when this fails.
func (c *Config) Validate() error {
	w, o := c.Watermark, c.Output
	switch {
	case c.Root == "":
		return iberrors.InvalidParameter("root", "must not be empty")
	case c.OriginalsDir == "":
		return iberrors.InvalidParameter("originals-dir", "must not be empty")
	case c.OutputDir == "":
		return iberrors.InvalidParameter("out-dir", "must not be empty")
	case c.ThumbDir == "" || strings.ContainsAny(c.ThumbDir, `/\`) || c.ThumbDir == "." || c.ThumbDir == "..":
		return iberrors.InvalidParameter("thumb-dir", "must be a single directory name")
	case len(c.Inventories) == 0:
		return iberrors.InvalidParameter("data", "at least one inventory file is required")
	case w.Opacity < 0 || w.Opacity > 1:
		return iberrors.InvalidParameter("opacity", fmt.Sprintf("%g is outside [0, 1]", w.Opacity))
	case w.Margin < 0 || w.Margin >= 0.5:
		return iberrors.InvalidParameter("margin", fmt.Sprintf("%g is outside [0, 0.5)", w.Margin))
	case w.StrokeFrac < 0 || w.StrokeFrac >= 0.5:
		return iberrors.InvalidParameter("stroke-frac", fmt.Sprintf("%g is outside [0, 0.5)", w.StrokeFrac))
	case o.MaxEdge < 0:
		return iberrors.InvalidParameter("max-edge", "must not be negative")
	case o.Thumbnails && o.ThumbEdge <= 0:
		return iberrors.InvalidParameter("thumb-edge", "must be positive when thumbnails are enabled")
	case o.WebPQuality < 0 || o.WebPQuality > 100:
		return iberrors.InvalidParameter("webp-quality", fmt.Sprintf("%d is outside [0, 100]", o.WebPQuality))
	case o.WebPMethod < 0 || o.WebPMethod > 6:
		return iberrors.InvalidParameter("webp-method", fmt.Sprintf("%d is outside [0, 6]", o.WebPMethod))
	case o.JPEGQuality < 1 || o.JPEGQuality > 100:
		return iberrors.InvalidParameter("jpeg-quality", fmt.Sprintf("%d is outside [1, 100]", o.JPEGQuality))
	case c.Workers < 0:
		return iberrors.InvalidParameter("workers", "must not be negative")
	}
	return c.validatePaths()
}

// validatePaths rejects layouts where cleaning the output tree could reach originals.
func (c *Config) validatePaths() error {
	originals, err := filepath.Abs(c.OriginalsPath())
	if err != nil {
		return iberrors.InvalidParameter("originals-dir", err.Error())
	}
	output, err := filepath.Abs(c.OutputPath())
	if err != nil {
		return iberrors.InvalidParameter("out-dir", err.Error())
	}
	if within(originals, output) || within(output, originals) {
		return iberrors.InvalidParameter("out-dir", "output and originals directories must not contain each other")
	}
	return nil
}

// within reports whether child equals parent or lies below it.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
