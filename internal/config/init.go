package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
)

// example is the file written by Init. Keys mirror the build flags.
type example struct {
	OriginalsDir      string   `yaml:"originals-dir"`
	OutDir            string   `yaml:"out-dir"`
	Data              []string `yaml:"data"`
	Marker            string   `yaml:"marker"`
	Text              string   `yaml:"text"`
	Angle             float64  `yaml:"angle"`
	Opacity           float64  `yaml:"opacity"`
	Margin            float64  `yaml:"margin"`
	StrokeFrac        float64  `yaml:"stroke-frac"`
	WatermarkPrefixes []string `yaml:"watermark-prefixes"`
	WebPQuality       int      `yaml:"webp-quality"`
	WebPMethod        int      `yaml:"webp-method"`
	JPEGQuality       int      `yaml:"jpeg-quality"`
	MaxEdge           int      `yaml:"max-edge"`
	ThumbEdge         int      `yaml:"thumb-edge"`
	Clean             bool     `yaml:"clean"`
}

// Init writes an example configuration holding the defaults to path.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return iberrors.New(iberrors.CategoryConfig, iberrors.SeverityFatal, "configuration file already exists (use --force to overwrite)").
				WithContext("path", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return iberrors.ConfigInvalid(path, err)
		}
	}

	d := Default()
	out, err := yaml.Marshal(example{
		OriginalsDir:      d.OriginalsDir,
		OutDir:            d.OutputDir,
		Data:              d.Inventories,
		Marker:            d.MarkerPath,
		Text:              d.Watermark.Text,
		Angle:             d.Watermark.Angle,
		Opacity:           d.Watermark.Opacity,
		Margin:            d.Watermark.Margin,
		StrokeFrac:        d.Watermark.StrokeFrac,
		WatermarkPrefixes: d.Watermark.Prefixes,
		WebPQuality:       d.Output.WebPQuality,
		WebPMethod:        d.Output.WebPMethod,
		JPEGQuality:       d.Output.JPEGQuality,
		MaxEdge:           d.Output.MaxEdge,
		ThumbEdge:         d.Output.ThumbEdge,
		Clean:             true,
	})
	if err != nil {
		return fmt.Errorf("marshal example config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return iberrors.WorkspaceError("create config directory", err)
		}
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return iberrors.WriteFailed(path, err)
	}
	return nil
}
