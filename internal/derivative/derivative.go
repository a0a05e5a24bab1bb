// Package derivative plans and produces the published files for one catalog entry:
// the primary image, its WebP sibling and the thumbnail pair.
package derivative

import (
	"context"
	"image"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/watermark"
	"git.home.luguber.info/inful/imagebuilder/internal/workspace"
)

// OutputPerm is the mode of published files.
const OutputPerm = 0o644

// Options configure planning and building.
type Options struct {
	OutDir string
	// ThumbDir is the thumbnail directory; empty disables thumbnails.
	ThumbDir string
	// MaxEdge and ThumbEdge cap the long edge; 0 leaves the size alone.
	MaxEdge   int
	ThumbEdge int
	WebP      bool
	// Prefixes select which logical names are watermarked.
	Prefixes []string
	Encode   EncodeOptions
}

// Set is the derivative set of one entry. Disabled outputs are empty.
type Set struct {
	Primary        string
	Secondary      string
	Thumb          string
	ThumbSecondary string
}

// Paths lists the planned outputs, primary first.
func (s Set) Paths() []string {
	var out []string
	for _, p := range []string{s.Primary, s.Secondary, s.Thumb, s.ThumbSecondary} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Builder produces derivatives. It is safe for concurrent use.
type Builder struct {
	opts     Options
	renderer *watermark.Renderer
	logger   *slog.Logger
}

// New returns a Builder. A nil renderer disables watermarking.
func New(opts Options, renderer *watermark.Renderer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{opts: opts, renderer: renderer, logger: logger}
}

// Plan returns the outputs for catalogPath built from source. The basename comes from
// the catalog name and the extension from the remapped source extension.
func (b *Builder) Plan(catalogPath, source string) Set {
	return b.PlanExt(catalogPath, imageformat.OutputExt(filepath.Ext(source)))
}

// PlanExt is Plan for a known primary extension.
func (b *Builder) PlanExt(catalogPath, ext string) Set {
	base := imageformat.Stem(path.Base(catalogPath)) + ext
	s := Set{Primary: filepath.Join(b.opts.OutDir, base)}
	if b.opts.WebP && imageformat.HasSecondary(ext) {
		s.Secondary = secondaryOf(s.Primary)
	}
	if b.opts.ThumbDir != "" {
		s.Thumb = filepath.Join(b.opts.ThumbDir, base)
		if s.Secondary != "" {
			s.ThumbSecondary = secondaryOf(s.Thumb)
		}
	}
	return s
}

func secondaryOf(p string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + imageformat.SecondaryExt
}

// Eligible reports whether the entry named logicalName gets the overlay.
func (b *Builder) Eligible(logicalName string) bool {
	return b.renderer != nil && watermark.Eligible(logicalName, b.opts.Prefixes)
}

// Job is one build request.
type Job struct {
	Source  string
	Outputs Set
	Mark    bool
	// Stale selects the outputs to write; nil writes all of them.
	Stale func(dst string) bool
}

// Outcome describes a finished build.
type Outcome struct {
	Written  []string
	Metadata Metadata
	Marked   bool
	Layout   watermark.Layout
}

// Build decodes the source once and writes every stale output of the job. The
// thumbnail is cut from the processed primary so it carries the same overlay.
func (b *Builder) Build(ctx context.Context, job Job) (*Outcome, error) {
	stale := job.Stale
	if stale == nil {
		stale = func(string) bool { return true }
	}
	log := b.logger.With(logfields.Source(job.Source))

	img, md, err := Decode(job.Source)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Metadata: md}
	log.Debug("Decoded original", logfields.Stage("decode"),
		slog.Int("orientation", md.Orientation), slog.String("profile", md.Profile))

	img = Orient(img, md.Orientation)
	if md.Gamut == GamutUnknown {
		log.Warn("Colour profile not converted; output treated as sRGB", logfields.Stage("colour"),
			slog.String("profile", md.Profile))
	}
	img = ToSRGB(img, md.Gamut)
	img = Fit(img, b.opts.MaxEdge)

	if job.Mark && b.renderer != nil {
		var marked *image.NRGBA
		marked, out.Layout = b.renderer.Apply(img)
		img = marked
		out.Marked = out.Layout.Fits
		if !out.Layout.Fits {
			log.Warn("Watermark does not fit; output left unmarked", logfields.Stage("watermark"),
				slog.Int("width", img.Bounds().Dx()), slog.Int("height", img.Bounds().Dy()))
		}
	}

	write := func(dst string, im image.Image) error {
		if dst == "" || !stale(dst) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.write(dst, im); err != nil {
			return err
		}
		out.Written = append(out.Written, dst)
		log.Debug("Wrote derivative", logfields.Destination(dst))
		return nil
	}

	if err := write(job.Outputs.Primary, img); err != nil {
		return out, err
	}
	if err := write(job.Outputs.Secondary, img); err != nil {
		return out, err
	}
	if job.Outputs.Thumb != "" && (stale(job.Outputs.Thumb) || (job.Outputs.ThumbSecondary != "" && stale(job.Outputs.ThumbSecondary))) {
		thumb := Fit(img, b.opts.ThumbEdge)
		if err := write(job.Outputs.Thumb, thumb); err != nil {
			return out, err
		}
		if err := write(job.Outputs.ThumbSecondary, thumb); err != nil {
			return out, err
		}
	}
	return out, nil
}

// write encodes im into dst atomically, separating encoder from filesystem failures.
func (b *Builder) write(dst string, im image.Image) error {
	var encErr error
	err := workspace.WriteAtomic(dst, OutputPerm, func(w io.Writer) error {
		encErr = Encode(w, im, filepath.Ext(dst), b.opts.Encode)
		return encErr
	})
	switch {
	case encErr != nil:
		return iberrors.EncodeFailed(dst, encErr)
	case err != nil:
		return iberrors.WriteFailed(dst, err)
	}
	return nil
}

// Fit caps the long edge at limit preserving aspect ratio. Images already within the
// limit, or a limit of 0, leave img untouched; nothing is ever upscaled.
func Fit(img image.Image, limit int) image.Image {
	if limit <= 0 {
		return img
	}
	bounds := img.Bounds()
	if max(bounds.Dx(), bounds.Dy()) <= limit {
		return img
	}
	return imaging.Fit(img, limit, limit, imaging.Lanczos)
}
