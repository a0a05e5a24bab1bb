// Package watermark draws a centered, rotated, semi-transparent text overlay sized to
// the largest font that keeps the rotated text inside the canvas margins. Canvases too
// small for the smallest size get that box resampled down instead.
package watermark

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/cases"
)

const (
	// minFontSize is the smallest scalable size laid out; below it the rendered box is shrunk.
	minFontSize = 10
	// fallbackLineHeight is the pixel height of the bitmap face at scale 1.
	fallbackLineHeight = 13
	// strokeShade scales the fill alpha for the dark outline.
	strokeShade = 0.55
	// rotationSlack covers the pixel rounding of the rotated overlay image.
	rotationSlack = 2
)

// Options are the overlay parameters.
type Options struct {
	Text string
	// Angle is the counter-clockwise rotation in degrees.
	Angle      float64
	Opacity    float64
	Margin     float64
	StrokeFrac float64
}

// Layout describes how text is placed on a canvas of a given size.
type Layout struct {
	// Size is the font size in points, or the integer upscale of the fallback face.
	Size     int
	Stroke   int
	Fallback bool
	// Box is the unrotated text box, stroke included, as drawn.
	Box image.Point
	// Scale is 1 unless even the smallest size was too large; the text box is then
	// rendered at that size and shrunk by Scale.
	Scale float64
	// RotatedW and RotatedH are the axis-aligned extent of Box after rotation.
	RotatedW float64
	RotatedH float64
	// MaxW and MaxH are the canvas dimensions minus both margins.
	MaxW int
	MaxH int
	// Fits is false only for empty text or a canvas too small for a one pixel box;
	// nothing is drawn then.
	Fits bool
	// Overlay is the size of the rotated layer actually drawn; zero when not drawn.
	Overlay image.Point

	ink    image.Rectangle
	native image.Point
}

// Renderer applies one watermark configuration. It is safe for concurrent use.
type Renderer struct {
	opts Options
	font *Font
}

// New returns a Renderer. A nil font selects the fallback face.
func New(opts Options, f *Font) *Renderer {
	if f == nil {
		f = Fallback()
	}
	return &Renderer{opts: opts, font: f}
}

// Options returns the renderer's parameters.
func (r *Renderer) Options() Options { return r.opts }

// Font returns the font in use.
func (r *Renderer) Font() *Font { return r.font }

// Fit searches the largest size whose rotated text box fits a w×h canvas.
func (r *Renderer) Fit(w, h int) Layout {
	base := Layout{
		Fallback: !r.font.Scalable(),
		MaxW:     int(float64(w) * (1 - 2*r.opts.Margin)),
		MaxH:     int(float64(h) * (1 - 2*r.opts.Margin)),
	}
	if strings.TrimSpace(r.opts.Text) == "" || base.MaxW <= 0 || base.MaxH <= 0 {
		return base
	}

	lo, hi := minFontSize, max(w, h)
	if base.Fallback {
		lo, hi = 1, max(w, h)/fallbackLineHeight+1
	}
	smallest := lo
	best := Layout{}
	for lo <= hi {
		mid := (lo + hi) / 2
		cand, err := r.measure(mid, base)
		if err == nil && cand.Fits {
			best = cand
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if !best.Fits {
		return r.shrink(smallest, base)
	}
	return best
}

// shrink lays out the text at size and scales the box down until its rotation fits.
func (r *Renderer) shrink(size int, base Layout) Layout {
	l, err := r.measure(size, base)
	if err != nil || l.ink.Empty() {
		return base
	}
	scale := math.Min((float64(l.MaxW)-rotationSlack)/l.RotatedW, (float64(l.MaxH)-rotationSlack)/l.RotatedH)
	w, h := int(float64(l.Box.X)*scale), int(float64(l.Box.Y)*scale)
	if scale <= 0 || w < 1 || h < 1 {
		return base
	}
	l.Scale = scale
	l.Box = image.Pt(w, h)
	l.RotatedW, l.RotatedH = RotatedBox(float64(w), float64(h), r.opts.Angle)
	l.Fits = l.RotatedW+rotationSlack <= float64(l.MaxW) && l.RotatedH+rotationSlack <= float64(l.MaxH)
	return l
}

// measure computes the layout at size without drawing.
func (r *Renderer) measure(size int, base Layout) (Layout, error) {
	l := base
	l.Size = size
	l.Scale = 1

	var ink image.Rectangle
	if l.Fallback {
		b, _ := font.BoundString(fallbackFace(), r.opts.Text)
		ink = rectOf(b)
		ink = image.Rect(ink.Min.X*size, ink.Min.Y*size, ink.Max.X*size, ink.Max.Y*size)
		l.Stroke = max(1, int(float64(fallbackLineHeight*size)*r.opts.StrokeFrac))
	} else {
		face, err := r.font.face(size)
		if err != nil {
			return l, err
		}
		b, _ := font.BoundString(face, r.opts.Text)
		_ = face.Close()
		ink = rectOf(b)
		l.Stroke = max(1, int(float64(size)*r.opts.StrokeFrac))
	}
	if ink.Empty() {
		return l, nil
	}

	l.ink = ink
	l.Box = image.Pt(ink.Dx()+2*l.Stroke, ink.Dy()+2*l.Stroke)
	l.native = l.Box
	l.RotatedW, l.RotatedH = RotatedBox(float64(l.Box.X), float64(l.Box.Y), r.opts.Angle)
	l.Fits = l.RotatedW+rotationSlack <= float64(l.MaxW) && l.RotatedH+rotationSlack <= float64(l.MaxH)
	return l, nil
}

// RotatedBox is the axis-aligned bounding box of a w×h rectangle rotated by angle degrees.
func RotatedBox(w, h, angle float64) (float64, float64) {
	sin, cos := math.Sincos(angle * math.Pi / 180)
	sin, cos = math.Abs(sin), math.Abs(cos)
	return w*cos + h*sin, w*sin + h*cos
}

// Apply returns a copy of img with the overlay drawn, plus the layout used. Only
// empty text or a degenerate canvas leave the copy unmarked with Layout.Fits false.
func (r *Renderer) Apply(img image.Image) (*image.NRGBA, Layout) {
	b := img.Bounds()
	l := r.Fit(b.Dx(), b.Dy())
	canvas := imaging.Clone(img)
	if !l.Fits {
		return canvas, l
	}

	box, err := r.render(l)
	if err != nil {
		l.Fits = false
		return canvas, l
	}
	if box.Bounds().Size() != l.Box {
		box = imaging.Resize(box, l.Box.X, l.Box.Y, imaging.Lanczos)
	}
	layer := imaging.Rotate(box, r.opts.Angle, color.Transparent)
	l.Overlay = layer.Bounds().Size()
	at := image.Pt((canvas.Bounds().Dx()-l.Overlay.X)/2, (canvas.Bounds().Dy()-l.Overlay.Y)/2)
	return imaging.Overlay(canvas, layer, at, 1), l
}

// render draws the unrotated text box: white fill over a dark outline.
func (r *Renderer) render(l Layout) (*image.NRGBA, error) {
	glyphs, err := r.glyphMask(l)
	if err != nil {
		return nil, err
	}
	outline := dilate(glyphs, l.Stroke)

	fillA := float64(clampByte(255*r.opts.Opacity)) / 255
	strokeA := math.Trunc(fillA*255*strokeShade) / 255

	box := image.NewNRGBA(glyphs.Rect)
	for i := range glyphs.Pix {
		f := float64(glyphs.Pix[i]) / 255 * fillA
		s := float64(outline.Pix[i]) / 255 * strokeA
		a := f + s*(1-f)
		if a <= 0 {
			continue
		}
		v := uint8(math.Round(255 * f / a))
		j := i * 4
		box.Pix[j], box.Pix[j+1], box.Pix[j+2] = v, v, v
		box.Pix[j+3] = uint8(math.Round(255 * a))
	}
	return box, nil
}

// glyphMask renders the text coverage into a Box sized mask with Stroke padding.
func (r *Renderer) glyphMask(l Layout) (*image.Alpha, error) {
	mask := image.NewAlpha(image.Rect(0, 0, l.native.X, l.native.Y))
	if !l.Fallback {
		face, err := r.font.face(l.Size)
		if err != nil {
			return nil, err
		}
		defer face.Close()
		d := font.Drawer{
			Dst:  mask,
			Src:  image.Opaque,
			Face: face,
			Dot:  fixed.P(l.Stroke-l.ink.Min.X, l.Stroke-l.ink.Min.Y),
		}
		d.DrawString(r.opts.Text)
		return mask, nil
	}

	// The bitmap face only exists at one size; draw it once and replicate pixels.
	k := l.Size
	unit := image.Rect(l.ink.Min.X/k, l.ink.Min.Y/k, l.ink.Max.X/k, l.ink.Max.Y/k)
	small := image.NewAlpha(image.Rect(0, 0, unit.Dx(), unit.Dy()))
	d := font.Drawer{
		Dst:  small,
		Src:  image.Opaque,
		Face: fallbackFace(),
		Dot:  fixed.P(-unit.Min.X, -unit.Min.Y),
	}
	d.DrawString(r.opts.Text)
	for y := 0; y < unit.Dy()*k; y++ {
		row := (y+l.Stroke)*mask.Stride + l.Stroke
		src := (y / k) * small.Stride
		for x := 0; x < unit.Dx()*k; x++ {
			mask.Pix[row+x] = small.Pix[src+x/k]
		}
	}
	return mask, nil
}

// dilate spreads coverage by a disc of radius r, producing the outline mask.
func dilate(m *image.Alpha, r int) *image.Alpha {
	out := image.NewAlpha(m.Rect)
	var offsets []image.Point
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				offsets = append(offsets, image.Pt(dx, dy))
			}
		}
	}
	w, h := m.Rect.Dx(), m.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := m.Pix[y*m.Stride+x]
			if a == 0 {
				continue
			}
			for _, o := range offsets {
				px, py := x+o.X, y+o.Y
				if px < 0 || py < 0 || px >= w || py >= h {
					continue
				}
				if i := py*out.Stride + px; out.Pix[i] < a {
					out.Pix[i] = a
				}
			}
		}
	}
	return out
}

// Eligible reports whether name starts with any prefix, compared case-insensitively.
func Eligible(name string, prefixes []string) bool {
	fold := cases.Fold()
	n := fold.String(name)
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p != "" && strings.HasPrefix(n, fold.String(p)) {
			return true
		}
	}
	return false
}

func fallbackFace() font.Face { return basicfont.Face7x13 }

func rectOf(b fixed.Rectangle26_6) image.Rectangle {
	return image.Rect(b.Min.X.Floor(), b.Min.Y.Floor(), b.Max.X.Ceil(), b.Max.Y.Ceil())
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
