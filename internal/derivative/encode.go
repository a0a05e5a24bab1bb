package derivative

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"

	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
)

// EncodeOptions control the output encoders.
type EncodeOptions struct {
	JPEGQuality int
	WebPQuality int
	// WebPMethod trades speed for size, 0 fastest to 6 smallest.
	WebPMethod int
}

// Encode writes img in the format implied by the destination extension ext.
func Encode(w io.Writer, img image.Image, ext string, opts EncodeOptions) error {
	switch imageformat.FormatOf(ext) {
	case imageformat.FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(opts.JPEGQuality))
	case imageformat.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case imageformat.FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)
	case imageformat.FormatWebP:
		wo, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(opts.WebPQuality))
		if err != nil {
			return fmt.Errorf("webp options: %w", err)
		}
		wo.Method = opts.WebPMethod
		return webp.Encode(w, img, wo)
	default:
		return fmt.Errorf("no encoder for %q outputs", ext)
	}
}
