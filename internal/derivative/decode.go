package derivative

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	// Decoders beyond the ones imaging registers.
	_ "golang.org/x/image/webp"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
)

// Metadata is what the builder learns about an original besides its pixels.
type Metadata struct {
	Format imageformat.Format
	// Orientation is the EXIF orientation tag, 1 when absent.
	Orientation int
	// Profile is the embedded ICC profile description, empty when absent.
	Profile string
	// Gamut classifies Profile; GamutUnknown pixels are published unconverted.
	Gamut Gamut
}

// Decode reads an original. HEIC/HEIF originals fail with DecoderUnavailable.
func Decode(path string) (image.Image, Metadata, error) {
	md := Metadata{Format: imageformat.FormatOfPath(path), Orientation: 1, Gamut: GamutSRGB}
	if md.Format == imageformat.FormatHEIF {
		return nil, md, iberrors.DecoderUnavailable(path, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, md, iberrors.DecodeFailed(path, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, md, iberrors.DecodeFailed(path, err)
	}

	switch md.Format {
	case imageformat.FormatJPEG, imageformat.FormatTIFF:
		md.Orientation = readOrientation(data)
	}
	md.Profile = readProfile(data, md.Format)
	md.Gamut = GamutOf(md.Profile)
	return img, md, nil
}

// readOrientation returns the EXIF orientation or 1 when it cannot be read.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// Orient applies an EXIF orientation so the pixels are upright.
func Orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
