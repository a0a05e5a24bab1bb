package derivative

import (
	"bytes"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/mandykoh/prism/adobergb"
	"github.com/mandykoh/prism/ciexyz"
	"github.com/mandykoh/prism/displayp3"
	"github.com/mandykoh/prism/meta/autometa"
	"github.com/mandykoh/prism/meta/icc"
	"github.com/mandykoh/prism/srgb"
	"github.com/rwcarlsen/goexif/tiff"

	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
)

// Gamut is a colour space an original may be encoded in.
type Gamut string

const (
	GamutSRGB      Gamut = "srgb"
	GamutDisplayP3 Gamut = "display-p3"
	GamutAdobeRGB  Gamut = "adobe-rgb"
	// GamutUnknown is an embedded profile no conversion exists for; pixels pass through.
	GamutUnknown Gamut = "unknown"
)

// tagICCProfile is the TIFF tag holding an embedded ICC profile.
const tagICCProfile = 34675

// readProfile returns the description of an embedded ICC profile, or "".
func readProfile(data []byte, format imageformat.Format) string {
	var profile *icc.Profile
	if format == imageformat.FormatTIFF {
		raw := tiffProfile(data)
		if raw == nil {
			return ""
		}
		p, err := icc.NewProfileReader(bytes.NewReader(raw)).ReadProfile()
		if err != nil {
			return ""
		}
		profile = p
	} else {
		md, _, err := autometa.Load(bytes.NewReader(data))
		if err != nil || md == nil {
			return ""
		}
		p, err := md.ICCProfile()
		if err != nil || p == nil {
			return ""
		}
		profile = p
	}
	desc, err := profile.Description()
	if err != nil {
		return ""
	}
	return desc
}

// tiffProfile returns the raw ICC profile from the first IFD of a TIFF, or nil.
func tiffProfile(data []byte) []byte {
	t, err := tiff.Decode(bytes.NewReader(data))
	if err != nil || len(t.Dirs) == 0 {
		return nil
	}
	for _, tag := range t.Dirs[0].Tags {
		if tag.Id == tagICCProfile && len(tag.Val) > 0 {
			return tag.Val
		}
	}
	return nil
}

// GamutOf classifies an ICC profile description. No profile means sRGB.
func GamutOf(description string) Gamut {
	d := strings.ToLower(description)
	switch {
	case d == "":
		return GamutSRGB
	case strings.Contains(d, "p3"):
		return GamutDisplayP3
	case strings.Contains(d, "adobe rgb"), strings.Contains(d, "adobergb"):
		return GamutAdobeRGB
	case strings.Contains(d, "srgb"), strings.Contains(d, "iec61966"), strings.Contains(d, "iec 61966"):
		return GamutSRGB
	default:
		return GamutUnknown
	}
}

// ToSRGB converts pixels from g into sRGB. Alpha is carried over unchanged. sRGB and
// unknown input is returned as is.
func ToSRGB(img image.Image, g Gamut) image.Image {
	var decode func(color.NRGBA) (ciexyz.Color, float32)
	switch g {
	case GamutDisplayP3:
		decode = func(c color.NRGBA) (ciexyz.Color, float32) {
			col, a := displayp3.ColorFromNRGBA(c)
			return col.ToXYZ(), a
		}
	case GamutAdobeRGB:
		decode = func(c color.NRGBA) (ciexyz.Color, float32) {
			col, a := adobergb.ColorFromNRGBA(c)
			return col.ToXYZ(), a
		}
	default:
		return img
	}

	out := imaging.Clone(img)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		xyz, a := decode(color.NRGBA{R: out.Pix[i], G: out.Pix[i+1], B: out.Pix[i+2], A: out.Pix[i+3]})
		c := srgb.ColorFromXYZ(xyz).ToNRGBA(a)
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return out
}
