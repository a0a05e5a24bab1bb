package watermark

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

// systemFonts are tried in order when no font path is configured.
var systemFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/Library/Fonts/Arial Bold.ttf",
	"/Library/Fonts/Arial.ttf",
	"/System/Library/Fonts/Supplemental/Arial Bold.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"/System/Library/Fonts/Supplemental/Helvetica.ttc",
}

// Font is a parsed scalable font shared read-only by every render, or the fixed-size
// fallback face when none is available.
type Font struct {
	path string
	sfnt *opentype.Font
}

// Fallback returns a Font that renders with the built-in bitmap face.
func Fallback() *Font { return &Font{} }

// LoadFont parses the font at path. An empty path searches the usual system locations
// and falls back to the bitmap face when none exists. An explicit path that cannot be
// parsed is an error.
func LoadFont(path string) (*Font, error) {
	if path != "" {
		return parseFont(path)
	}
	for _, candidate := range systemFonts {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if f, err := parseFont(candidate); err == nil {
			return f, nil
		}
	}
	return Fallback(), nil
}

func parseFont(path string) (*Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("font %s not found", path)
		}
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}

	collection := false
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttc", ".otc":
		collection = true
	}
	f, err := ParseFont(data, collection)
	if err != nil {
		return nil, fmt.Errorf("font %s: %w", path, err)
	}
	f.path = path
	return f, nil
}

// ParseFont parses TrueType or OpenType data. Collections yield their first face.
func ParseFont(data []byte, collection bool) (*Font, error) {
	if !collection {
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, err
		}
		return &Font{sfnt: f}, nil
	}
	coll, err := opentype.ParseCollection(data)
	if err != nil {
		return nil, err
	}
	f, err := coll.Font(0)
	if err != nil {
		return nil, err
	}
	return &Font{sfnt: f}, nil
}

// Scalable reports whether a vector font was loaded.
func (f *Font) Scalable() bool { return f != nil && f.sfnt != nil }

// Path is the file the font was read from, empty for the fallback face.
func (f *Font) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// face returns a face at size points. Faces are not safe for concurrent use, so each
// render creates its own. The fallback face ignores size.
func (f *Font) face(size int) (font.Face, error) {
	if !f.Scalable() {
		return fallbackFace(), nil
	}
	return opentype.NewFace(f.sfnt, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingNone,
	})
}
