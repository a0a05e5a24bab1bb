// Package imageformat holds the fixed extension tables shared by source resolution,
// derivative planning and orphan cleanup.
package imageformat

import (
	"path/filepath"
	"slices"
	"strings"
)

// Format identifies an encoder/decoder family.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatTIFF    Format = "tiff"
	FormatHEIF    Format = "heif"
)

// SecondaryExt is the extension of the lossy sibling written next to JPEG/PNG outputs.
const SecondaryExt = ".webp"

// searchOrder is the order in which originals are looked up when the catalog extension
// does not match. It is not alphabetical; jpg wins over jpeg, png over heic, and so on.
var searchOrder = []string{".jpg", ".jpeg", ".png", ".heic", ".heif", ".tif", ".tiff", ".webp", ".gif"}

// cleanupExts are the only extensions the orphan reaper may delete.
var cleanupExts = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

var formats = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".webp": FormatWebP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".heic": FormatHEIF,
	".heif": FormatHEIF,
}

// SearchOrder returns a copy of the fixed source extension order.
func SearchOrder() []string { return slices.Clone(searchOrder) }

// CleanupExts returns a copy of the extensions eligible for orphan removal.
func CleanupExts() []string { return slices.Clone(cleanupExts) }

// Known reports whether ext (any case, with leading dot) is a recognized source extension.
func Known(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// FormatOf returns the format family for ext.
func FormatOf(ext string) Format {
	return formats[strings.ToLower(ext)]
}

// FormatOfPath returns the format family for the extension of p.
func FormatOfPath(p string) Format {
	return FormatOf(filepath.Ext(p))
}

// OutputExt maps a source extension to the published extension: TIFF becomes PNG,
// HEIC/HEIF become JPEG, everything else keeps its extension verbatim.
func OutputExt(srcExt string) string {
	switch FormatOf(srcExt) {
	case FormatTIFF:
		return ".png"
	case FormatHEIF:
		return ".jpg"
	default:
		return srcExt
	}
}

// HasSecondary reports whether an output with ext gets a lossy sibling.
func HasSecondary(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Removable reports whether the reaper may delete a file with path p.
func Removable(p string) bool {
	return slices.Contains(cleanupExts, strings.ToLower(filepath.Ext(p)))
}

// Stem returns the basename of p without its extension.
func Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
