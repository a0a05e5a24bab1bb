package imageformat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputExt_RemapTotality(t *testing.T) {
	for _, ext := range SearchOrder() {
		got := OutputExt(ext)
		switch FormatOf(ext) {
		case FormatTIFF:
			assert.Equal(t, ".png", got, ext)
		case FormatHEIF:
			assert.Equal(t, ".jpg", got, ext)
		default:
			assert.Equal(t, ext, got, ext)
		}
	}
	assert.Equal(t, ".png", OutputExt(".TIFF"))
	assert.Equal(t, ".jpg", OutputExt(".HEIC"))
	assert.Equal(t, ".JPG", OutputExt(".JPG"))
}

func TestSearchOrder_IsFixed(t *testing.T) {
	assert.Equal(t,
		[]string{".jpg", ".jpeg", ".png", ".heic", ".heif", ".tif", ".tiff", ".webp", ".gif"},
		SearchOrder())

	order := SearchOrder()
	order[0] = ".bmp"
	assert.Equal(t, ".jpg", SearchOrder()[0], "callers must not mutate the shared table")
}

func TestRemovable(t *testing.T) {
	tests := map[string]bool{
		"out/a.jpg":              true,
		"out/thumb/a.WEBP":       true,
		"out/a.gif":              true,
		"out/a.tif":              false,
		"out/.imagebuilder.lock": false,
		"out/notes.txt":          false,
		"out/.a.jpg.1234.tmp":    false,
	}
	for p, want := range tests {
		assert.Equal(t, want, Removable(p), p)
	}
}

func TestHasSecondary(t *testing.T) {
	assert.True(t, HasSecondary(".jpg"))
	assert.True(t, HasSecondary(".PNG"))
	assert.False(t, HasSecondary(".gif"))
	assert.False(t, HasSecondary(".webp"))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "nature_5", Stem("images/nature_5.jpg"))
	assert.Equal(t, "art.old", Stem("art.old.tif"))
	assert.Equal(t, "noext", Stem("images/noext"))
}
