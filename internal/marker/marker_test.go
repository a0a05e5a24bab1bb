package marker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteKeepsKeyOrder(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "_data", "watermark_build.yaml")
	id := uuid.NewString()

	m := New(time.Unix(1735689600, 0), id, root, filepath.Join(root, "images", "wm"))
	m.Text = "© 2025 Michael A. David • michaeladavid.com"
	m.Angle = -22
	m.Opacity = 0.2
	m.Prefixes = []string{"nature", "science"}
	require.NoError(t, Write(path, m))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var keys []string
	for _, line := range strings.Split(string(raw), "\n") {
		if k, _, ok := strings.Cut(line, ":"); ok && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "-") {
			keys = append(keys, k)
		}
	}
	assert.Equal(t, []string{"nonce", "run_id", "out_dir", "text", "angle", "opacity", "prefixes"}, keys)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, "images/wm", got.OutDir)
	assert.Equal(t, int64(1735689600), got.Nonce)
}

func TestRelativeTo(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, "images/wm", RelativeTo(root, filepath.Join(root, "images", "wm")))
	outside := filepath.Join(filepath.Dir(root), "elsewhere")
	assert.Equal(t, outside, RelativeTo(root, outside))
	assert.Equal(t, ".", RelativeTo(root, root))
}
