package workspace

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
)

func TestManager_Create(t *testing.T) {
	base := t.TempDir()
	mgr := NewManager(filepath.Join(base, "images", "wm"), "thumb")
	require.NoError(t, mgr.Create())

	for _, dir := range []string{mgr.GetPath(), mgr.ThumbPath()} {
		fi, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
	assert.Equal(t, filepath.Join(base, "images", "wm", "thumb"), mgr.ThumbPath())
}

func TestManager_NoThumbDir(t *testing.T) {
	mgr := NewManager(t.TempDir(), "")
	require.NoError(t, mgr.Create())
	assert.Empty(t, mgr.ThumbPath())
}

func TestManager_Lock(t *testing.T) {
	out := t.TempDir()
	first := NewManager(out, "thumb")
	require.NoError(t, first.Create())
	require.NoError(t, first.Lock())

	second := NewManager(out, "thumb")
	err := second.Lock()
	require.Error(t, err)
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryRuntime))

	first.Unlock()
	require.NoError(t, second.Lock())
	second.Unlock()
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "a.jpg")

	require.NoError(t, WriteAtomic(dst, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	}))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	boom := errors.New("encoder exploded")
	err = WriteAtomic(dst, 0o644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got), "failed write must leave the previous file")

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}
