package workspace

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
)

// LockName is the lock file kept in the output directory while a run is active.
const LockName = ".imagebuilder.lock"

// Manager handles the output tree of one run.
type Manager struct {
	outDir   string
	thumbDir string
	lock     *flock.Flock
}

// NewManager returns a Manager for outDir with thumbnails under outDir/thumbName.
// An empty thumbName disables the thumbnail directory.
func NewManager(outDir, thumbName string) *Manager {
	m := &Manager{
		outDir: outDir,
		lock:   flock.New(filepath.Join(outDir, LockName)),
	}
	if thumbName != "" {
		m.thumbDir = filepath.Join(outDir, thumbName)
	}
	return m
}

// Create ensures the output directories exist.
func (m *Manager) Create() error {
	for _, dir := range []string{m.outDir, m.thumbDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return iberrors.WorkspaceError("create output directory", err).WithContext("path", dir)
		}
	}
	slog.Debug("Using output tree", logfields.Path(m.outDir))
	return nil
}

// Lock takes the run lock without blocking. A lock held by another process is a
// fatal LockHeld error.
func (m *Manager) Lock() error {
	ok, err := m.lock.TryLock()
	if err != nil {
		return iberrors.WorkspaceError("acquire run lock", err).WithContext("path", m.lock.Path())
	}
	if !ok {
		return iberrors.LockHeld(m.lock.Path())
	}
	return nil
}

// Unlock releases the run lock.
func (m *Manager) Unlock() {
	if err := m.lock.Unlock(); err != nil {
		slog.Warn("Failed to release run lock", logfields.Path(m.lock.Path()), logfields.Error(err))
	}
}

// GetPath returns the output directory.
func (m *Manager) GetPath() string { return m.outDir }

// ThumbPath returns the thumbnail directory, empty when thumbnails are disabled.
func (m *Manager) ThumbPath() string { return m.thumbDir }

// LockPath returns the lock file location.
func (m *Manager) LockPath() string { return m.lock.Path() }

// WriteAtomic streams write into a temporary file next to path and renames it into
// place. On any error the temporary file is removed and path is left untouched.
func WriteAtomic(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
