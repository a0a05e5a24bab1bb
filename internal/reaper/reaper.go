// Package reaper removes derivatives that the current run no longer expects.
package reaper

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/util/sets"
)

// Options control a reap.
type Options struct {
	// DryRun lists orphans without deleting them.
	DryRun bool
	Logger *slog.Logger
}

// Report lists what a reap found.
type Report struct {
	// Removed holds deleted files, or the files that would be deleted in a dry run.
	Removed []string
	// Errors holds per-file failures; they never stop the walk.
	Errors []error
	DryRun bool
}

// Reap walks root and deletes every regular file with a recognized image extension
// that is not in expected. Paths in expected are compared after filepath.Abs and
// filepath.Clean. Files with other extensions are never touched.
func Reap(root string, expected sets.Set[string], opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keep, err := absSet(expected)
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}

	rep := &Report{DryRun: opts.DryRun}
	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return err
			}
			rep.Errors = append(rep.Errors, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !imageformat.Removable(p) || keep.Has(p) {
			return nil
		}
		if opts.DryRun {
			rep.Removed = append(rep.Removed, p)
			logger.Info("Would remove orphan", logfields.Path(p))
			return nil
		}
		if err := os.Remove(p); err != nil {
			rep.Errors = append(rep.Errors, err)
			logger.Warn("Failed to remove orphan", logfields.Path(p), logfields.Error(err))
			return nil
		}
		rep.Removed = append(rep.Removed, p)
		logger.Debug("Removed orphan", logfields.Path(p))
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, fs.ErrNotExist) {
			return rep, nil
		}
		return rep, fmt.Errorf("walk %s: %w", root, walkErr)
	}
	sort.Strings(rep.Removed)
	return rep, nil
}

func absSet(in sets.Set[string]) (sets.Set[string], error) {
	out := make(sets.Set[string], len(in))
	for p := range in {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve expected path %s: %w", p, err)
		}
		out.Add(filepath.Clean(a))
	}
	return out, nil
}
