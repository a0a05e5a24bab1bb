// Package marker writes the build marker the site generator watches to notice that
// derivatives changed.
package marker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/imagebuilder/internal/workspace"
)

// Marker is the key/value document. Field order is the document order.
type Marker struct {
	Nonce    int64    `yaml:"nonce"`
	RunID    string   `yaml:"run_id"`
	OutDir   string   `yaml:"out_dir"`
	Text     string   `yaml:"text"`
	Angle    float64  `yaml:"angle"`
	Opacity  float64  `yaml:"opacity"`
	Prefixes []string `yaml:"prefixes"`
}

// New returns a Marker stamped with now. outDir is stored relative to root when it
// lies below it.
func New(now time.Time, runID, root, outDir string) Marker {
	return Marker{Nonce: now.Unix(), RunID: runID, OutDir: RelativeTo(root, outDir)}
}

// RelativeTo returns p relative to root using forward slashes, or p unchanged when
// it is not below root.
func RelativeTo(root, p string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return p
	}
	absP, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(absRoot, absP)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}

// Write stores m at path atomically.
func Write(path string, m Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal build marker: %w", err)
	}
	return workspace.WriteAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Read loads a marker written by Write.
func Read(path string) (Marker, error) {
	var m Marker
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse build marker %s: %w", path, err)
	}
	return m, nil
}
