// Package inventory reads the gallery data files into the set of catalog paths a run builds.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/util/sets"
)

// ImageField is the record key holding a catalog path.
const ImageField = "image"

// Entry is one catalogued image.
type Entry struct {
	// CatalogPath is the author-facing reference, e.g. "images/nature_5.jpg".
	CatalogPath string
	// LogicalName is the basename of CatalogPath.
	LogicalName string
}

// NewEntry normalizes a raw catalog reference. The second result is false when
// nothing usable remains.
func NewEntry(raw string) (Entry, bool) {
	p := strings.TrimLeft(strings.TrimSpace(norm.NFC.String(raw)), "/")
	if p == "" {
		return Entry{}, false
	}
	return Entry{CatalogPath: p, LogicalName: path.Base(p)}, true
}

// Result is the outcome of reading a set of inventory files.
type Result struct {
	Entries []Entry
	// Issues lists files that contributed nothing, one ConfigParse error each.
	Issues []error
	// Files counts inventory files that decoded as a list.
	Files int
}

// CatalogPaths returns the entries' catalog paths in order.
func (r *Result) CatalogPaths() []string {
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.CatalogPath)
	}
	return out
}

// Read parses every file in paths and returns the sorted, de-duplicated entries.
// Files that are absent or not lists are reported in Result.Issues and never fail
// the read.
func Read(paths ...string) *Result {
	seen := sets.New[string]()
	res := &Result{}
	for _, p := range paths {
		images, err := readFile(p)
		if err != nil {
			res.Issues = append(res.Issues, iberrors.ConfigParse(p, err))
			continue
		}
		res.Files++
		for _, raw := range images {
			if e, ok := NewEntry(raw); ok {
				seen.Add(e.CatalogPath)
			}
		}
	}
	for _, cp := range sets.Sorted(seen) {
		e, _ := NewEntry(cp)
		res.Entries = append(res.Entries, e)
	}
	return res
}

var errNotList = errors.New("document is not a list of records")

// readFile returns the non-empty image values in document order.
func readFile(p string) ([]string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errNotList
	}
	list := doc.Content[0]
	if list.Kind != yaml.SequenceNode {
		return nil, errNotList
	}

	var out []string
	for _, rec := range list.Content {
		if v, ok := imageValue(rec); ok {
			out = append(out, v)
		}
	}
	return slices.Clip(out), nil
}

// imageValue extracts a non-empty string image field from a mapping node.
func imageValue(rec *yaml.Node) (string, bool) {
	if rec.Kind != yaml.MappingNode {
		return "", false
	}
	for i := 0; i+1 < len(rec.Content); i += 2 {
		k, v := rec.Content[i], rec.Content[i+1]
		if k.Value != ImageField {
			continue
		}
		if v.Kind != yaml.ScalarNode || v.ShortTag() != "!!str" {
			return "", false
		}
		if s := strings.TrimSpace(v.Value); s != "" {
			return s, true
		}
		return "", false
	}
	return "", false
}
