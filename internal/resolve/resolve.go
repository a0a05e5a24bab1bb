// Package resolve maps catalog paths to the original files they were published from.
//
// Resolution is lenient: when several originals share a stem the first one under the
// fixed extension order wins, and no ambiguity is reported. Check applies the stricter
// rule used when validating a catalog and is never consulted by builds.
package resolve

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
)

// Strategy names the step that located a source.
type Strategy string

const (
	StrategyExact        Strategy = "exact"
	StrategyExtension    Strategy = "extension"
	StrategyYearSuffix   Strategy = "year-suffix"
	StrategyYearStripped Strategy = "year-stripped"
	// StrategyDirect is used for catalog paths outside the publication prefix; the
	// path is taken relative to the project root as is.
	StrategyDirect Strategy = "direct"
)

// Resolution is the located original for one catalog path.
type Resolution struct {
	Source   string
	Strategy Strategy
}

// Published reports whether the entry lives under the publication prefix.
func (r Resolution) Published() bool { return r.Strategy != StrategyDirect }

var yearSuffix = regexp.MustCompile(`^(.+)-(19[0-9]{2}|20[0-9]{2})$`)

// Resolver looks up originals on disk. It holds no mutable state and is safe for
// concurrent use.
type Resolver struct {
	root      string
	originals string
	prefix    string
}

// New returns a Resolver. root is the project root, originalsDir the directory holding
// originals and prefix the publication prefix of catalog paths (e.g. "images/").
func New(root, originalsDir, prefix string) *Resolver {
	return &Resolver{root: root, originals: originalsDir, prefix: prefix}
}

// InPrefix reports whether catalogPath is under the publication prefix.
func (r *Resolver) InPrefix(catalogPath string) bool {
	return strings.HasPrefix(catalogPath, r.prefix)
}

// Resolve returns the source for catalogPath or a MissingSource error.
func (r *Resolver) Resolve(catalogPath string) (Resolution, error) {
	if !r.InPrefix(catalogPath) {
		p := filepath.Join(r.root, filepath.FromSlash(catalogPath))
		if isFile(p) {
			return Resolution{Source: p, Strategy: StrategyDirect}, nil
		}
		return Resolution{}, iberrors.MissingSource(catalogPath)
	}

	name := path.Base(catalogPath)
	if p := filepath.Join(r.originals, name); isFile(p) {
		return Resolution{Source: p, Strategy: StrategyExact}, nil
	}

	stem := imageformat.Stem(name)
	if p, ok := r.byExtension(stem); ok {
		return Resolution{Source: p, Strategy: StrategyExtension}, nil
	}
	if p, ok := r.byYearSuffix(stem); ok {
		return Resolution{Source: p, Strategy: StrategyYearSuffix}, nil
	}
	if m := yearSuffix.FindStringSubmatch(stem); m != nil {
		base := m[1]
		if p := filepath.Join(r.originals, base+path.Ext(name)); path.Ext(name) != "" && isFile(p) {
			return Resolution{Source: p, Strategy: StrategyYearStripped}, nil
		}
		if p, ok := r.byExtension(base); ok {
			return Resolution{Source: p, Strategy: StrategyYearStripped}, nil
		}
	}
	return Resolution{}, iberrors.MissingSource(catalogPath)
}

// byExtension tries stem with every known extension, lower case before upper case.
func (r *Resolver) byExtension(stem string) (string, bool) {
	for _, ext := range imageformat.SearchOrder() {
		for _, variant := range []string{ext, strings.ToUpper(ext)} {
			if p := filepath.Join(r.originals, stem+variant); isFile(p) {
				return p, true
			}
		}
	}
	return "", false
}

// byYearSuffix finds "<stem>-YYYY<ext>" originals. Extensions are tried in search
// order; several years under one extension resolve to the lexically first.
func (r *Resolver) byYearSuffix(stem string) (string, bool) {
	names, err := r.listOriginals()
	if err != nil {
		return "", false
	}
	for _, ext := range imageformat.SearchOrder() {
		for _, n := range names {
			if !strings.EqualFold(filepath.Ext(n), ext) {
				continue
			}
			s := imageformat.Stem(n)
			if !strings.HasPrefix(s, stem+"-") || !isYear4(s[len(stem)+1:]) {
				continue
			}
			if p := filepath.Join(r.originals, n); isFile(p) {
				return p, true
			}
		}
	}
	return "", false
}

// isYear4 narrows the glob-style "????" to digits.
func isYear4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// listOriginals returns the non-directory names under the originals directory, sorted.
func (r *Resolver) listOriginals() ([]string, error) {
	entries, err := os.ReadDir(r.originals)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
