package resolve

import (
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
	"git.home.luguber.info/inful/imagebuilder/internal/util/sets"
)

// CheckResult is the strict validation outcome for one catalog path.
type CheckResult struct {
	CatalogPath string
	// Resolution is what a build would use; zero when Err is set.
	Resolution Resolution
	Err        error
	// Candidates lists every original sharing the catalog stem, in name order.
	Candidates []string
	// Ambiguous is set when the candidates carry more than one extension.
	Ambiguous bool
}

// Missing reports whether a build would find no original.
func (c CheckResult) Missing() bool { return c.Err != nil }

// Check resolves catalogPath leniently and additionally flags stems that exist under
// several extensions. Builds never consult it.
func (r *Resolver) Check(catalogPath string) CheckResult {
	res := CheckResult{CatalogPath: catalogPath}
	res.Resolution, res.Err = r.Resolve(catalogPath)
	if !r.InPrefix(catalogPath) {
		return res
	}

	names, err := r.listOriginals()
	if err != nil {
		return res
	}
	stem := imageformat.Stem(path.Base(catalogPath))
	exts := sets.New[string]()
	for _, n := range names {
		ext := filepath.Ext(n)
		if !imageformat.Known(ext) || imageformat.Stem(n) != stem {
			continue
		}
		res.Candidates = append(res.Candidates, filepath.Join(r.originals, n))
		exts.Add(strings.ToLower(ext))
	}
	res.Ambiguous = exts.Len() > 1
	return res
}
