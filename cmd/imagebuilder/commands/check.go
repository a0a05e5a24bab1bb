package commands

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"git.home.luguber.info/inful/imagebuilder/internal/config"
	"git.home.luguber.info/inful/imagebuilder/internal/derivative"
	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/imageformat"
	"git.home.luguber.info/inful/imagebuilder/internal/inventory"
	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/resolve"
)

// CheckCmd implements the 'check' command.
type CheckCmd struct {
	RunFlags `embed:""`
	Strict   bool `help:"Treat originals that exist under several extensions as errors."`
}

func (c *CheckCmd) Run(g *Global, _ *CLI) error {
	cfg := c.ToConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	rep := RunCheck(&cfg)
	for _, issue := range rep.Issues {
		g.Logger.Warn("Inventory file skipped", logfields.Error(issue))
	}
	rep.Print(os.Stdout)
	return rep.Err(c.Strict)
}

// CheckEntry is the health of one catalog entry.
type CheckEntry struct {
	resolve.CheckResult
	// Published is the primary derivative path; PublishedExists tells whether it is on disk.
	Published       string
	PublishedExists bool
}

// Lost reports an entry with neither an original nor a published derivative.
func (e CheckEntry) Lost() bool { return e.Missing() && !e.PublishedExists }

// CheckReport collects the check of every entry.
type CheckReport struct {
	Entries []CheckEntry
	Issues  []error
}

// RunCheck inspects every catalog entry without writing anything.
func RunCheck(cfg *config.Config) *CheckReport {
	inv := inventory.Read(cfg.InventoryPaths()...)
	resolver := resolve.New(cfg.Root, cfg.OriginalsPath(), cfg.PublicationPrefix)
	planner := derivative.New(derivative.Options{OutDir: cfg.OutputPath()}, nil, nil)

	rep := &CheckReport{Issues: inv.Issues}
	for _, e := range inv.Entries {
		res := resolver.Check(e.CatalogPath)
		entry := CheckEntry{CheckResult: res}
		if resolver.InPrefix(e.CatalogPath) {
			if res.Missing() {
				entry.Published = planner.PlanExt(e.CatalogPath, imageformat.OutputExt(path.Ext(e.CatalogPath))).Primary
			} else {
				entry.Published = planner.Plan(e.CatalogPath, res.Resolution.Source).Primary
			}
			entry.PublishedExists = fileExists(entry.Published)
		}
		rep.Entries = append(rep.Entries, entry)
	}
	return rep
}

// Counts returns the number of lost, missing (with a published derivative), ambiguous
// and unpublished entries.
func (r *CheckReport) Counts() (lost, missing, ambiguous, unpublished int) {
	for _, e := range r.Entries {
		switch {
		case e.Lost():
			lost++
		case e.Missing():
			missing++
		case e.Published != "" && !e.PublishedExists:
			unpublished++
		}
		if e.Ambiguous {
			ambiguous++
		}
	}
	return lost, missing, ambiguous, unpublished
}

// Err fails the check when an entry is lost, or ambiguous in strict mode.
func (r *CheckReport) Err(strict bool) error {
	lost, _, ambiguous, _ := r.Counts()
	if !strict {
		ambiguous = 0
	}
	if lost == 0 && ambiguous == 0 {
		return nil
	}
	return iberrors.CheckFailed(lost, ambiguous)
}

// Print writes one line per problem entry and a closing summary. Terminals get a table.
func (r *CheckReport) Print(w io.Writer) {
	var problems []CheckEntry
	for _, e := range r.Entries {
		if e.Missing() || e.Ambiguous || (e.Published != "" && !e.PublishedExists) {
			problems = append(problems, e)
		}
	}

	if isTerminal(w) && len(problems) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Entry", "Problem", "Candidates"})
		for _, e := range problems {
			t.AppendRow(table.Row{e.CatalogPath, problem(e), strings.Join(e.Candidates, "\n")})
		}
		t.Render()
	} else {
		for _, e := range problems {
			fmt.Fprintf(w, "%s: %s\n", problem(e), e.CatalogPath)
		}
	}

	lost, missing, ambiguous, unpublished := r.Counts()
	fmt.Fprintf(w, "Check complete: entries=%d lost=%d missing=%d ambiguous=%d unpublished=%d\n",
		len(r.Entries), lost, missing, ambiguous, unpublished)
}

func problem(e CheckEntry) string {
	switch {
	case e.Lost():
		return "Lost"
	case e.Missing():
		return "Missing original"
	case e.Ambiguous:
		return "Ambiguous"
	default:
		return "Unpublished"
	}
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
