package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"git.home.luguber.info/inful/imagebuilder/internal/pipeline"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printReport writes the run's diagnostics and summary to w. Terminals also get a
// table of the per-state counts.
func printReport(w io.Writer, rep *pipeline.Report) {
	for _, line := range rep.Lines() {
		fmt.Fprintln(w, line)
	}
	if !isTerminal(w) {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"State", "Entries"})
	t.AppendRows([]table.Row{
		{pipeline.StateBuilt, rep.Built},
		{pipeline.StateSkipped, rep.Skipped},
		{pipeline.StateMissing, rep.Missing},
		{pipeline.StateFailed, rep.Failed},
	})
	t.AppendFooter(table.Row{"Total", len(rep.Results)})
	t.Render()
}
