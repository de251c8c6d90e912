package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
)

// palette styles the run summary. Styles are empty when output is not
// a terminal.
type palette struct {
	header  lipgloss.Style
	ok      lipgloss.Style
	partial lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
}

func newPalette(w io.Writer) palette {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return palette{}
	}
	return palette{
		header:  lipgloss.NewStyle().Bold(true),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		partial: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

var categoryOrder = []domain.OutcomeCategory{
	domain.CategoryConvertedWithMetadata,
	domain.CategoryConvertedMetadataMissing,
	domain.CategoryNotConverted,
}

func printSummary(cmd *cobra.Command, report *driving.RunReport) {
	p := newPalette(cmd.OutOrStdout())

	cmd.Println()
	cmd.Println(p.header.Render(fmt.Sprintf("Run %s finished in %s", report.RunID, report.Elapsed.Round(time.Millisecond))))
	if report.BackendVersion != "" {
		cmd.Println(p.muted.Render(report.BackendVersion))
	}

	for _, cat := range categoryOrder {
		n := report.Count(cat)
		if n == 0 {
			continue
		}
		cmd.Println()
		cmd.Println(p.header.Render(fmt.Sprintf("%s (%d)", capitalise(string(cat)), n)))
		for _, o := range report.Outcomes {
			if o.Category() == cat {
				cmd.Println("  " + formatOutcome(p, o))
			}
		}
	}

	cmd.Println()
	cmd.Printf("%d of %d layer(s) converted\n", report.Converted(), len(report.Outcomes))
}

func formatOutcome(p palette, o domain.JobOutcome) string {
	target := fmt.Sprintf("%s -> %s:%s", o.Job.Layer.Name, filepath.Base(o.Job.DestinationFile), o.Table)

	switch o.Category() {
	case domain.CategoryConvertedWithMetadata:
		line := p.ok.Render("ok") + " " + target
		if d := metadataDetail(o); d != "" {
			line += " " + p.muted.Render("("+d+")")
		}
		return line

	case domain.CategoryConvertedMetadataMissing:
		line := p.partial.Render(string(o.Metadata)) + " " + target
		var notes []string
		if d := metadataDetail(o); d != "" {
			notes = append(notes, d)
		}
		if o.Err != nil {
			notes = append(notes, o.Err.Error())
		}
		notes = append(notes, o.Warnings...)
		if len(notes) > 0 {
			line += " " + p.muted.Render("("+strings.Join(notes, "; ")+")")
		}
		return line

	default:
		line := p.failed.Render(string(o.Status)) + " " + target
		if o.Err != nil {
			line += ": " + o.Err.Error()
		}
		return line
	}
}

func metadataDetail(o domain.JobOutcome) string {
	if o.Metadata == domain.MetadataNotRequested {
		return ""
	}
	parts := []string{
		fmt.Sprintf("%d alias(es)", o.AliasesApplied),
		fmt.Sprintf("%d domain value(s)", o.DomainRowsApplied),
	}
	if o.PrimaryKeyApplied {
		parts = append(parts, "primary key")
	}
	return strings.Join(parts, ", ")
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
