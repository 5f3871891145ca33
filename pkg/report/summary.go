package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/safeconv"
)

// Summary is the end-of-run information printed after the findings.
type Summary struct {
	Findings    []engine.Finding
	Diagnostics []diag.Diagnostic
	Stats       engine.Stats
	Rules       int
}

// RenderSummary writes the scan statistics, a per-severity table and, when
// present, the diagnostics table to w.
func RenderSummary(w io.Writer, summary Summary) error {
	stats := summary.Stats

	line := fmt.Sprintf("Scanned %s %s (%s) with %s %s in %s",
		humanize.Comma(int64(stats.Files)), plural(stats.Files, "file", "files"),
		humanize.Bytes(safeconv.ClampInt64ToUint64(stats.Bytes)),
		humanize.Comma(int64(summary.Rules)), plural(summary.Rules, "rule", "rules"),
		stats.Duration.Round(time.Millisecond))

	if stats.Skipped > 0 {
		line += fmt.Sprintf(", %s skipped", humanize.Comma(int64(stats.Skipped)))
	}

	if stats.Cancelled > 0 {
		line += fmt.Sprintf(", %s cancelled", humanize.Comma(int64(stats.Cancelled)))
	}

	if _, err := fmt.Fprintln(w, line); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if _, err := fmt.Fprintln(w, severityTable(summary.Findings)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if len(summary.Diagnostics) == 0 {
		return nil
	}

	if _, err := fmt.Fprintln(w, diagnosticsTable(summary.Diagnostics)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}

func plural(count int, one, many string) string {
	if count == 1 {
		return one
	}

	return many
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func severityTable(findings []engine.Finding) string {
	type counts struct{ reported, suppressed int }

	bySeverity := make(map[rules.Severity]*counts)

	for _, finding := range findings {
		entry, ok := bySeverity[finding.Severity]
		if !ok {
			entry = &counts{}
			bySeverity[finding.Severity] = entry
		}

		if finding.Suppressed {
			entry.suppressed++
		} else {
			entry.reported++
		}
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"Severity", "Findings", "Suppressed"})

	var total counts

	for _, severity := range []rules.Severity{rules.SeverityError, rules.SeverityWarning, rules.SeverityInfo} {
		entry := bySeverity[severity]
		if entry == nil {
			entry = &counts{}
		}

		total.reported += entry.reported
		total.suppressed += entry.suppressed

		tbl.AppendRow(table.Row{string(severity), entry.reported, entry.suppressed})
	}

	tbl.AppendFooter(table.Row{"Total", total.reported, total.suppressed})

	return tbl.Render()
}

// diagnosticsTable lists every diagnostic; rule load errors carry their rule
// id so broken rules can be told apart from broken files.
func diagnosticsTable(diags []diag.Diagnostic) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Level", "Kind", "Location", "Rule", "Message"})

	for _, d := range diags {
		location := d.Path
		if d.Line > 0 {
			location += ":" + strconv.Itoa(d.Line)
		}

		tbl.AppendRow(table.Row{string(d.Level), string(d.Kind), location, d.RuleID, d.Message})
	}

	tbl.AppendFooter(table.Row{
		"Total",
		fmt.Sprintf("%d errors", diag.Count(diags, diag.LevelError)),
		fmt.Sprintf("%d warnings", diag.Count(diags, diag.LevelWarning)),
	})

	return tbl.Render()
}
