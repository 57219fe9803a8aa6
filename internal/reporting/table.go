package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/tokens"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	colEntry  = 24
	colStatus = 6
	colFormat = 14
	colScore  = 8
	colReason = 48
)

var printer = message.NewPrinter(language.English)

// percent renders a 0-1 rate as a localized percentage with one decimal.
func percent(v float64) string {
	return printer.Sprintf("%.1f%%", v*100)
}

// WriteRunTable prints one row per entry followed by the per-dimension aggregates.
func WriteRunTable(w io.Writer, run *models.EvaluationRun) {
	fmt.Fprintf(w, "%s@%s  (%d entries, %d passed)\n\n", run.TemplateName, run.TemplateVersion, run.Total, run.Passed) //nolint:errcheck

	fmt.Fprintf(w, "%s  %s  %s  %s  %s\n", //nolint:errcheck
		padRight("ENTRY", colEntry),
		padRight("RESULT", colStatus),
		padRight("FORMAT", colFormat),
		padRight("OVERALL", colScore),
		"REASON")
	fmt.Fprintln(w, strings.Repeat("─", colEntry+colStatus+colFormat+colScore+colReason+8)) //nolint:errcheck

	for i, res := range run.Results {
		id := res.EntryID
		if id == "" {
			id = fmt.Sprintf("#%d", i+1)
		}
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		overall := "-"
		if res.Overall != nil {
			overall = fmt.Sprintf("%.2f", *res.Overall)
		}
		if res.JudgeCached {
			overall += "*"
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  %s\n", //nolint:errcheck
			padRight(truncate(id, colEntry), colEntry),
			padRight(status, colStatus),
			padRight(string(res.FormatStatus), colFormat),
			padRight(overall, colScore),
			truncate(res.FailureReason, colReason))
	}

	fmt.Fprintln(w) //nolint:errcheck
	for _, d := range run.Dimensions {
		v, ok := run.Aggregates.Get(d)
		value := "-"
		if ok {
			value = fmt.Sprintf("%.3f", v)
		}
		fmt.Fprintf(w, "%s %s\n", padRight(string(d)+":", 14), value) //nolint:errcheck
	}
	if run.Overall != nil {
		fmt.Fprintf(w, "%s %.3f\n", padRight("overall:", 14), *run.Overall) //nolint:errcheck
	}
	fmt.Fprintf(w, "%s %s\n", padRight("format pass:", 14), percent(run.FormatPassRate)) //nolint:errcheck
}

// truncate shortens s to maxWidth display cells, ending with "…" when cut.
func truncate(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

// WriteTemplateList prints the versions of one template, newest first as given.
func WriteTemplateList(w io.Writer, versions []*models.Template) {
	fmt.Fprintf(w, "%s  %s  %s  %s  %s\n", //nolint:errcheck
		padRight("VERSION", 12),
		padRight("STATUS", 9),
		padRight("CREATED", 20),
		padRight("~TOKENS", 8),
		"PARENT")
	for _, t := range versions {
		parent := "-"
		if t.ParentID != nil {
			parent = parentVersion(versions, *t.ParentID)
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  %s\n", //nolint:errcheck
			padRight(truncate(t.Version, 12), 12),
			padRight(string(t.Status), 9),
			padRight(t.CreatedAt.UTC().Format("2006-01-02 15:04:05"), 20),
			padRight(fmt.Sprint(tokens.Estimate(t.Body)), 8),
			parent)
	}
}

// parentVersion names the parent by version when it is in the list, otherwise by short ID.
func parentVersion(versions []*models.Template, id string) string {
	for _, t := range versions {
		if t.ID == id {
			return t.Version
		}
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
