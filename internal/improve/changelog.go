package improve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spboyer/promptloop/internal/models"
)

const maxChangelogLines = 10

// TextDiff is a line diff between two template bodies.
type TextDiff struct {
	Unified string
	Added   []string
	Removed []string
}

// Summary is the one-line count of changed lines.
func (d TextDiff) Summary() string {
	return fmt.Sprintf("Added %d lines, removed %d lines", len(d.Added), len(d.Removed))
}

// Diff computes a unified diff with three lines of context.
func Diff(fromName, toName, a, b string) (TextDiff, error) {
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return TextDiff{}, fmt.Errorf("diffing %s and %s: %w", fromName, toName, err)
	}

	d := TextDiff{Unified: unified}
	inHunk := false
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			inHunk = true
		case !inHunk:
			// file header
		case strings.HasPrefix(line, "+"):
			d.Added = append(d.Added, strings.TrimRight(line[1:], " \t\r"))
		case strings.HasPrefix(line, "-"):
			d.Removed = append(d.Removed, strings.TrimRight(line[1:], " \t\r"))
		}
	}
	return d, nil
}

// Changelog describes the change from one version to another. The performance section is
// included when both runs are given.
func Changelog(from, to *models.Template, before, after *models.EvaluationRun) (string, error) {
	d, err := Diff(from.Ref(), to.Ref(), from.Body, to.Body)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Prompt Update: %s → %s\n\n", from.Version, to.Version)
	fmt.Fprintf(&b, "**Summary:** %s\n\n", d.Summary())
	writeLines(&b, "Additions", d.Added)
	writeLines(&b, "Removals", d.Removed)

	if before != nil && after != nil {
		b.WriteString("### Performance Changes:\n")
		for _, m := range performanceDeltas(before, after) {
			switch {
			case m.delta > 0:
				fmt.Fprintf(&b, "- %s: +%.2f%% improvement\n", m.name, m.delta*100)
			case m.delta < 0:
				fmt.Fprintf(&b, "- %s: %.2f%% regression\n", m.name, m.delta*100)
			default:
				fmt.Fprintf(&b, "- %s: no change\n", m.name)
			}
		}
	}
	return b.String(), nil
}

func writeLines(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s:\n", title)
	for i, line := range lines {
		if i == maxChangelogLines {
			fmt.Fprintf(b, "- ... and %d more\n", len(lines)-maxChangelogLines)
			break
		}
		fmt.Fprintf(b, "- %s\n", line)
	}
	b.WriteString("\n")
}

type metricDelta struct {
	name  string
	delta float64
}

// performanceDeltas compares the dimensions both runs scored, then the primary score.
func performanceDeltas(before, after *models.EvaluationRun) []metricDelta {
	var out []metricDelta
	for d, v := range after.Aggregates {
		if prev, ok := before.Aggregates.Get(d); ok {
			out = append(out, metricDelta{name: string(d), delta: v - prev})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	out = append(out,
		metricDelta{name: "overall", delta: after.PrimaryScore() - before.PrimaryScore()},
		metricDelta{name: "format_pass_rate", delta: after.FormatPassRate - before.FormatPassRate},
	)
	return out
}
