package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/spboyer/promptloop/internal/models"
)

// InterpretScore returns a plain-language label for a numeric score (0-1).
func InterpretScore(score float64) string {
	pct := score * 100
	switch {
	case pct > 90:
		return "Excellent (>90%)"
	case pct >= 70:
		return "Good (70-90%)"
	case pct >= 50:
		return "Needs Work (50-70%)"
	default:
		return "Poor (<50%)"
	}
}

// InterpretPassRate returns a human-readable explanation of a pass rate (0-1).
func InterpretPassRate(rate float64) string {
	pct := rate * 100
	switch {
	case pct >= 100:
		return fmt.Sprintf("All entries passed (%.0f%%)", pct)
	case pct >= 80:
		return fmt.Sprintf("Most entries passed (%.0f%%)", pct)
	case pct >= 50:
		return fmt.Sprintf("About half the entries passed (%.0f%%)", pct)
	default:
		return fmt.Sprintf("Few entries passed (%.0f%%)", pct)
	}
}

// FormatSummaryReport produces a plain-language report for one evaluation run.
func FormatSummaryReport(run *models.EvaluationRun) string {
	var b strings.Builder

	b.WriteString("=== Interpretation ===\n\n")

	score := run.PrimaryScore()
	if run.Overall != nil {
		fmt.Fprintf(&b, "Overall Score: %.2f - %s\n", score, InterpretScore(score))
	} else {
		b.WriteString("Overall Score: not judged\n")
	}
	passRate := 0.0
	if run.Total > 0 {
		passRate = float64(run.Passed) / float64(run.Total)
	}
	fmt.Fprintf(&b, "Pass Rate:     %s\n", InterpretPassRate(passRate))
	fmt.Fprintf(&b, "Format:        %s pass", percent(run.FormatPassRate))
	if run.FormatNotApplicable > 0 {
		fmt.Fprintf(&b, " (%d without an output contract)", run.FormatNotApplicable)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Duration:      %v\n", run.Duration().Round(time.Millisecond))
	if run.Cancelled {
		fmt.Fprintf(&b, "Cancelled:     %d entries evaluated before cancellation\n", run.Total)
	}

	if len(run.FailureCases) > 0 {
		b.WriteString("\nFailures:\n")
		for _, fc := range run.FailureCases {
			id := fc.EntryID
			if id == "" {
				id = "(unnamed)"
			}
			fmt.Fprintf(&b, "  ✗ %s: %s\n", id, fc.Reason)
		}
		if run.Failed > len(run.FailureCases) {
			fmt.Fprintf(&b, "  ... and %d more\n", run.Failed-len(run.FailureCases))
		}
	}

	return b.String()
}

// FormatOutcomeReport summarizes an improvement loop outcome.
func FormatOutcomeReport(o *models.ImprovementOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== Improvement: %s ===\n\n", o.TemplateName)
	fmt.Fprintf(&b, "Baseline:  %s  score %.3f\n", o.BaselineVersion, o.BaselineScore)
	for _, c := range o.Candidates {
		icon := " "
		if c.Version == o.BestCandidateVersion {
			icon = "★"
		}
		switch {
		case c.Error != "":
			fmt.Fprintf(&b, "%s %-12s error: %s\n", icon, c.Version, c.Error)
		default:
			fmt.Fprintf(&b, "%s %-12s score %.3f  format %s  (%s)\n", icon, c.Version, c.Score, percent(c.FormatPassRate), c.Source)
		}
	}

	b.WriteString("\n")
	for _, g := range o.Gates {
		icon := "✓"
		if !g.Met {
			icon = "✗"
		}
		fmt.Fprintf(&b, "%s %s: %s\n", icon, g.Name, g.Detail)
	}
	if o.DeltaCI != nil {
		fmt.Fprintf(&b, "Paired delta: %+.3f [%+.3f, %+.3f] at %.0f%% over %d entries\n",
			o.DeltaCI.Mean, o.DeltaCI.Lower, o.DeltaCI.Upper, o.DeltaCI.Level*100, o.DeltaCI.Samples)
	}
	fmt.Fprintf(&b, "\nDecision: %s\n%s\n", strings.ToUpper(string(o.Decision)), o.Reason)
	return b.String()
}
