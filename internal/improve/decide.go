package improve

import (
	"fmt"
	"strings"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/projectconfig"
)

// Gate names reported on the outcome.
const (
	GateImprovement = "improvement"
	GateFormat      = "format_pass_rate"
	GateRegression  = "regression"
)

// Thresholds are the promotion gates.
type Thresholds struct {
	// Improvement is the minimum score delta over the baseline.
	Improvement float64
	// MinFormatPassRate applies to the best candidate.
	MinFormatPassRate float64
	// RegressionGuardrail is the largest tolerated score decrease.
	RegressionGuardrail float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Improvement:         projectconfig.DefaultImprovementThreshold,
		MinFormatPassRate:   projectconfig.DefaultMinFormatPassRate,
		RegressionGuardrail: projectconfig.DefaultRegressionGuardrail,
	}
}

// ThresholdsFromConfig reads the improve section.
func ThresholdsFromConfig(cfg *projectconfig.ProjectConfig) Thresholds {
	return Thresholds{
		Improvement:         cfg.Improve.ImprovementThreshold,
		MinFormatPassRate:   cfg.Improve.MinFormatPassRate,
		RegressionGuardrail: cfg.Improve.RegressionGuardrail,
	}
}

// Verdict is the outcome of the three gates.
type Verdict struct {
	Decision models.Decision
	Reason   string
	Gates    []models.GateResult
}

// Decide applies every gate independently. formatRate is the best candidate's format pass
// rate. Without a best candidate the format gate has nothing to check and stays unmet.
func Decide(t Thresholds, delta, formatRate float64, hasBest bool) Verdict {
	improvementMet := delta >= t.Improvement
	formatMet := hasBest && formatRate >= t.MinFormatPassRate
	noRegression := delta >= -t.RegressionGuardrail

	formatDetail := "no candidate to check"
	if hasBest {
		formatDetail = fmt.Sprintf("%s, minimum %s", pct(formatRate), pct(t.MinFormatPassRate))
	}

	gates := []models.GateResult{
		{
			Name:   GateImprovement,
			Met:    improvementMet,
			Detail: fmt.Sprintf("delta %s, threshold %s", pct(delta), pct(t.Improvement)),
		},
		{
			Name:   GateFormat,
			Met:    formatMet,
			Detail: formatDetail,
		},
		{
			Name:   GateRegression,
			Met:    noRegression,
			Detail: fmt.Sprintf("delta %s, guardrail -%s", pct(delta), pct(t.RegressionGuardrail)),
		},
	}

	if improvementMet && formatMet && noRegression {
		return Verdict{
			Decision: models.DecisionPromoted,
			Reason: fmt.Sprintf("Improvement of %s exceeds threshold (%s). Format pass rate: %s. No regression detected.",
				pct(delta), pct(t.Improvement), pct(formatRate)),
			Gates: gates,
		}
	}

	var reasons []string
	if !improvementMet {
		reasons = append(reasons, fmt.Sprintf("Improvement (%s) below threshold (%s)", pct(delta), pct(t.Improvement)))
	}
	if hasBest && !formatMet {
		reasons = append(reasons, fmt.Sprintf("Format pass rate (%s) below minimum (%s)", pct(formatRate), pct(t.MinFormatPassRate)))
	}
	if !noRegression {
		reasons = append(reasons, fmt.Sprintf("Regression detected (%s)", pct(delta)))
	}
	if !hasBest {
		reasons = append(reasons, "No candidate outperformed baseline")
	}
	return Verdict{
		Decision: models.DecisionRejected,
		Reason:   strings.Join(reasons, "; "),
		Gates:    gates,
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
