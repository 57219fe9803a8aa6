package improve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/utils"
)

const (
	maxAnalyzedFailures = 5
	maxInputPreview     = 200

	issueFormatRate  = 0.95
	issueScoreBorder = 0.7
)

// AnalyzeFailures summarizes a baseline run for the candidate generator.
func AnalyzeFailures(run *models.EvaluationRun) string {
	if len(run.FailureCases) == 0 {
		return "No specific failure cases identified. Overall score could be improved."
	}

	var b strings.Builder
	b.WriteString("Evaluation Results:\n")
	fmt.Fprintf(&b, "- Overall Score: %.2f\n", run.PrimaryScore())
	fmt.Fprintf(&b, "- Format Pass Rate: %.1f%%\n", run.FormatPassRate*100)
	fmt.Fprintf(&b, "- Failed Examples: %d/%d\n\n", run.Failed, run.Total)

	b.WriteString("Failure Cases:\n")
	for i, fc := range run.FailureCases {
		if i == maxAnalyzedFailures {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, fc.Reason)
		fmt.Fprintf(&b, "   Input: %s...\n", inputPreview(fc.Input))
	}
	if run.Failed > maxAnalyzedFailures {
		fmt.Fprintf(&b, "\n... and %d more failures\n", run.Failed-maxAnalyzedFailures)
	}

	var issues []string
	if run.FormatPassRate < issueFormatRate {
		issues = append(issues, "Format validation failures")
	}
	if c, ok := run.Aggregates.Get(models.DimCorrectness); ok && c < issueScoreBorder {
		issues = append(issues, "Low correctness scores")
	}
	if run.Overall != nil && *run.Overall < issueScoreBorder {
		issues = append(issues, "Low overall performance")
	}
	if len(issues) > 0 {
		fmt.Fprintf(&b, "\nCommon Issues: %s\n", strings.Join(issues, ", "))
	}
	return b.String()
}

func inputPreview(input map[string]any) string {
	if input == nil {
		input = map[string]any{}
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return utils.Truncate(string(data), maxInputPreview)
}
