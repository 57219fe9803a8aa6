package judge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spboyer/promptloop/internal/models"
)

// BuildPrompt renders the evaluation prompt. Only the requested dimensions are described and
// asked for, plus overall and reasoning.
func BuildPrompt(input, actual, expected map[string]any, rubric string, dims []models.Dimension) string {
	var sb strings.Builder

	sb.WriteString("You are an expert evaluator assessing the quality of an AI system's output.\n\n")

	sb.WriteString("INPUT:\n")
	sb.WriteString(indentJSON(input))
	sb.WriteString("\n\nACTUAL OUTPUT:\n")
	sb.WriteString(indentJSON(actual))
	sb.WriteString("\n")

	if len(expected) > 0 {
		sb.WriteString("\nEXPECTED OUTPUT:\n")
		sb.WriteString(indentJSON(expected))
		sb.WriteString("\n")
	}

	if rubric != "" {
		sb.WriteString("\nEVALUATION RUBRIC:\n")
		sb.WriteString(rubric)
		sb.WriteString("\n")
	}

	sb.WriteString("\nEvaluate the output on the following dimensions (score 0.0 to 1.0 for each):\n")
	for _, d := range dims {
		fmt.Fprintf(&sb, "- %s: %s\n", d, d.Description())
	}

	sb.WriteString("\nRespond with a JSON object containing:\n{\n")
	for _, d := range dims {
		fmt.Fprintf(&sb, "  %q: <float 0.0-1.0>,\n", string(d))
	}
	fmt.Fprintf(&sb, "  %q: <float 0.0-1.0>,\n", models.OverallKey)
	sb.WriteString("  \"reasoning\": \"<brief explanation>\"\n}\n")

	return sb.String()
}

func indentJSON(v map[string]any) string {
	if v == nil {
		return "null"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
