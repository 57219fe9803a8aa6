package orchestration

import (
	"sort"

	"github.com/spboyer/promptloop/internal/models"
)

const (
	defaultEntryText   = "This is a test input for evaluation."
	defaultEntryRubric = "Evaluate the prompt's ability to process the input correctly."
)

// DefaultEntry synthesizes an entry for a template evaluated without a dataset. Input values
// come from the input schema's properties by type; properties of other types are skipped.
func DefaultEntry(tmpl *models.Template) models.DatasetEntry {
	return models.DatasetEntry{
		Input:  defaultInput(tmpl.InputSchema),
		Rubric: defaultEntryRubric,
	}
}

func defaultInput(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return map[string]any{"text": defaultEntryText}
	}

	input := map[string]any{}
	props, _ := schema["properties"].(map[string]any)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		propType := "string"
		if prop, ok := props[key].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				propType = t
			}
		}
		switch propType {
		case "string":
			input[key] = "sample_" + key
		case "number", "integer":
			input[key] = 0
		case "boolean":
			input[key] = true
		case "array":
			input[key] = []any{}
		case "object":
			input[key] = map[string]any{}
		}
	}
	return input
}
