// Package template extracts and substitutes {name} placeholders in prompt template bodies.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{(\w+)\}`)

// MissingVariableError is returned when the input lacks a placeholder the body needs.
type MissingVariableError struct {
	Missing  []string
	Provided []string
}

func (e *MissingVariableError) Error() string {
	provided := "none"
	if len(e.Provided) > 0 {
		provided = strings.Join(e.Provided, ", ")
	}
	return fmt.Sprintf("Missing required input variables: %s. Provided variables: %s",
		strings.Join(e.Missing, ", "), provided)
}

// Placeholders returns the sorted, distinct placeholder names used in body.
func Placeholders(body string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRE.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// Check verifies that input supplies every placeholder in body.
func Check(body string, input map[string]any) error {
	var missing []string
	for _, name := range Placeholders(body) {
		if _, ok := input[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	provided := make([]string, 0, len(input))
	for k := range input {
		provided = append(provided, k)
	}
	sort.Strings(provided)

	return &MissingVariableError{Missing: missing, Provided: provided}
}

// Render substitutes every placeholder in body with its input value.
// Strings are inserted verbatim, anything else as compact JSON.
// Input is checked first so a missing variable never produces a partial render.
func Render(body string, input map[string]any) (string, error) {
	if err := Check(body, input); err != nil {
		return "", err
	}

	var renderErr error
	out := placeholderRE.ReplaceAllStringFunc(body, func(match string) string {
		name := match[1 : len(match)-1]
		s, err := formatValue(input[name])
		if err != nil && renderErr == nil {
			renderErr = fmt.Errorf("template: rendering %q: %w", name, err)
		}
		return s
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", nil
	case fmt.Stringer:
		return val.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
