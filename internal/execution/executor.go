package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/template"
	"github.com/spboyer/promptloop/internal/utils"
)

// DefaultTemperature is used when a template does not set one.
const DefaultTemperature = 0.7

// Result is what one template execution produced.
type Result struct {
	// Prompt is the rendered template text sent to the backend.
	Prompt string
	// Raw is the unmodified backend reply.
	Raw string
	// Output is the parsed output. Without an output contract it is always {"output": Raw}.
	Output map[string]any
}

// Executor renders templates and runs them against a backend.
type Executor struct {
	backend            GenerationBackend
	defaultModel       string
	defaultTemperature float64
}

// NewExecutor creates an executor. defaultModel and defaultTemperature apply when a template's
// metadata does not set them. A negative temperature selects DefaultTemperature.
func NewExecutor(backend GenerationBackend, defaultModel string, defaultTemperature float64) *Executor {
	if defaultTemperature < 0 {
		defaultTemperature = DefaultTemperature
	}
	return &Executor{backend: backend, defaultModel: defaultModel, defaultTemperature: defaultTemperature}
}

// Execute renders tmpl with input, calls the backend and parses the reply. Every failure is an
// *ExecutionError. A missing input variable fails before the backend is called.
func (e *Executor) Execute(ctx context.Context, tmpl *models.Template, input map[string]any) (*Result, error) {
	prompt, err := template.Render(tmpl.Body, input)
	if err != nil {
		return nil, &ExecutionError{Cause: err}
	}

	settings := tmpl.Settings()
	req := Request{
		Prompt:      prompt,
		Model:       e.defaultModel,
		Temperature: e.defaultTemperature,
	}
	if settings.Model != "" {
		req.Model = settings.Model
	}
	if settings.Temperature != nil {
		req.Temperature = *settings.Temperature
	}

	slog.Debug("Executing template", "template", tmpl.Ref(), "model", req.Model)

	raw, err := e.backend.Generate(ctx, req)
	if err != nil {
		return nil, &ExecutionError{Cause: fmt.Errorf("generation failed for %s: %w", tmpl.Ref(), err)}
	}

	return &Result{
		Prompt: prompt,
		Raw:    raw,
		Output: ParseOutput(raw, tmpl.HasOutputContract()),
	}, nil
}

// ParseOutput maps a backend reply to a structured output. With a contract, a JSON object is
// used as-is (after stripping a ```json fence), any other JSON value is wrapped, and text that is
// not JSON is wrapped raw. Without a contract the reply is always wrapped raw.
func ParseOutput(raw string, hasContract bool) map[string]any {
	if !hasContract {
		return map[string]any{"output": raw}
	}

	candidate := strings.TrimSpace(raw)
	if strings.Contains(candidate, "```") {
		candidate = utils.ExtractFencedBlock(candidate, "json")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return map[string]any{"output": raw}
	}

	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{"output": v}
}
