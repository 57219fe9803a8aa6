// Package judge scores template outputs with a language model acting as a blind evaluator.
package judge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/models"
)

// Request is everything the judge is allowed to see. It deliberately has no template identity.
type Request struct {
	Input      map[string]any
	Actual     map[string]any
	Expected   map[string]any
	Rubric     string
	Dimensions []models.Dimension
}

// Evaluator scores an output. Judge and the caching wrapper both implement it.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*models.JudgeResult, error)
}

// UnavailableError means the judge backend could not produce a reply. Callers continue with
// format-only scoring.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("judge unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Judge asks a backend to score outputs at temperature 0.
type Judge struct {
	backend execution.GenerationBackend
	model   string
}

// New creates a judge that calls backend with model.
func New(backend execution.GenerationBackend, model string) *Judge {
	return &Judge{backend: backend, model: model}
}

// Model returns the judge model name.
func (j *Judge) Model() string {
	return j.model
}

// Evaluate scores req.Actual. Scores are clamped to [0, 1] and only requested dimensions are
// kept. A reply that is not valid JSON is decoded best-effort rather than failing.
func (j *Judge) Evaluate(ctx context.Context, req Request) (*models.JudgeResult, error) {
	dims := requested(req.Dimensions)

	raw, err := j.backend.Generate(ctx, execution.Request{
		Prompt:      BuildPrompt(req.Input, req.Actual, req.Expected, req.Rubric, dims),
		Model:       j.model,
		Temperature: 0,
	})
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}

	res := Decode(raw, dims)
	if res.Decoded == models.JudgeDecodedFallback {
		slog.Debug("Judge reply was not structured; used best-effort decoding", "model", j.model)
	}
	return res, nil
}

// requested orders dims canonically and falls back to the defaults when none are given.
func requested(dims []models.Dimension) []models.Dimension {
	if len(dims) == 0 {
		dims = models.DefaultDimensions
	}
	var out []models.Dimension
	for _, d := range models.AllDimensions {
		if models.ContainsDimension(dims, d) {
			out = append(out, d)
		}
	}
	return out
}
