package execution

import (
	"context"
	"errors"
)

// GenerationBackend turns a rendered prompt into text. Implementations are opaque, are never
// retried, and must honor ctx cancellation.
type GenerationBackend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to GenerationBackend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Request is a single generation call.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
}

// ErrTimeout is reported when a backend call exceeds its per-call deadline.
var ErrTimeout = errors.New("generation timed out")

// ExecutionError wraps anything that prevented a template from producing output: missing
// input variables, backend failures and timeouts.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return e.Cause.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
