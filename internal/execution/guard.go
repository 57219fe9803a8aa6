package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spboyer/promptloop/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("promptloop/execution")

// Guard wraps a backend with a per-call timeout, an optional rate limit and concurrency cap,
// a trace span and Prometheus metrics. It never retries.
type Guard struct {
	inner    GenerationBackend
	provider string
	role     string
	timeout  time.Duration
	limiter  *rate.Limiter
	slots    *semaphore.Weighted
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTimeout sets the per-call deadline. Zero disables it.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) { g.timeout = d }
}

// WithRateLimit caps calls per second. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) GuardOption {
	return func(g *Guard) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxConcurrent caps in-flight calls across every caller sharing the Guard. A non-positive
// n removes the cap.
func WithMaxConcurrent(n int) GuardOption {
	return func(g *Guard) {
		if n <= 0 {
			g.slots = nil
			return
		}
		g.slots = semaphore.NewWeighted(int64(n))
	}
}

// NewGuard wraps inner. provider and role label metrics and spans.
func NewGuard(inner GenerationBackend, provider, role string, opts ...GuardOption) *Guard {
	g := &Guard{inner: inner, provider: provider, role: role}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs one call. The call's context is detached from the caller's cancellation so that
// an in-flight call finishes or hits its own deadline. A deadline overrun is reported as
// ErrTimeout.
func (g *Guard) Generate(ctx context.Context, req Request) (string, error) {
	if g.slots != nil {
		if err := g.slots.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("waiting for a call slot: %w", err)
		}
		defer g.slots.Release(1)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	callCtx := context.WithoutCancel(ctx)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
		defer cancel()
	}

	callCtx, span := tracer.Start(callCtx, "backend.generate", trace.WithAttributes(
		attribute.String("provider", g.provider),
		attribute.String("role", g.role),
		attribute.String("model", req.Model),
		attribute.Int("prompt_length", len(req.Prompt)),
	))
	defer span.End()

	start := time.Now()
	out, err := g.inner.Generate(callCtx, req)
	elapsed := time.Since(start)
	metrics.BackendCallDuration.WithLabelValues(g.provider, g.role).Observe(elapsed.Seconds())

	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, g.timeout, err)
		}
		metrics.BackendCallsTotal.WithLabelValues(g.provider, g.role, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		slog.Debug("Backend call failed", "provider", g.provider, "role", g.role, "error", err, "elapsed", elapsed)
		return "", err
	}

	metrics.BackendCallsTotal.WithLabelValues(g.provider, g.role, metrics.OutcomeOK).Inc()
	span.SetAttributes(attribute.Int("response_length", len(out)))
	return out, nil
}
