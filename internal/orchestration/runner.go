package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/cache"
	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/judge"
	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("promptloop/orchestration")

const (
	DefaultWorkers            = 4
	DefaultEntryPassThreshold = 0.7
)

// Executor runs one template against one input. *execution.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, tmpl *models.Template, input map[string]any) (*execution.Result, error)
}

// ProgressListener receives progress updates
type ProgressListener func(event ProgressEvent)

// EventType represents the type of progress event
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventEntryStart    EventType = "entry_start"
	EventEntryComplete EventType = "entry_complete"
	EventEntryCached   EventType = "entry_cached"
	EventRunComplete   EventType = "run_complete"
)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	EventType    EventType
	TemplateRef  string
	EntryID      string
	EntryNum     int
	TotalEntries int
	Passed       bool
	DurationMs   int64
	Details      map[string]any
}

// Evaluator scores a template version against dataset entries.
type Evaluator struct {
	exec  Executor
	judge judge.Evaluator

	workers        int
	dimensions     []models.Dimension
	passThreshold  float64
	strictFormat   bool
	judgeModel     string
	defaultRunType models.RunType

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithWorkers caps how many entries are evaluated at once.
func WithWorkers(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDimensions sets the dimensions to score. Empty keeps models.DefaultDimensions.
func WithDimensions(dims ...models.Dimension) EvaluatorOption {
	return func(e *Evaluator) {
		if len(dims) > 0 {
			e.dimensions = models.SortedDimensions(dims)
		}
	}
}

func WithEntryPassThreshold(t float64) EvaluatorOption {
	return func(e *Evaluator) {
		e.passThreshold = t
	}
}

// WithStrictFormat fails entries that have neither an output contract nor judge scores.
func WithStrictFormat(strict bool) EvaluatorOption {
	return func(e *Evaluator) {
		e.strictFormat = strict
	}
}

// WithJudgeModel records the judge model on every run.
func WithJudgeModel(model string) EvaluatorOption {
	return func(e *Evaluator) {
		e.judgeModel = model
	}
}

func WithRunType(rt models.RunType) EvaluatorOption {
	return func(e *Evaluator) {
		e.defaultRunType = rt
	}
}

// NewEvaluator creates an evaluator. A nil judge restricts scoring to the format dimension.
func NewEvaluator(exec Executor, j judge.Evaluator, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		exec:           exec,
		judge:          j,
		workers:        DefaultWorkers,
		dimensions:     models.DefaultDimensions,
		passThreshold:  DefaultEntryPassThreshold,
		defaultRunType: models.RunTypeFull,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnProgress registers a progress listener
func (e *Evaluator) OnProgress(listener ProgressListener) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	e.listeners = append(e.listeners, listener)
}

func (e *Evaluator) notifyProgress(event ProgressEvent) {
	e.progressMu.Lock()
	listeners := make([]ProgressListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Dimensions returns the dimensions this evaluator scores.
func (e *Evaluator) Dimensions() []models.Dimension {
	return append([]models.Dimension(nil), e.dimensions...)
}

// RunOption adjusts a single Evaluate call.
type RunOption func(*runSettings)

type runSettings struct {
	datasetID string
	runType   models.RunType
}

// ForDataset tags the run with the dataset the entries came from.
func ForDataset(id string) RunOption {
	return func(s *runSettings) { s.datasetID = id }
}

// AsRunType overrides the evaluator's run type for one call.
func AsRunType(rt models.RunType) RunOption {
	return func(s *runSettings) { s.runType = rt }
}

// Evaluate runs tmpl against entries and aggregates the results. With no entries a single
// default entry is synthesized from the input schema.
//
// Entry failures are recorded on the run, not returned. The only error is cache corruption.
// Cancelling ctx stops scheduling; the run is returned with Cancelled set and only the entries
// that finished.
func (e *Evaluator) Evaluate(ctx context.Context, tmpl *models.Template, entries []models.DatasetEntry, opts ...RunOption) (*models.EvaluationRun, error) {
	settings := runSettings{runType: e.defaultRunType}
	for _, o := range opts {
		o(&settings)
	}

	if len(entries) == 0 {
		entries = []models.DatasetEntry{DefaultEntry(tmpl)}
	}

	ctx, span := tracer.Start(ctx, "evaluation.run", trace.WithAttributes(
		attribute.String("template", tmpl.Ref()),
		attribute.Int("entries", len(entries)),
		attribute.String("run_type", string(settings.runType)),
	))
	defer span.End()

	run := &models.EvaluationRun{
		ID:              uuid.NewString(),
		TemplateID:      tmpl.ID,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		DatasetID:       settings.datasetID,
		RunType:         settings.runType,
		JudgeModel:      e.judgeModel,
		Dimensions:      e.Dimensions(),
		StartedAt:       time.Now(),
	}

	slog.Info("Evaluating template", "template", tmpl.Ref(), "entries", len(entries), "workers", e.workers)
	e.notifyProgress(ProgressEvent{
		EventType:    EventRunStart,
		TemplateRef:  tmpl.Ref(),
		TotalEntries: len(entries),
	})

	results := make([]models.EntryResult, len(entries))
	done := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			entry := entries[i]
			e.notifyProgress(ProgressEvent{
				EventType:    EventEntryStart,
				TemplateRef:  tmpl.Ref(),
				EntryID:      entry.ID,
				EntryNum:     i + 1,
				TotalEntries: len(entries),
			})

			// In-flight calls finish after cancellation; the guard bounds them.
			res, err := e.evaluateEntry(context.WithoutCancel(gctx), tmpl, entry)
			if err != nil {
				return err
			}
			results[i] = res
			done[i] = true

			eventType := EventEntryComplete
			if res.JudgeCached {
				eventType = EventEntryCached
			}
			e.notifyProgress(ProgressEvent{
				EventType:    eventType,
				TemplateRef:  tmpl.Ref(),
				EntryID:      entry.ID,
				EntryNum:     i + 1,
				TotalEntries: len(entries),
				Passed:       res.Passed,
				DurationMs:   res.DurationMs,
				Details:      entryDetails(&res),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	evaluated := make([]models.EntryResult, 0, len(entries))
	for i, ok := range done {
		if ok {
			evaluated = append(evaluated, results[i])
		}
	}
	run.Cancelled = len(evaluated) < len(entries)
	if run.Cancelled {
		slog.Warn("Evaluation cancelled", "template", tmpl.Ref(), "evaluated", len(evaluated), "entries", len(entries))
	}

	aggregate(run, evaluated)
	run.CompletedAt = time.Now()

	span.SetAttributes(
		attribute.Int("passed", run.Passed),
		attribute.Float64("format_pass_rate", run.FormatPassRate),
		attribute.Bool("cancelled", run.Cancelled),
	)
	metrics.RunOverallScore.WithLabelValues(tmpl.Name, string(run.RunType)).Set(run.PrimaryScore())

	slog.Info("Evaluation complete",
		"template", tmpl.Ref(),
		"passed", run.Passed,
		"total", run.Total,
		"score", run.PrimaryScore(),
		"format_pass_rate", run.FormatPassRate,
		"duration", run.Duration())
	e.notifyProgress(ProgressEvent{
		EventType:    EventRunComplete,
		TemplateRef:  tmpl.Ref(),
		TotalEntries: run.Total,
		DurationMs:   run.Duration().Milliseconds(),
		Details: map[string]any{
			"passed": run.Passed,
			"score":  run.PrimaryScore(),
		},
	})

	return run, nil
}

// entryDetails extracts the score for EventEntryComplete Details.
func entryDetails(res *models.EntryResult) map[string]any {
	return map[string]any{
		"score":         utils.Deref(res.Overall, 0),
		"format_status": string(res.FormatStatus),
	}
}

// isFatal reports errors that must abort the whole run.
func isFatal(err error) bool {
	var corruption *cache.CorruptionError
	return errors.As(err, &corruption)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
