// Package improve runs the self-improvement loop: evaluate a baseline template, propose
// rewrites, evaluate them and promote the best one when it clears every gate.
package improve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/cache"
	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/orchestration"
	"github.com/spboyer/promptloop/internal/projectconfig"
	"github.com/spboyer/promptloop/internal/sink"
	"github.com/spboyer/promptloop/internal/statistics"
	"github.com/spboyer/promptloop/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("promptloop/improve")

// RunEvaluator scores a template against a dataset. *orchestration.Evaluator implements it.
type RunEvaluator interface {
	Evaluate(ctx context.Context, tmpl *models.Template, entries []models.DatasetEntry, opts ...orchestration.RunOption) (*models.EvaluationRun, error)
}

// Loop drives one improvement cycle per Run call. It is safe for concurrent use when its
// collaborators are.
type Loop struct {
	store     store.TemplateStore
	evaluator RunEvaluator
	generator Generator

	thresholds       Thresholds
	maxCandidates    int
	candidateWorkers int
	generationModel  string
	sink             sink.ResultSink
	bootstrapSeed    int64
	now              func() time.Time
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

func WithThresholds(t Thresholds) LoopOption {
	return func(l *Loop) { l.thresholds = t }
}

func WithMaxCandidates(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxCandidates = n
		}
	}
}

func WithCandidateWorkers(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.candidateWorkers = n
		}
	}
}

// WithGenerationModel overrides the generator's model.
func WithGenerationModel(model string) LoopOption {
	return func(l *Loop) { l.generationModel = model }
}

// WithSink publishes every run and the outcome.
func WithSink(s sink.ResultSink) LoopOption {
	return func(l *Loop) {
		if s != nil {
			l.sink = s
		}
	}
}

// WithBootstrapSeed makes the paired confidence interval reproducible.
func WithBootstrapSeed(seed int64) LoopOption {
	return func(l *Loop) { l.bootstrapSeed = seed }
}

func NewLoop(s store.TemplateStore, evaluator RunEvaluator, generator Generator, opts ...LoopOption) *Loop {
	l := &Loop{
		store:            s,
		evaluator:        evaluator,
		generator:        generator,
		thresholds:       DefaultThresholds(),
		maxCandidates:    projectconfig.DefaultMaxCandidates,
		candidateWorkers: projectconfig.DefaultCandidateWorkers,
		sink:             sink.Discard,
		bootstrapSeed:    -1,
		now:              time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Request selects what to improve and what to measure it against.
type Request struct {
	Name string
	// BaselineVersion defaults to the active version.
	BaselineVersion string
	Entries         []models.DatasetEntry
	DatasetID       string
}

// pending is a persisted candidate awaiting evaluation.
type pending struct {
	tmpl   *models.Template
	result models.CandidateResult
	run    *models.EvaluationRun
}

// Run executes the loop once. Candidate failures are recorded on the outcome; errors are
// returned only for store failures, cache corruption and cancellation.
func (l *Loop) Run(ctx context.Context, req Request) (*models.ImprovementOutcome, error) {
	started := l.now()

	ctx, span := tracer.Start(ctx, "improvement.run", trace.WithAttributes(
		attribute.String("template", req.Name),
		attribute.Int("max_candidates", l.maxCandidates),
	))
	defer span.End()

	outcome, err := l.run(ctx, req, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("decision", string(outcome.Decision)))
	return outcome, nil
}

func (l *Loop) run(ctx context.Context, req Request, started time.Time) (*models.ImprovementOutcome, error) {
	baseline, err := l.store.Get(ctx, req.Name, req.BaselineVersion)
	if err != nil {
		return nil, err
	}
	log := slog.With("template", baseline.Name, "baseline", baseline.Version)

	log.Info("Evaluating baseline", "entries", len(req.Entries))
	baseRun, err := l.evaluator.Evaluate(ctx, baseline, req.Entries,
		orchestration.ForDataset(req.DatasetID), orchestration.AsRunType(models.RunTypeFull))
	if err != nil {
		return nil, fmt.Errorf("evaluating baseline %s: %w", baseline.Ref(), err)
	}
	l.emitRun(ctx, baseRun)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("improvement of %s cancelled: %w", baseline.Ref(), err)
	}

	outcome := &models.ImprovementOutcome{
		TemplateName:    baseline.Name,
		BaselineID:      baseline.ID,
		BaselineVersion: baseline.Version,
		BaselineScore:   baseRun.PrimaryScore(),
		BaselineRunID:   baseRun.ID,
		BestScore:       baseRun.PrimaryScore(),
		StartedAt:       started,
	}

	log.Info("Generating candidates", "max", l.maxCandidates, "baselineScore", outcome.BaselineScore)
	proposals := l.generator.Propose(ctx, Proposal{
		Baseline: baseline,
		Analysis: AnalyzeFailures(baseRun),
		Max:      l.maxCandidates,
		Model:    l.generationModel,
	})
	if len(proposals) > l.maxCandidates {
		proposals = proposals[:l.maxCandidates]
	}

	candidates, err := l.persist(ctx, baseline, proposals)
	if err != nil {
		return nil, err
	}

	log.Info("Evaluating candidates", "count", len(candidates), "workers", l.candidateWorkers)
	if err := l.evaluateCandidates(ctx, candidates, req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("improvement of %s cancelled: %w", baseline.Ref(), err)
	}

	best := selectBest(outcome.BaselineScore, candidates)
	formatRate := 0.0
	for _, c := range candidates {
		outcome.Candidates = append(outcome.Candidates, c.result)
	}
	if best != nil {
		outcome.BestCandidateID = best.tmpl.ID
		outcome.BestCandidateVersion = best.tmpl.Version
		outcome.BestScore = best.result.Score
		outcome.NormalizedGain = statistics.NormalizedGain(outcome.BaselineScore, best.result.Score)
		formatRate = best.result.FormatPassRate
		if ci, ok := statistics.PairedDeltaCI(baseRun.OverallByEntry(), best.run.OverallByEntry(),
			statistics.DefaultConfidenceLevel, l.bootstrapSeed); ok {
			outcome.DeltaCI = &ci
		}
	}
	outcome.ImprovementDelta = outcome.BestScore - outcome.BaselineScore

	verdict := Decide(l.thresholds, outcome.ImprovementDelta, formatRate, best != nil)
	outcome.Decision = verdict.Decision
	outcome.Reason = verdict.Reason
	outcome.Gates = verdict.Gates
	log.Info("Decision reached", "decision", verdict.Decision, "delta", outcome.ImprovementDelta, "reason", verdict.Reason)

	if verdict.Decision == models.DecisionPromoted {
		if _, err := l.store.Activate(ctx, baseline.Name, best.tmpl.Version); err != nil {
			return nil, fmt.Errorf("promoting %s: %w", best.tmpl.Ref(), err)
		}
		changelog, err := Changelog(baseline, best.tmpl, baseRun, best.run)
		if err != nil {
			log.Warn("Could not build changelog", "error", err)
		}
		outcome.Changelog = changelog
		log.Info("Promoted candidate", "version", best.tmpl.Version)
	}

	outcome.CompletedAt = l.now()
	metrics.ImprovementDecisions.WithLabelValues(string(outcome.Decision)).Inc()
	if err := l.sink.EmitOutcome(ctx, outcome); err != nil {
		log.Warn("Could not publish improvement outcome", "error", err)
	}
	return outcome, nil
}

// persist stores each proposal as a draft child of baseline. A version that already exists
// drops that candidate and is recorded on it.
func (l *Loop) persist(ctx context.Context, baseline *models.Template, proposals []Candidate) ([]*pending, error) {
	out := make([]*pending, 0, len(proposals))
	var conflicts []string
	for i, p := range proposals {
		version := NextVersion(baseline.Version, i)

		metadata := baseline.CloneMetadata()
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["improvement_rationale"] = p.Rationale
		metadata["addressed_failures"] = append([]string{}, p.AddressedFailures...)
		metadata["parent_version"] = baseline.Version

		parent := baseline.ID
		tmpl := &models.Template{
			ID:           uuid.NewString(),
			Name:         baseline.Name,
			Version:      version,
			Body:         p.Body,
			InputSchema:  baseline.InputSchema,
			OutputSchema: baseline.OutputSchema,
			Metadata:     metadata,
			Status:       models.TemplateDraft,
			ParentID:     &parent,
		}
		c := &pending{
			tmpl: tmpl,
			result: models.CandidateResult{
				TemplateID:        tmpl.ID,
				Version:           version,
				Rationale:         p.Rationale,
				AddressedFailures: p.AddressedFailures,
				Source:            p.Source,
			},
		}

		if err := l.store.Create(ctx, tmpl); err != nil {
			if !errors.Is(err, store.ErrVersionConflict) {
				return nil, fmt.Errorf("saving candidate %s: %w", tmpl.Ref(), err)
			}
			slog.Warn("Skipping candidate", "template", tmpl.Ref(), "error", err)
			c.result.TemplateID = ""
			c.result.Error = err.Error()
			conflicts = append(conflicts, version)
		}
		out = append(out, c)
	}
	if len(proposals) > 0 && len(conflicts) == len(proposals) {
		// candidate versions derive from the baseline, so a rerun on it repeats them
		slog.Warn("Every candidate version already exists; archive or remove the earlier drafts to generate new candidates",
			"template", baseline.Name, "baseline", baseline.Version, "versions", conflicts)
	}
	return out, nil
}

// evaluateCandidates scores every persisted candidate under the worker cap. Only cache
// corruption aborts; other failures are recorded on the candidate.
func (l *Loop) evaluateCandidates(ctx context.Context, candidates []*pending, req Request) error {
	var g errgroup.Group
	g.SetLimit(l.candidateWorkers)

	for _, c := range candidates {
		if c.result.Error != "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			run, err := l.evaluator.Evaluate(ctx, c.tmpl, req.Entries,
				orchestration.ForDataset(req.DatasetID), orchestration.AsRunType(models.RunTypeCandidateComparison))
			if err != nil {
				var corrupt *cache.CorruptionError
				if errors.As(err, &corrupt) {
					return err
				}
				slog.Warn("Candidate evaluation failed", "template", c.tmpl.Ref(), "error", err)
				c.result.Error = err.Error()
				return nil
			}
			l.emitRun(ctx, run)
			if run.Cancelled {
				c.result.Error = "evaluation cancelled"
				return nil
			}
			c.run = run
			c.result.RunID = run.ID
			c.result.Score = run.PrimaryScore()
			c.result.FormatPassRate = run.FormatPassRate
			return nil
		})
	}
	return g.Wait()
}

// selectBest walks candidates in order and keeps one only when it strictly beats the running
// best, which starts at the baseline score.
func selectBest(baselineScore float64, candidates []*pending) *pending {
	var best *pending
	bestScore := baselineScore
	for _, c := range candidates {
		if !c.result.Evaluated() {
			continue
		}
		if c.result.Score > bestScore {
			best = c
			bestScore = c.result.Score
		}
	}
	return best
}

func (l *Loop) emitRun(ctx context.Context, run *models.EvaluationRun) {
	if err := l.sink.EmitRun(ctx, run); err != nil {
		slog.Warn("Could not publish evaluation run", "run", run.ID, "error", err)
	}
}
