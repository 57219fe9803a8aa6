package improve

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/cache"
	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/orchestration"
	"github.com/spboyer/promptloop/internal/store"
	"github.com/spboyer/promptloop/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baselineBody = "Classify the sentiment of: {text}"

type score struct {
	overall float64
	format  float64
}

// scriptedEvaluator scores templates by body.
type scriptedEvaluator struct {
	scores map[string]score
	errs   map[string]error

	mu    sync.Mutex
	calls []string
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, tmpl *models.Template, entries []models.DatasetEntry, _ ...orchestration.RunOption) (*models.EvaluationRun, error) {
	e.mu.Lock()
	e.calls = append(e.calls, tmpl.Version)
	e.mu.Unlock()

	if err := e.errs[tmpl.Body]; err != nil {
		return nil, err
	}
	s, ok := e.scores[tmpl.Body]
	if !ok {
		s = score{overall: 0.5, format: 1}
	}

	run := &models.EvaluationRun{
		ID:              uuid.NewString(),
		TemplateID:      tmpl.ID,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Overall:         utils.Ptr(s.overall),
		Aggregates:      models.Scores{models.DimCorrectness: s.overall},
		FormatPassRate:  s.format,
		Total:           len(entries),
	}
	for _, entry := range entries {
		res := models.EntryResult{EntryID: entry.ID, Input: entry.Input, Overall: utils.Ptr(s.overall)}
		if s.overall >= 0.7 {
			res.Passed = true
			run.Passed++
		} else {
			res.FailureReason = "Low overall score"
			run.Failed++
			run.FailureCases = append(run.FailureCases, models.FailureCase{EntryID: entry.ID, Reason: res.FailureReason, Input: entry.Input})
		}
		run.Results = append(run.Results, res)
	}
	return run, nil
}

type staticGenerator []Candidate

func (g staticGenerator) Propose(context.Context, Proposal) []Candidate {
	return g
}

func bodies(b ...string) staticGenerator {
	out := make(staticGenerator, len(b))
	for i, body := range b {
		out[i] = Candidate{Body: body, Rationale: "r", AddressedFailures: []string{"correctness"}, Source: models.CandidateGenerated}
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	runs     []*models.EvaluationRun
	outcomes []*models.ImprovementOutcome
}

func (s *recordingSink) EmitRun(_ context.Context, run *models.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *recordingSink) EmitOutcome(_ context.Context, o *models.ImprovementOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func seedStore(t *testing.T) (*store.MemoryStore, *models.Template) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := &models.Template{
		Name:         "sentiment",
		Version:      "1.0.0",
		Body:         baselineBody,
		OutputSchema: map[string]any{"type": "object", "required": []any{"label"}},
		Metadata:     map[string]any{"model": "gpt-4"},
	}
	require.NoError(t, s.Create(ctx, base))
	active, err := s.Activate(ctx, "sentiment", "1.0.0")
	require.NoError(t, err)
	return s, active
}

func dataset() []models.DatasetEntry {
	return []models.DatasetEntry{
		{ID: "pos", Input: map[string]any{"text": "great"}},
		{ID: "neg", Input: map[string]any{"text": "awful"}},
		{ID: "neu", Input: map[string]any{"text": "fine"}},
	}
}

func TestLoop_PromotesClearWinner(t *testing.T) {
	ctx := context.Background()
	s, base := seedStore(t)
	eval := &scriptedEvaluator{scores: map[string]score{
		baselineBody: {0.60, 1.0},
		"A {text}":   {0.62, 1.0},
		"B {text}":   {0.68, 0.97},
		"C {text}":   {0.65, 1.0},
	}}
	rec := &recordingSink{}
	loop := NewLoop(s, eval, bodies("A {text}", "B {text}", "C {text}"), WithSink(rec), WithBootstrapSeed(7))

	out, err := loop.Run(ctx, Request{Name: "sentiment", Entries: dataset(), DatasetID: "reviews"})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPromoted, out.Decision)
	assert.Equal(t, "1.1.1", out.BestCandidateVersion)
	assert.InDelta(t, 0.60, out.BaselineScore, 1e-9)
	assert.InDelta(t, 0.68, out.BestScore, 1e-9)
	assert.InDelta(t, 0.08, out.ImprovementDelta, 1e-9)
	assert.InDelta(t, 0.2, out.NormalizedGain, 1e-9)
	assert.Contains(t, out.Reason, "exceeds threshold")
	assert.Equal(t, 3, out.CandidatesEvaluated())
	assert.Contains(t, out.Changelog, "## Prompt Update: 1.0.0 → 1.1.1")
	require.NotNil(t, out.DeltaCI)
	assert.InDelta(t, 0.08, out.DeltaCI.Mean, 1e-9)
	assert.True(t, out.DeltaCI.Significant)

	active, err := s.GetActive(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1.1.1", active.Version)
	require.NotNil(t, active.ParentID)
	assert.Equal(t, base.ID, *active.ParentID)
	assert.Equal(t, "1.0.0", active.Metadata["parent_version"])
	assert.Equal(t, "gpt-4", active.Metadata["model"])
	assert.True(t, active.HasOutputContract())

	old, err := s.Get(ctx, "sentiment", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.TemplateArchived, old.Status)

	assert.Len(t, rec.runs, 4)
	assert.Len(t, rec.outcomes, 1)
}

func TestLoop_RejectsSmallImprovement(t *testing.T) {
	ctx := context.Background()
	s, _ := seedStore(t)
	eval := &scriptedEvaluator{scores: map[string]score{
		baselineBody: {0.60, 1.0},
		"A {text}":   {0.62, 1.0},
	}}

	out, err := NewLoop(s, eval, bodies("A {text}")).Run(ctx, Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionRejected, out.Decision)
	assert.Equal(t, "1.1.0", out.BestCandidateVersion)
	assert.Contains(t, out.Reason, "Improvement (2.00%) below threshold (5.00%)")
	assert.Empty(t, out.Changelog)

	active, err := s.GetActive(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", active.Version)

	draft, err := s.Get(ctx, "sentiment", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, models.TemplateDraft, draft.Status)
}

func TestLoop_TieNeverBecomesBest(t *testing.T) {
	s, _ := seedStore(t)
	eval := &scriptedEvaluator{scores: map[string]score{
		baselineBody: {0.60, 1.0},
		"A {text}":   {0.60, 1.0},
	}}

	out, err := NewLoop(s, eval, bodies("A {text}")).Run(context.Background(), Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)

	assert.Empty(t, out.BestCandidateVersion)
	assert.Zero(t, out.ImprovementDelta)
	assert.Equal(t, models.DecisionRejected, out.Decision)
	assert.Contains(t, out.Reason, "No candidate outperformed baseline")
	assert.Nil(t, out.DeltaCI)
}

func TestLoop_VersionConflictDropsCandidate(t *testing.T) {
	ctx := context.Background()
	s, _ := seedStore(t)
	require.NoError(t, s.Create(ctx, &models.Template{Name: "sentiment", Version: "1.1.0", Body: "taken"}))
	eval := &scriptedEvaluator{scores: map[string]score{
		baselineBody: {0.60, 1.0},
		"A {text}":   {0.90, 1.0},
		"B {text}":   {0.70, 1.0},
	}}

	out, err := NewLoop(s, eval, bodies("A {text}", "B {text}")).Run(ctx, Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)

	require.Len(t, out.Candidates, 2)
	assert.Equal(t, "1.1.0", out.Candidates[0].Version)
	assert.Contains(t, out.Candidates[0].Error, "version already exists")
	assert.False(t, out.Candidates[0].Evaluated())
	assert.Equal(t, "1.1.1", out.BestCandidateVersion)
	assert.Equal(t, models.DecisionPromoted, out.Decision)
	assert.NotContains(t, eval.calls, "1.1.0")
}

func TestLoop_AllVersionsConflictingWarns(t *testing.T) {
	ctx := context.Background()
	s, _ := seedStore(t)
	for _, v := range []string{"1.1.0", "1.1.1"} {
		require.NoError(t, s.Create(ctx, &models.Template{Name: "sentiment", Version: v, Body: "from an earlier run"}))
	}

	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	eval := &scriptedEvaluator{scores: map[string]score{baselineBody: {0.60, 1.0}}}
	out, err := NewLoop(s, eval, bodies("A {text}", "B {text}")).Run(ctx, Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionRejected, out.Decision)
	assert.Zero(t, out.CandidatesEvaluated())
	assert.Contains(t, buf.String(), "Every candidate version already exists")
	assert.Contains(t, buf.String(), `"versions":["1.1.0","1.1.1"]`)
}

func TestLoop_CandidateEvaluationErrorIsExcluded(t *testing.T) {
	s, _ := seedStore(t)
	eval := &scriptedEvaluator{
		scores: map[string]score{
			baselineBody: {0.60, 1.0},
			"B {text}":   {0.64, 1.0},
		},
		errs: map[string]error{"A {text}": errors.New("backend exploded")},
	}

	out, err := NewLoop(s, eval, bodies("A {text}", "B {text}")).Run(context.Background(), Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)

	assert.Equal(t, "backend exploded", out.Candidates[0].Error)
	assert.Zero(t, out.Candidates[0].Score)
	assert.Equal(t, "1.1.1", out.BestCandidateVersion)
	assert.Equal(t, 1, out.CandidatesEvaluated())
}

func TestLoop_NoBestCandidateSkipsFormatComparison(t *testing.T) {
	s, _ := seedStore(t)
	eval := &scriptedEvaluator{scores: map[string]score{
		baselineBody: {0.80, 1.0},
		"A {text}":   {0.70, 0.5},
		"B {text}":   {0.75, 0.9},
	}}

	out, err := NewLoop(s, eval, bodies("A {text}", "B {text}")).Run(context.Background(), Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, out.Decision)
	assert.Contains(t, out.Reason, "No candidate outperformed baseline")
	assert.NotContains(t, out.Reason, "Format pass rate")
	require.Len(t, out.Gates, 3)
	assert.Equal(t, "no candidate to check", out.Gates[1].Detail)
}

func TestLoop_PromptNotFound(t *testing.T) {
	s, _ := seedStore(t)
	_, err := NewLoop(s, &scriptedEvaluator{}, bodies("x")).Run(context.Background(), Request{Name: "missing"})
	require.ErrorIs(t, err, store.ErrPromptNotFound)
}

func TestLoop_BaselineVersionSelectsNonActive(t *testing.T) {
	ctx := context.Background()
	s, _ := seedStore(t)
	require.NoError(t, s.Create(ctx, &models.Template{Name: "sentiment", Version: "2.0.0", Body: "v2 {text}"}))
	eval := &scriptedEvaluator{}

	out, err := NewLoop(s, eval, bodies("A {text}")).Run(ctx, Request{Name: "sentiment", BaselineVersion: "2.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", out.BaselineVersion)
	assert.Equal(t, "2.1.0", out.Candidates[0].Version)
}

func TestLoop_CacheCorruptionIsFatal(t *testing.T) {
	s, _ := seedStore(t)
	eval := &scriptedEvaluator{
		scores: map[string]score{baselineBody: {0.6, 1}},
		errs:   map[string]error{"A {text}": &cache.CorruptionError{Detail: "tail mismatch"}},
	}

	_, err := NewLoop(s, eval, bodies("A {text}")).Run(context.Background(), Request{Name: "sentiment", Entries: dataset()})
	var corrupt *cache.CorruptionError
	require.ErrorAs(t, err, &corrupt)
}

func TestLoop_MaxCandidatesCapsProposals(t *testing.T) {
	s, _ := seedStore(t)
	eval := &scriptedEvaluator{}

	out, err := NewLoop(s, eval, bodies("A", "B", "C"), WithMaxCandidates(1)).Run(context.Background(), Request{Name: "sentiment"})
	require.NoError(t, err)
	assert.Len(t, out.Candidates, 1)
}

func TestLoop_FallbackCandidatesFromMockGenerator(t *testing.T) {
	ctx := context.Background()
	s, _ := seedStore(t)
	gen := NewGenerator(execution.NewStaticMockBackend("[]"), "gpt-4o-mini")
	eval := &scriptedEvaluator{scores: map[string]score{baselineBody: {0.6, 1}}}

	out, err := NewLoop(s, eval, gen, WithCandidateWorkers(1)).Run(ctx, Request{Name: "sentiment", Entries: dataset()})
	require.NoError(t, err)

	require.Len(t, out.Candidates, 3)
	for i, c := range out.Candidates {
		assert.Equal(t, models.CandidateFallback, c.Source)
		assert.Equal(t, NextVersion("1.0.0", i), c.Version)
	}
	versions, err := s.List(ctx, "sentiment")
	require.NoError(t, err)
	assert.Len(t, versions, 4)
}

func TestLoop_CancelledContext(t *testing.T) {
	s, _ := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoop(s, &scriptedEvaluator{}, bodies("A")).Run(ctx, Request{Name: "sentiment"})
	require.ErrorIs(t, err, context.Canceled)
}
