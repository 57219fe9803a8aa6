package models

import (
	"time"
)

// Decision is the result of the promotion gates.
type Decision string

const (
	DecisionPromoted Decision = "promoted"
	DecisionRejected Decision = "rejected"
)

// CandidateSource records whether a candidate came from the model or the fixed mutations.
type CandidateSource string

const (
	CandidateGenerated CandidateSource = "generated"
	CandidateFallback  CandidateSource = "fallback"
)

// CandidateResult is one candidate version and how it scored.
type CandidateResult struct {
	TemplateID        string          `json:"template_id,omitempty"`
	Version           string          `json:"version"`
	Score             float64         `json:"score"`
	FormatPassRate    float64         `json:"format_pass_rate"`
	Rationale         string          `json:"rationale,omitempty"`
	AddressedFailures []string        `json:"addressed_failures,omitempty"`
	Source            CandidateSource `json:"source"`
	RunID             string          `json:"run_id,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Evaluated reports whether the candidate produced a usable score.
func (c CandidateResult) Evaluated() bool {
	return c.Error == "" && c.RunID != ""
}

// GateResult is the verdict of one promotion condition.
type GateResult struct {
	Name   string `json:"name"`
	Met    bool   `json:"met"`
	Detail string `json:"detail"`
}

// ConfidenceInterval is a bootstrap interval over paired per-entry score deltas.
type ConfidenceInterval struct {
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Mean        float64 `json:"mean"`
	Level       float64 `json:"confidence_level"`
	Samples     int     `json:"samples"`
	Significant bool    `json:"significant"`
}

// ImprovementOutcome describes one run of the improvement loop. It references templates and
// evaluation runs by ID; those are persisted on their own.
type ImprovementOutcome struct {
	TemplateName    string  `json:"template_name"`
	BaselineID      string  `json:"baseline_prompt_id"`
	BaselineVersion string  `json:"baseline_version"`
	BaselineScore   float64 `json:"baseline_score"`
	BaselineRunID   string  `json:"baseline_run_id,omitempty"`

	Candidates []CandidateResult `json:"candidates"`

	BestCandidateID      string  `json:"best_candidate_id,omitempty"`
	BestCandidateVersion string  `json:"best_candidate_version,omitempty"`
	BestScore            float64 `json:"best_candidate_score"`
	ImprovementDelta     float64 `json:"improvement_delta"`
	NormalizedGain       float64 `json:"normalized_gain"`

	Decision  Decision     `json:"promotion_decision"`
	Reason    string       `json:"promotion_reason"`
	Gates     []GateResult `json:"gates"`
	Changelog string       `json:"changelog,omitempty"`

	DeltaCI *ConfidenceInterval `json:"delta_ci,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CandidatesEvaluated counts candidates that produced a score.
func (o *ImprovementOutcome) CandidatesEvaluated() int {
	n := 0
	for _, c := range o.Candidates {
		if c.Evaluated() {
			n++
		}
	}
	return n
}
