package models

import (
	"strconv"
	"time"
)

// FormatStatus is the outcome of structural validation.
//
// NotApplicable is distinct from Pass: it means no output contract existed, so nothing was checked.
type FormatStatus string

const (
	FormatPass          FormatStatus = "pass"
	FormatFail          FormatStatus = "fail"
	FormatNotApplicable FormatStatus = "not_applicable"
)

// RunType distinguishes a plain evaluation from one made while comparing candidates.
type RunType string

const (
	RunTypeFull                RunType = "full"
	RunTypeCandidateComparison RunType = "candidate_comparison"
)

// MaxFailureCases bounds EvaluationRun.FailureCases.
const MaxFailureCases = 10

// Scores holds per-dimension values in [0,1]. A missing key means the dimension was not scored.
type Scores map[Dimension]float64

// Get returns the score for d and whether it was present.
func (s Scores) Get(d Dimension) (float64, bool) {
	v, ok := s[d]
	return v, ok
}

// JudgeDecoding records which decoder produced a judge result.
type JudgeDecoding string

const (
	JudgeDecodedStructured JudgeDecoding = "structured"
	JudgeDecodedFallback   JudgeDecoding = "fallback"
)

// JudgeResult is the uniform shape every judge reply is decoded into.
type JudgeResult struct {
	Scores    Scores        `json:"scores" msgpack:"scores"`
	Overall   *float64      `json:"overall,omitempty" msgpack:"overall"`
	Reasoning string        `json:"reasoning,omitempty" msgpack:"reasoning"`
	Raw       string        `json:"raw,omitempty" msgpack:"raw"`
	Decoded   JudgeDecoding `json:"decoded" msgpack:"decoded"`
	Cached    bool          `json:"cached,omitempty" msgpack:"-"`
}

// Clone returns a deep copy so cached values are never shared with callers.
func (r *JudgeResult) Clone() *JudgeResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Scores = make(Scores, len(r.Scores))
	for k, v := range r.Scores {
		c.Scores[k] = v
	}
	if r.Overall != nil {
		o := *r.Overall
		c.Overall = &o
	}
	return &c
}

// EntryResult is the outcome of evaluating one dataset entry. It is not modified after the run completes.
type EntryResult struct {
	EntryID        string         `json:"entry_id,omitempty"`
	Input          map[string]any `json:"input_data"`
	ExpectedOutput map[string]any `json:"expected_output,omitempty"`
	RawOutput      string         `json:"raw_output,omitempty"`
	ActualOutput   map[string]any `json:"actual_output,omitempty"`

	FormatStatus FormatStatus `json:"format_status"`
	FormatError  string       `json:"format_error,omitempty"`

	Scores        Scores   `json:"scores,omitempty"`
	Overall       *float64 `json:"overall_score,omitempty"`
	JudgeFeedback string   `json:"judge_feedback,omitempty"`
	JudgeCached   bool     `json:"judge_cached,omitempty"`
	JudgeError    string   `json:"judge_error,omitempty"`

	Passed        bool   `json:"passed"`
	FailureReason string `json:"failure_reason,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

// FailureCase echoes a failing entry back in the run summary.
type FailureCase struct {
	EntryID string         `json:"entry_id,omitempty"`
	Reason  string         `json:"reason"`
	Input   map[string]any `json:"input"`
}

// EvaluationRun is the result of evaluating one template version against a set of entries.
type EvaluationRun struct {
	ID              string      `json:"id"`
	TemplateID      string      `json:"template_id"`
	TemplateName    string      `json:"template_name"`
	TemplateVersion string      `json:"template_version"`
	DatasetID       string      `json:"dataset_id,omitempty"`
	RunType         RunType     `json:"evaluation_type"`
	JudgeModel      string      `json:"judge_model,omitempty"`
	Dimensions      []Dimension `json:"dimensions"`

	// Aggregates holds the mean per dimension over entries that scored it. Unscored dimensions are absent.
	Aggregates Scores   `json:"aggregates"`
	Overall    *float64 `json:"overall_score,omitempty"`

	Total               int     `json:"total_examples"`
	Passed              int     `json:"passed_examples"`
	Failed              int     `json:"failed_examples"`
	FormatPassRate      float64 `json:"format_pass_rate"`
	FormatNotApplicable int     `json:"format_not_applicable"`

	FailureCases []FailureCase `json:"failure_cases"`
	Results      []EntryResult `json:"results"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Cancelled   bool      `json:"cancelled,omitempty"`
}

// PrimaryScore is the single number the improvement loop compares runs by: the mean overall
// score when any entry was judged, otherwise the pass rate.
func (r *EvaluationRun) PrimaryScore() float64 {
	if r == nil {
		return 0
	}
	if r.Overall != nil {
		return *r.Overall
	}
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// Duration is the wall time of the run.
func (r *EvaluationRun) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// OverallByEntry maps entry IDs to their overall score, skipping entries without one.
func (r *EvaluationRun) OverallByEntry() map[string]float64 {
	out := make(map[string]float64, len(r.Results))
	for i, res := range r.Results {
		if res.Overall == nil {
			continue
		}
		key := res.EntryID
		if key == "" {
			key = indexKey(i)
		}
		out[key] = *res.Overall
	}
	return out
}

func indexKey(i int) string {
	return "#" + strconv.Itoa(i)
}
