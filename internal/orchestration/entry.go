package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spboyer/promptloop/internal/judge"
	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/validation"
)

const (
	reasonFormatFailed     = "Format validation failed"
	reasonNoEvidence       = "No output contract and no judge scores"
	reasonEvaluationFailed = "Evaluation failed"
)

// evaluateEntry executes, validates, judges and decides one entry. Only fatal errors are
// returned; everything else lands on the result.
func (e *Evaluator) evaluateEntry(ctx context.Context, tmpl *models.Template, entry models.DatasetEntry) (models.EntryResult, error) {
	start := time.Now()
	res := models.EntryResult{
		EntryID:        entry.ID,
		Input:          entry.Input,
		ExpectedOutput: entry.ExpectedOutput,
	}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
		outcome := "passed"
		if !res.Passed {
			outcome = "failed"
		}
		metrics.EntriesEvaluated.WithLabelValues(outcome).Inc()
	}()

	out, err := e.exec.Execute(ctx, tmpl, entry.Input)
	if err != nil {
		slog.Debug("Entry execution failed", "template", tmpl.Ref(), "entry", entry.ID, "error", err)
		res.FormatStatus = models.FormatFail
		res.FailureReason = "Execution failed: " + err.Error()
		return res, nil
	}
	res.RawOutput = out.Raw
	res.ActualOutput = out.Output

	format := validation.Check(out.Output, tmpl.OutputSchema)
	res.FormatStatus = format.Status
	res.FormatError = format.Error

	var verdict *models.JudgeResult
	if e.judge != nil && models.NeedsJudge(e.dimensions) {
		verdict, err = e.judge.Evaluate(ctx, judge.Request{
			Input:      entry.Input,
			Actual:     out.Output,
			Expected:   entry.ExpectedOutput,
			Rubric:     entry.Rubric,
			Dimensions: e.dimensions,
		})
		if err != nil {
			if isFatal(err) {
				return res, err
			}
			msg := "Judge failed, continuing with format results"
			if unavailable(err) {
				msg = "Judge unavailable, continuing with format results"
			}
			slog.Warn(msg, "template", tmpl.Ref(), "entry", entry.ID, "error", err)
			res.JudgeError = err.Error()
			verdict = nil
		}
	}

	res.Scores = models.Scores{}
	if verdict != nil {
		for d, v := range verdict.Scores {
			res.Scores[d] = v
		}
		res.Overall = verdict.Overall
		res.JudgeFeedback = verdict.Reasoning
		res.JudgeCached = verdict.Cached
	}
	if models.ContainsDimension(e.dimensions, models.DimFormat) {
		switch format.Status {
		case models.FormatPass:
			res.Scores[models.DimFormat] = 1
		case models.FormatFail:
			res.Scores[models.DimFormat] = 0
		default:
			delete(res.Scores, models.DimFormat)
		}
	}

	res.Passed, res.FailureReason = e.decide(res)
	return res, nil
}

// decide applies the pass rule and picks the first applicable failure reason.
func (e *Evaluator) decide(res models.EntryResult) (bool, string) {
	judged := res.Overall != nil

	var passed bool
	if judged {
		passed = res.FormatStatus != models.FormatFail && *res.Overall >= e.passThreshold
	} else {
		passed = res.FormatStatus == models.FormatPass ||
			(res.FormatStatus == models.FormatNotApplicable && !e.strictFormat)
	}
	if passed {
		return true, ""
	}

	switch {
	case res.FormatStatus == models.FormatFail:
		if res.FormatError != "" {
			return false, res.FormatError
		}
		return false, reasonFormatFailed
	case judged && *res.Overall < e.passThreshold:
		return false, fmt.Sprintf("Low overall score: %s (threshold: %.0f%%)", formatPercent(*res.Overall), e.passThreshold*100)
	case !judged && res.FormatStatus == models.FormatNotApplicable && e.strictFormat:
		return false, reasonNoEvidence
	default:
		return false, reasonEvaluationFailed
	}
}

// unavailable reports whether err came from an unreachable judge.
func unavailable(err error) bool {
	var u *judge.UnavailableError
	return errors.As(err, &u)
}
