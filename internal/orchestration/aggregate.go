package orchestration

import (
	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
)

// aggregate fills the run's counts, means and failure cases from the evaluated entries.
func aggregate(run *models.EvaluationRun, results []models.EntryResult) {
	run.Results = results
	run.Total = len(results)
	run.Aggregates = models.Scores{}
	run.FailureCases = []models.FailureCase{}

	formatOK := 0
	for _, r := range results {
		if r.Passed {
			run.Passed++
		} else {
			run.Failed++
			if len(run.FailureCases) < models.MaxFailureCases {
				run.FailureCases = append(run.FailureCases, models.FailureCase{
					EntryID: r.EntryID,
					Reason:  r.FailureReason,
					Input:   r.Input,
				})
			}
		}
		if r.FormatStatus != models.FormatFail {
			formatOK++
		}
		if r.FormatStatus == models.FormatNotApplicable {
			run.FormatNotApplicable++
		}
	}
	if run.Total > 0 {
		run.FormatPassRate = float64(formatOK) / float64(run.Total)
	}

	for _, d := range run.Dimensions {
		mean, ok := metrics.MeanOf(results, func(r models.EntryResult) (float64, bool) {
			return r.Scores.Get(d)
		})
		if ok {
			run.Aggregates[d] = mean
		}
	}
	if mean, ok := metrics.MeanOf(results, func(r models.EntryResult) (float64, bool) {
		if r.Overall == nil {
			return 0, false
		}
		return *r.Overall, true
	}); ok {
		run.Overall = &mean
	}
}
