// Package statistics computes informational significance figures for the improvement report.
package statistics

import (
	"math"
	"math/rand"
	"sort"

	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
)

// DefaultBootstrapIterations is the number of bootstrap resamples.
const DefaultBootstrapIterations = 10000

// DefaultConfidenceLevel is used for the promotion report.
const DefaultConfidenceLevel = 0.95

// BootstrapCI computes a percentile bootstrap interval of the mean of values.
// A negative seed uses a non-deterministic source. Fewer than 2 values give a degenerate
// interval with zero resamples.
func BootstrapCI(values []float64, confidenceLevel float64, seed int64) models.ConfidenceInterval {
	n := len(values)
	m := metrics.Mean(values)
	if n < 2 {
		return models.ConfidenceInterval{Lower: m, Upper: m, Mean: m, Level: confidenceLevel, Samples: n}
	}

	var rng *rand.Rand
	if seed >= 0 {
		rng = rand.New(rand.NewSource(seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	iters := DefaultBootstrapIterations
	bootMeans := make([]float64, iters)
	sample := make([]float64, n)
	for i := 0; i < iters; i++ {
		for j := 0; j < n; j++ {
			sample[j] = values[rng.Intn(n)]
		}
		bootMeans[i] = metrics.Mean(sample)
	}
	sort.Float64s(bootMeans)

	alpha := 1.0 - confidenceLevel
	loIdx := int(math.Floor(alpha / 2.0 * float64(iters)))
	hiIdx := int(math.Floor((1.0 - alpha/2.0) * float64(iters)))
	if hiIdx >= iters {
		hiIdx = iters - 1
	}

	ci := models.ConfidenceInterval{
		Lower:   bootMeans[loIdx],
		Upper:   bootMeans[hiIdx],
		Mean:    m,
		Level:   confidenceLevel,
		Samples: n,
	}
	ci.Significant = IsSignificant(ci)
	return ci
}

// PairedDeltaCI bootstraps the mean of candidate-minus-baseline scores over the entries both
// runs scored. ok is false when fewer than 2 entries are shared.
func PairedDeltaCI(baseline, candidate map[string]float64, confidenceLevel float64, seed int64) (models.ConfidenceInterval, bool) {
	keys := make([]string, 0, len(baseline))
	for k := range baseline {
		if _, shared := candidate[k]; shared {
			keys = append(keys, k)
		}
	}
	if len(keys) < 2 {
		return models.ConfidenceInterval{}, false
	}
	sort.Strings(keys)

	deltas := make([]float64, len(keys))
	for i, k := range keys {
		deltas[i] = candidate[k] - baseline[k]
	}
	return BootstrapCI(deltas, confidenceLevel, seed), true
}

// IsSignificant returns true if the confidence interval does not contain zero.
func IsSignificant(ci models.ConfidenceInterval) bool {
	return ci.Lower > 0 || ci.Upper < 0
}

// NormalizedGain computes Hake's normalized gain:
//
//	g = (post - pre) / (1 - pre)
//
// Returns 0 if pre >= 1.0 or pre == post, and 1.0 if post >= 1.0.
func NormalizedGain(pre, post float64) float64 {
	if pre >= 1.0 {
		return 0.0
	}
	if post >= 1.0 {
		return 1.0
	}
	if math.Abs(post-pre) < 1e-12 {
		return 0.0
	}
	return (post - pre) / (1.0 - pre)
}
