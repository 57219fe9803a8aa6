package judge

import (
	"regexp"
	"strconv"

	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
)

// fallbackDefault is assigned to any score the text does not mention.
const fallbackDefault = 0.5

var fallbackPatterns = func() map[string]*regexp.Regexp {
	out := map[string]*regexp.Regexp{}
	for _, d := range models.AllDimensions {
		out[string(d)] = scorePattern(string(d))
	}
	out[models.OverallKey] = scorePattern(models.OverallKey)
	return out
}()

func scorePattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name) + `['\s:]*(\d+\.?\d*)`)
}

// decodeFallback pulls "<name>: <number>" pairs out of free text. Every requested dimension and
// overall get a score; unmatched ones get fallbackDefault. The whole reply becomes the reasoning.
func decodeFallback(raw string, dims []models.Dimension) *models.JudgeResult {
	res := &models.JudgeResult{
		Scores:    models.Scores{},
		Reasoning: raw,
		Raw:       raw,
		Decoded:   models.JudgeDecodedFallback,
	}

	for _, d := range dims {
		res.Scores[d] = matchScore(raw, string(d))
	}
	overall := matchScore(raw, models.OverallKey)
	res.Overall = &overall

	return res
}

func matchScore(text, name string) float64 {
	m := fallbackPatterns[name].FindStringSubmatch(text)
	if m == nil {
		return fallbackDefault
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fallbackDefault
	}
	return metrics.Clamp01(v)
}
