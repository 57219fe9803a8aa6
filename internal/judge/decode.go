package judge

import (
	"encoding/json"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spboyer/promptloop/internal/metrics"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/utils"
)

// scoreReply is the structured judge reply. Pointers distinguish a missing score from 0.
type scoreReply struct {
	Correctness *float64 `mapstructure:"correctness"`
	Format      *float64 `mapstructure:"format"`
	Verbosity   *float64 `mapstructure:"verbosity"`
	Safety      *float64 `mapstructure:"safety"`
	Consistency *float64 `mapstructure:"consistency"`
	Overall     *float64 `mapstructure:"overall"`
	Reasoning   string   `mapstructure:"reasoning"`
}

func (r *scoreReply) byDimension() map[models.Dimension]*float64 {
	return map[models.Dimension]*float64{
		models.DimCorrectness: r.Correctness,
		models.DimFormat:      r.Format,
		models.DimVerbosity:   r.Verbosity,
		models.DimSafety:      r.Safety,
		models.DimConsistency: r.Consistency,
	}
}

// Decode turns a judge reply into a result, trying the structured form first and falling back
// to best-effort text matching.
func Decode(raw string, dims []models.Dimension) *models.JudgeResult {
	if res, ok := decodeStructured(raw, dims); ok {
		return res
	}
	return decodeFallback(raw, dims)
}

func decodeStructured(raw string, dims []models.Dimension) (*models.JudgeResult, bool) {
	body := strings.TrimSpace(raw)
	if strings.Contains(body, "```") {
		body = utils.ExtractFencedBlock(body, "json")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, false
	}

	var reply scoreReply
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &reply,
	})
	if err != nil {
		return nil, false
	}
	if err := dec.Decode(obj); err != nil {
		return nil, false
	}

	res := &models.JudgeResult{
		Scores:    models.Scores{},
		Reasoning: reply.Reasoning,
		Raw:       raw,
		Decoded:   models.JudgeDecodedStructured,
	}

	byDim := reply.byDimension()
	var present []float64
	for _, d := range dims {
		if v := byDim[d]; v != nil {
			score := metrics.Clamp01(*v)
			res.Scores[d] = score
			present = append(present, score)
		}
	}

	switch {
	case reply.Overall != nil:
		o := metrics.Clamp01(*reply.Overall)
		res.Overall = &o
	case len(present) > 0:
		o := metrics.Mean(present)
		res.Overall = &o
	}

	return res, true
}
