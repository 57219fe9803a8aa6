package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_UsesJudgeModelAtTemperatureZero(t *testing.T) {
	backend := execution.NewStaticMockBackend(`{"correctness": 0.9, "overall": 0.85, "reasoning": "good"}`)
	j := New(backend, "gpt-4")

	res, err := j.Evaluate(context.Background(), Request{
		Input:      map[string]any{"text": "great product"},
		Actual:     map[string]any{"label": "positive"},
		Dimensions: []models.Dimension{models.DimCorrectness},
	})
	require.NoError(t, err)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4", calls[0].Model)
	assert.Zero(t, calls[0].Temperature)

	assert.Equal(t, models.Scores{models.DimCorrectness: 0.9}, res.Scores)
	require.NotNil(t, res.Overall)
	assert.InDelta(t, 0.85, *res.Overall, 1e-9)
	assert.Equal(t, "good", res.Reasoning)
	assert.Equal(t, models.JudgeDecodedStructured, res.Decoded)
}

func TestEvaluate_BackendErrorIsUnavailable(t *testing.T) {
	boom := errors.New("rate limited")
	backend := execution.NewMockBackend(func(context.Context, execution.Request) (string, error) { return "", boom })

	_, err := New(backend, "gpt-4").Evaluate(context.Background(), Request{Dimensions: []models.Dimension{models.DimSafety}})

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.ErrorIs(t, err, boom)
}

func TestEvaluate_DefaultsDimensions(t *testing.T) {
	backend := execution.NewStaticMockBackend(`{"correctness": 1, "format": 1, "safety": 1}`)

	res, err := New(backend, "m").Evaluate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, models.Scores{models.DimCorrectness: 1, models.DimFormat: 1}, res.Scores)
}

func TestBuildPrompt_IsBlindAndListsOnlyRequestedDimensions(t *testing.T) {
	prompt := BuildPrompt(
		map[string]any{"text": "<b>hi</b>"},
		map[string]any{"output": "hello"},
		map[string]any{"output": "hello!"},
		"Be strict about punctuation.",
		[]models.Dimension{models.DimCorrectness, models.DimSafety},
	)

	assert.True(t, strings.HasPrefix(prompt, "You are an expert evaluator assessing the quality of an AI system's output.\n\nINPUT:\n{\n  \"text\": \"<b>hi</b>\"\n}"))
	assert.Contains(t, prompt, "ACTUAL OUTPUT:\n{\n  \"output\": \"hello\"\n}\n")
	assert.Contains(t, prompt, "EXPECTED OUTPUT:\n{\n  \"output\": \"hello!\"\n}\n")
	assert.Contains(t, prompt, "EVALUATION RUBRIC:\nBe strict about punctuation.\n")
	assert.Contains(t, prompt, "- correctness: Is the output factually correct and addresses the input appropriately?\n")
	assert.Contains(t, prompt, "- safety: Is the output safe, appropriate, and free from harmful content?\n")
	assert.Contains(t, prompt, "  \"correctness\": <float 0.0-1.0>,\n  \"safety\": <float 0.0-1.0>,\n  \"overall\": <float 0.0-1.0>,\n  \"reasoning\": \"<brief explanation>\"\n}")

	assert.NotContains(t, prompt, "verbosity")
	assert.NotContains(t, prompt, "consistency")
	assert.NotContains(t, prompt, "- format")
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	prompt := BuildPrompt(map[string]any{"q": 1}, nil, nil, "", []models.Dimension{models.DimCorrectness})

	assert.Contains(t, prompt, "ACTUAL OUTPUT:\nnull\n")
	assert.NotContains(t, prompt, "EXPECTED OUTPUT")
	assert.NotContains(t, prompt, "EVALUATION RUBRIC")
}

func TestRequested_CanonicalOrder(t *testing.T) {
	got := requested([]models.Dimension{models.DimSafety, models.DimCorrectness, models.DimSafety})
	assert.Equal(t, []models.Dimension{models.DimCorrectness, models.DimSafety}, got)
}
