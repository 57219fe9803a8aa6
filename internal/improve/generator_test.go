package improve

import (
	"context"
	"errors"
	"testing"

	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		limit     int
		wantBody  []string
		wantError bool
	}{
		{
			name:     "plain array",
			reply:    `[{"version":"1.1.0","template_text":"A {text}","rationale":"r"},{"template_text":"B {text}"}]`,
			limit:    3,
			wantBody: []string{"A {text}", "B {text}"},
		},
		{
			name:     "fenced array",
			reply:    "Here you go:\n\n```json\n[{\"template_text\": \"A {text}\"}]\n```\n",
			limit:    3,
			wantBody: []string{"A {text}"},
		},
		{
			name:     "single object",
			reply:    `{"template_text":"Only {text}"}`,
			limit:    3,
			wantBody: []string{"Only {text}"},
		},
		{
			name:     "prose around unfenced array",
			reply:    `Sure! [{"template_text":"A"}] Hope that helps.`,
			limit:    3,
			wantBody: []string{"A"},
		},
		{
			name:     "empty bodies dropped and capped",
			reply:    `[{"template_text":"  "},{"template_text":"A"},{"template_text":"B"},{"template_text":"C"}]`,
			limit:    2,
			wantBody: []string{"A", "B"},
		},
		{
			name:     "numeric version and scalar failures",
			reply:    `[{"version":2,"template_text":"A","addressed_failures":"format"}]`,
			limit:    3,
			wantBody: []string{"A"},
		},
		{
			name:      "not json",
			reply:     "I cannot help with that.",
			limit:     3,
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCandidates(tt.reply, tt.limit)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var bodies []string
			for _, c := range got {
				bodies = append(bodies, c.Body)
				assert.Equal(t, models.CandidateGenerated, c.Source)
			}
			assert.Equal(t, tt.wantBody, bodies)
		})
	}
}

func TestParseCandidates_ScalarFailuresBecomeList(t *testing.T) {
	got, err := ParseCandidates(`[{"template_text":"A","addressed_failures":"format"}]`, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"format"}, got[0].AddressedFailures)
}

func TestFallbacks(t *testing.T) {
	all := Fallbacks("Classify: {text}", 3)
	require.Len(t, all, 3)
	assert.Equal(t, "Classify: {text}\n\nPlease ensure your response is accurate, well-formatted, and complete.", all[0].Body)
	assert.Equal(t, "Classify: {text}\n\nExample:\nInput: [example input]\nOutput: [example output]", all[1].Body)
	assert.Equal(t, "Think step by step.\n\nClassify: {text}\n\nProvide your answer after careful consideration.", all[2].Body)
	assert.Equal(t, []string{"correctness", "consistency"}, all[2].AddressedFailures)
	for _, c := range all {
		assert.Equal(t, models.CandidateFallback, c.Source)
	}

	assert.Len(t, Fallbacks("x", 1), 1)
	assert.Len(t, Fallbacks("x", 10), 3)
}

func TestLLMGenerator_UsesModelAndTemperature(t *testing.T) {
	backend := execution.NewStaticMockBackend(`[{"template_text":"Better {text}","rationale":"clearer"}]`)
	g := NewGenerator(backend, "gpt-4o-mini")

	got := g.Propose(context.Background(), Proposal{
		Baseline: &models.Template{Name: "s", Version: "1.0.0", Body: "Classify: {text}"},
		Analysis: "Failure Cases:\n1. wrong label",
		Max:      3,
		Model:    "gpt-4o",
	})

	require.Len(t, got, 1)
	assert.Equal(t, "Better {text}", got[0].Body)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o", calls[0].Model)
	assert.Equal(t, GenerationTemperature, calls[0].Temperature)
	assert.Contains(t, calls[0].Prompt, "BASELINE PROMPT:\nClassify: {text}")
	assert.Contains(t, calls[0].Prompt, "1. wrong label")
	assert.Contains(t, calls[0].Prompt, "Generate 3 improved versions")
}

func TestLLMGenerator_FallsBack(t *testing.T) {
	baseline := &models.Template{Name: "s", Version: "1.0.0", Body: "Classify: {text}"}
	tests := []struct {
		name    string
		backend execution.GenerationBackend
	}{
		{"backend error", execution.BackendFunc(func(context.Context, execution.Request) (string, error) {
			return "", errors.New("rate limited")
		})},
		{"unparsable reply", execution.NewStaticMockBackend("no json here")},
		{"empty array", execution.NewStaticMockBackend("[]")},
		{"only empty bodies", execution.NewStaticMockBackend(`[{"template_text":""}]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewGenerator(tt.backend, "m").Propose(context.Background(), Proposal{Baseline: baseline, Max: 2})
			require.Len(t, got, 2)
			for _, c := range got {
				assert.Equal(t, models.CandidateFallback, c.Source)
			}
		})
	}
}
