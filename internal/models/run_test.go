package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestPrimaryScore(t *testing.T) {
	require.Equal(t, 0.0, (*EvaluationRun)(nil).PrimaryScore())
	require.Equal(t, 0.0, (&EvaluationRun{}).PrimaryScore())
	require.Equal(t, 0.65, (&EvaluationRun{Overall: ptr(0.65), Total: 4, Passed: 4}).PrimaryScore())
	require.Equal(t, 0.75, (&EvaluationRun{Total: 4, Passed: 3}).PrimaryScore())
}

func TestOverallByEntry(t *testing.T) {
	run := &EvaluationRun{Results: []EntryResult{
		{EntryID: "a", Overall: ptr(0.5)},
		{EntryID: "b"},
		{Overall: ptr(0.9)},
	}}
	require.Equal(t, map[string]float64{"a": 0.5, "#2": 0.9}, run.OverallByEntry())
}

func TestJudgeResultClone(t *testing.T) {
	orig := &JudgeResult{Scores: Scores{DimCorrectness: 0.8}, Overall: ptr(0.7), Cached: true}
	c := orig.Clone()
	c.Scores[DimCorrectness] = 0.1
	*c.Overall = 0.2

	require.Equal(t, 0.8, orig.Scores[DimCorrectness])
	require.Equal(t, 0.7, *orig.Overall)
	require.Nil(t, (*JudgeResult)(nil).Clone())
}
