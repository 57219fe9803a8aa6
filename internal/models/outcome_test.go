package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidatesEvaluated(t *testing.T) {
	o := &ImprovementOutcome{Candidates: []CandidateResult{
		{Version: "1.1.0", RunID: "r1"},
		{Version: "1.1.1", Error: "version conflict"},
		{Version: "1.1.2", RunID: "r3", Error: "evaluation failed"},
	}}
	require.Equal(t, 1, o.CandidatesEvaluated())
}
