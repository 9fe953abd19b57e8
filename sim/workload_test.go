package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequests_LengthsWithinBounds(t *testing.T) {
	// GIVEN a Gaussian workload
	cfg := WorkloadConfig{
		NumSequences: 200,
		PromptTokens: 64, PromptTokensStdev: 32, PromptTokensMin: 8, PromptTokensMax: 100,
		OutputTokens: 16, OutputTokensStdev: 8, OutputTokensMin: 1, OutputTokensMax: 32,
	}
	require.NoError(t, cfg.Validate())

	// WHEN requests are generated
	reqs := GenerateRequests(cfg, rand.New(rand.NewSource(42)))

	// THEN every length is clamped and every request starts queued
	require.Len(t, reqs, 200)
	ids := make(map[string]bool)
	for _, r := range reqs {
		assert.GreaterOrEqual(t, r.PromptTokens, 8)
		assert.LessOrEqual(t, r.PromptTokens, 100)
		assert.GreaterOrEqual(t, r.OutputTokens, 1)
		assert.LessOrEqual(t, r.OutputTokens, 32)
		assert.Equal(t, StateQueued, r.State)
		ids[string(r.ID)] = true
	}
	assert.Len(t, ids, 200, "request ids must be unique")
}

func TestGenerateRequests_SameSeedSameWorkload(t *testing.T) {
	cfg := WorkloadConfig{
		NumSequences: 20,
		PromptTokens: 64, PromptTokensStdev: 32, PromptTokensMin: 1, PromptTokensMax: 128,
		OutputTokens: 16, OutputTokensStdev: 8, OutputTokensMin: 1, OutputTokensMax: 32,
	}
	a := GenerateRequests(cfg, rand.New(rand.NewSource(7)))
	b := GenerateRequests(cfg, rand.New(rand.NewSource(7)))
	for i := range a {
		assert.Equal(t, a[i].PromptTokens, b[i].PromptTokens)
		assert.Equal(t, a[i].OutputTokens, b[i].OutputTokens)
	}
}

func TestWorkloadConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkloadConfig)
	}{
		{"no sequences", func(w *WorkloadConfig) { w.NumSequences = 0 }},
		{"zero prompt min", func(w *WorkloadConfig) { w.PromptTokensMin = 0 }},
		{"prompt min above max", func(w *WorkloadConfig) { w.PromptTokensMin = 9 }},
		{"zero output min", func(w *WorkloadConfig) { w.OutputTokensMin = 0 }},
		{"negative stdev", func(w *WorkloadConfig) { w.OutputTokensStdev = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := fixedWorkload(3, 8, 4)
			tc.mutate(&w)
			assert.Error(t, w.Validate())
		})
	}
	assert.NoError(t, fixedWorkload(3, 8, 4).Validate())
}

func TestRequest_TokenAccounting(t *testing.T) {
	r := &Request{PromptTokens: 10, OutputTokens: 5}
	assert.Equal(t, 10, r.CachedTokens())
	assert.Equal(t, 14, r.PeakTokens())

	r.Generated = 3
	assert.Equal(t, 12, r.CachedTokens())
	assert.False(t, r.Done())

	r.Generated = 5
	assert.True(t, r.Done())
}
