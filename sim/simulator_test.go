package sim

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendryte/nncase-sub001/paged"
)

func TestSimulator_RunsWorkloadToCompletion(t *testing.T) {
	// GIVEN a roomy two-core cache with verification on
	c := newTestCache(t, 2, 16, false)
	s, err := NewSimulator(c, Config{
		Seed: 42,
		Workload: WorkloadConfig{
			NumSequences: 6,
			PromptTokens: 6, PromptTokensStdev: 2, PromptTokensMin: 3, PromptTokensMax: 9,
			OutputTokens: 4, OutputTokensStdev: 2, OutputTokensMin: 1, OutputTokensMax: 6,
		},
		ShardPolicy: "all",
		Workers:     4,
		Verify:      true,
	})
	require.NoError(t, err)

	// WHEN run
	require.NoError(t, s.Run(context.Background()))

	// THEN every request completes, history verified and all blocks returned
	assert.Equal(t, 6, s.Metrics.CompletedSequences)
	for _, r := range s.Requests() {
		assert.Equal(t, StateCompleted, r.State, r.String())
		assert.Equal(t, r.OutputTokens, r.Generated)
	}
	assert.Positive(t, s.Metrics.TokensVerified)
	for _, u := range c.Usage() {
		assert.Zero(t, u.Used)
	}
	assert.Empty(t, c.Sequences())
	require.NoError(t, c.CheckInvariants())
}

func TestSimulator_PreemptsMostRecentlyAdmitted(t *testing.T) {
	// GIVEN 4 blocks per core and 4 sequences that each peak at 3 blocks
	c := newTestCache(t, 2, 4, false)
	s, err := NewSimulator(c, Config{Seed: 1, Workload: fixedWorkload(4, 4, 9), ShardPolicy: "all", Verify: true})
	require.NoError(t, err)

	// WHEN the first step admits all four (one block each)
	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, 4, s.running.Len())

	// AND the second step's decodes cross a block boundary
	require.NoError(t, s.Step(context.Background()))

	// THEN seq_0 and seq_1 grew by evicting seq_3 then seq_2, which wait in that order
	reqs := s.Requests()
	assert.Equal(t, StateRunning, reqs[0].State)
	assert.Equal(t, StateRunning, reqs[1].State)
	assert.Equal(t, StateQueued, reqs[2].State)
	assert.Equal(t, StateQueued, reqs[3].State)
	assert.Equal(t, reqs[2], s.waitQ.Head())
	assert.Equal(t, 2, s.Metrics.Preemptions)
	seq3, ok := c.Sequence("seq_3")
	require.True(t, ok)
	assert.Equal(t, paged.StatePreempted, seq3.State())

	// AND the run still completes with recomputation and intact history
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 4, s.Metrics.CompletedSequences)
	assert.Positive(t, s.Metrics.RecomputedTokens)
	assert.GreaterOrEqual(t, s.Metrics.ExhaustedSteps, s.Metrics.Preemptions)
}

func TestSimulator_DropsSequencesThatCannotFit(t *testing.T) {
	// GIVEN 16 tokens per core and sequences needing 40
	c := newTestCache(t, 1, 4, true)
	s, err := NewSimulator(c, Config{Workload: fixedWorkload(3, 30, 11)})
	require.NoError(t, err)

	// WHEN run
	require.NoError(t, s.Run(context.Background()))

	// THEN every sequence is dropped and nothing is left in the cache
	assert.Equal(t, 3, s.Metrics.DroppedSequences)
	assert.Zero(t, s.Metrics.CompletedSequences)
	assert.Empty(t, c.Sequences())

	// AND they were turned away before reaching the cache at all
	for _, r := range s.Requests() {
		assert.Equal(t, StateDropped, r.State)
		assert.False(t, r.Admitted, string(r.ID))
	}
	assert.Zero(t, c.Steps())
}

func TestSimulator_RoundRobinPlacesOneCorePerSequence(t *testing.T) {
	c := newTestCache(t, 2, 8, true)
	s, err := NewSimulator(c, Config{Workload: fixedWorkload(4, 4, 2), ShardPolicy: "round-robin"})
	require.NoError(t, err)

	topo := c.Topology()
	for i, r := range s.Requests() {
		assert.Equal(t, []paged.DeviceID{topo.Device(i % 2)}, r.Shards)
	}
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 4, s.Metrics.CompletedSequences)
}

func TestSimulator_MaxRunningLimitsBatch(t *testing.T) {
	c := newTestCache(t, 1, 32, true)
	s, err := NewSimulator(c, Config{Workload: fixedWorkload(5, 4, 3), MaxRunning: 2})
	require.NoError(t, err)

	for s.waitQ.Len() > 0 || s.running.Len() > 0 {
		require.NoError(t, s.Step(context.Background()))
		assert.LessOrEqual(t, s.running.Len(), 2)
	}
	assert.Equal(t, 5, s.Metrics.CompletedSequences)
}

func TestSimulator_MaxStepsStopsEarly(t *testing.T) {
	c := newTestCache(t, 1, 32, true)
	s, err := NewSimulator(c, Config{Workload: fixedWorkload(2, 4, 50), MaxSteps: 3})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int64(3), s.Metrics.Steps)
	assert.Zero(t, s.Metrics.CompletedSequences)
}

func TestSimulator_SameSeedSameMetrics(t *testing.T) {
	run := func() *Metrics {
		c := newTestCache(t, 2, 6, true)
		s, err := NewSimulator(c, Config{
			Seed: 99,
			Workload: WorkloadConfig{
				NumSequences: 12,
				PromptTokens: 8, PromptTokensStdev: 4, PromptTokensMin: 1, PromptTokensMax: 16,
				OutputTokens: 6, OutputTokensStdev: 3, OutputTokensMin: 1, OutputTokensMax: 8,
			},
			ShardPolicy: "random",
		})
		require.NoError(t, err)
		require.NoError(t, s.Run(context.Background()))
		return s.Metrics
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("metrics differ between identical runs (-first +second):\n%s", diff)
	}
}

func TestNewSimulator_RejectsBadConfig(t *testing.T) {
	meta := newTestCache(t, 1, 4, true)

	_, err := NewSimulator(meta, Config{Workload: fixedWorkload(1, 4, 2), Verify: true})
	assert.Error(t, err, "verify needs storage")

	_, err = NewSimulator(meta, Config{Workload: fixedWorkload(1, 4, 2), ShardPolicy: "tensor"})
	assert.Error(t, err)

	_, err = NewSimulator(meta, Config{Workload: fixedWorkload(0, 4, 2)})
	assert.Error(t, err)
}

func TestSimulator_CancelledContext(t *testing.T) {
	c := newTestCache(t, 1, 8, true)
	s, err := NewSimulator(c, Config{Workload: fixedWorkload(2, 4, 2)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}
