package sim

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kendryte/nncase-sub001/paged"
)

// newTestCache builds a cache on cores cores with 4-token blocks and one
// 64-wide head per core.
func newTestCache(t *testing.T, cores, blocksPerCore int, metadataOnly bool) *paged.KVCache {
	t.Helper()
	topo, err := paged.UniformTopology(1, 1, cores)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := paged.NewKVCache(topo, paged.CacheConfig{
		Layers: 1, NumKVHeads: 1, HeadDim: 64, BlockSize: 4, BlocksPerCore: blocksPerCore, MetadataOnly: metadataOnly,
	}, paged.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// fixedWorkload returns n requests with exact prompt and output lengths.
func fixedWorkload(n, prompt, output int) WorkloadConfig {
	return WorkloadConfig{
		NumSequences: n,
		PromptTokens: prompt, PromptTokensMin: prompt, PromptTokensMax: prompt,
		OutputTokens: output, OutputTokensMin: output, OutputTokensMax: output,
	}
}
