package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/kendryte/nncase-sub001/paged"
)

// WorkloadConfig describes the synthetic request population. Prompt and
// output lengths are drawn from clamped Gaussians.
type WorkloadConfig struct {
	NumSequences int

	PromptTokens      int
	PromptTokensStdev int
	PromptTokensMin   int
	PromptTokensMax   int

	OutputTokens      int
	OutputTokensStdev int
	OutputTokensMin   int
	OutputTokensMax   int
}

// Validate checks that the length distributions are well formed.
func (w WorkloadConfig) Validate() error {
	switch {
	case w.NumSequences <= 0:
		return fmt.Errorf("workload: num_sequences must be > 0, got %d", w.NumSequences)
	case w.PromptTokensMin < 1 || w.PromptTokensMin > w.PromptTokensMax:
		return fmt.Errorf("workload: prompt token range [%d, %d] is invalid", w.PromptTokensMin, w.PromptTokensMax)
	case w.OutputTokensMin < 1 || w.OutputTokensMin > w.OutputTokensMax:
		return fmt.Errorf("workload: output token range [%d, %d] is invalid", w.OutputTokensMin, w.OutputTokensMax)
	case w.PromptTokensStdev < 0 || w.OutputTokensStdev < 0:
		return fmt.Errorf("workload: standard deviations must be >= 0")
	}
	return nil
}

// GenerateRequests draws cfg.NumSequences queued requests from rng. Shards
// are left empty for the shard policy to fill.
func GenerateRequests(cfg WorkloadConfig, rng *rand.Rand) []*Request {
	reqs := make([]*Request, cfg.NumSequences)
	for i := range reqs {
		reqs[i] = &Request{
			ID:           paged.SequenceID(fmt.Sprintf("seq_%d", i)),
			PromptTokens: generateLengthGauss(rng, cfg.PromptTokens, cfg.PromptTokensStdev, cfg.PromptTokensMin, cfg.PromptTokensMax),
			OutputTokens: generateLengthGauss(rng, cfg.OutputTokens, cfg.OutputTokensStdev, cfg.OutputTokensMin, cfg.OutputTokensMax),
			State:        StateQueued,
		}
	}
	return reqs
}

// generateLengthGauss samples a length from N(mean, std) clamped to [lo, hi].
func generateLengthGauss(rng *rand.Rand, mean, std, lo, hi int) int {
	if lo == hi {
		return lo
	}
	val := rng.NormFloat64()*float64(std) + float64(mean)
	val = math.Min(float64(hi), val)
	val = math.Max(float64(lo), val)
	return int(math.Round(val))
}
