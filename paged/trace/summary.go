package trace

// TraceSummary aggregates statistics from a CacheTrace.
type TraceSummary struct {
	AllocatedBlocks      int
	FreedBlocks          int
	Preemptions          int
	Exhaustions          int
	UniqueSequences      int
	ExhaustionsPerDevice map[string]int // device → count of failed steps
}

// Summarize computes aggregate statistics from a CacheTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(ct *CacheTrace) *TraceSummary {
	summary := &TraceSummary{
		ExhaustionsPerDevice: make(map[string]int),
	}
	if ct == nil {
		return summary
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()

	sequences := make(map[string]bool)
	for _, a := range ct.Allocations {
		summary.AllocatedBlocks += len(a.Blocks)
		sequences[a.SequenceID] = true
	}
	for _, r := range ct.Releases {
		summary.FreedBlocks += r.FreedBlocks
	}
	for _, p := range ct.Preemptions {
		summary.FreedBlocks += p.FreedBlocks
	}
	summary.Preemptions = len(ct.Preemptions)
	summary.Exhaustions = len(ct.Exhaustions)
	for _, e := range ct.Exhaustions {
		summary.ExhaustionsPerDevice[e.Device]++
	}
	summary.UniqueSequences = len(sequences)

	return summary
}
