// Package trace provides lifecycle-event recording for paged KV cache analysis.
// It has no dependency on paged/ and stores plain data types.
package trace

// AllocationRecord captures blocks appended to one shard's block table by a step.
type AllocationRecord struct {
	SequenceID string
	Device     string
	Step       int64
	Blocks     []int // newly appended block ids, in logical order
	Length     int   // sequence length after the step
}

// ReleaseRecord captures blocks returned to the free lists.
type ReleaseRecord struct {
	SequenceID  string
	Step        int64
	FreedBlocks int
	Reason      string // "release" or "truncate"
}

// PreemptionRecord captures a sequence evicted under memory pressure.
type PreemptionRecord struct {
	SequenceID  string
	Step        int64
	Length      int // length to recompute after resume
	FreedBlocks int
}

// ExhaustionRecord captures a step that failed with a full core.
type ExhaustionRecord struct {
	SequenceID string
	Step       int64
	Device     string
	Requested  int // tokens requested by the step
}
