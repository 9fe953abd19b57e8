package trace

import "sync"

// TraceLevel controls the verbosity of cache lifecycle tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures allocation, release, preemption and exhaustion events.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// Enabled reports whether events should be recorded.
func (c TraceConfig) Enabled() bool {
	return c.Level == TraceLevelEvents
}

// CacheTrace collects lifecycle records during a cache session.
// Recording is safe from concurrent goroutines; read the record slices only
// once recording has finished.
type CacheTrace struct {
	mu          sync.Mutex
	Config      TraceConfig
	Allocations []AllocationRecord
	Releases    []ReleaseRecord
	Preemptions []PreemptionRecord
	Exhaustions []ExhaustionRecord
}

// NewCacheTrace creates a CacheTrace ready for recording.
func NewCacheTrace(config TraceConfig) *CacheTrace {
	return &CacheTrace{
		Config:      config,
		Allocations: make([]AllocationRecord, 0),
		Releases:    make([]ReleaseRecord, 0),
		Preemptions: make([]PreemptionRecord, 0),
		Exhaustions: make([]ExhaustionRecord, 0),
	}
}

// RecordAllocation appends an allocation record.
func (ct *CacheTrace) RecordAllocation(record AllocationRecord) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Allocations = append(ct.Allocations, record)
}

// RecordRelease appends a release record.
func (ct *CacheTrace) RecordRelease(record ReleaseRecord) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Releases = append(ct.Releases, record)
}

// RecordPreemption appends a preemption record.
func (ct *CacheTrace) RecordPreemption(record PreemptionRecord) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Preemptions = append(ct.Preemptions, record)
}

// RecordExhaustion appends an exhaustion record.
func (ct *CacheTrace) RecordExhaustion(record ExhaustionRecord) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Exhaustions = append(ct.Exhaustions, record)
}
