package sim

import (
	"hash/fnv"
	"math/rand"
)

// Random stream names.
const (
	StreamWorkload = "workload" // prompt and output lengths
	StreamSharding = "sharding" // core choice under the random shard policy
)

// Seeds hands out one reproducible random stream per simulator concern, so
// a run is fully determined by its seed and extra draws in one stream never
// shift another. The workload stream is seeded with the run seed itself; any
// other stream with seed ^ fnv1a64(name).
//
// Not safe for concurrent use. The simulator draws from one goroutine.
type Seeds struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewSeeds creates the streams of a run seeded with seed.
func NewSeeds(seed int64) *Seeds {
	return &Seeds{seed: seed, streams: make(map[string]*rand.Rand)}
}

// Stream returns the stream called name, creating it on first use. Repeated
// calls share one *rand.Rand.
func (s *Seeds) Stream(name string) *rand.Rand {
	r, ok := s.streams[name]
	if !ok {
		r = rand.New(rand.NewSource(streamSeed(s.seed, name)))
		s.streams[name] = r
	}
	return r
}

func streamSeed(seed int64, name string) int64 {
	if name == StreamWorkload {
		return seed
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return seed ^ int64(h.Sum64())
}
