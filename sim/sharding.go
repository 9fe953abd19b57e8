package sim

import (
	"fmt"
	"math/rand"

	"github.com/kendryte/nncase-sub001/paged"
)

// ValidShardPolicies is the set of recognized shard policy names.
var ValidShardPolicies = map[string]bool{"": true, "all": true, "round-robin": true, "random": true}

// IsValidShardPolicy reports whether name is a recognized shard policy.
func IsValidShardPolicy(name string) bool {
	return ValidShardPolicies[name]
}

// ShardPolicy decides which cores hold a sequence's KV heads. The decision
// is made once, before admission.
type ShardPolicy interface {
	Assign(req *Request, topology *paged.Topology) []paged.DeviceID
}

// AllCores shards every sequence across every core (head parallelism).
type AllCores struct{}

// Assign implements ShardPolicy for AllCores.
func (AllCores) Assign(_ *Request, topology *paged.Topology) []paged.DeviceID {
	return topology.Devices()
}

// RoundRobinCore places each sequence on a single core, cycling through the
// topology in DeviceID order.
type RoundRobinCore struct {
	counter int
}

// Assign implements ShardPolicy for RoundRobinCore.
func (rr *RoundRobinCore) Assign(_ *Request, topology *paged.Topology) []paged.DeviceID {
	d := topology.Device(rr.counter % topology.Len())
	rr.counter++
	return []paged.DeviceID{d}
}

// RandomCore places each sequence on one uniformly chosen core.
type RandomCore struct {
	rand *rand.Rand
}

// Assign implements ShardPolicy for RandomCore.
func (rc *RandomCore) Assign(_ *Request, topology *paged.Topology) []paged.DeviceID {
	return []paged.DeviceID{topology.Device(rc.rand.Intn(topology.Len()))}
}

// NewShardPolicy creates a shard policy by name. Empty string defaults to
// "all". rng is only used by "random". Panics on unrecognized names.
func NewShardPolicy(name string, rng *rand.Rand) ShardPolicy {
	if !IsValidShardPolicy(name) {
		panic(fmt.Sprintf("unknown shard policy %q", name))
	}
	switch name {
	case "round-robin":
		return &RoundRobinCore{}
	case "random":
		return &RandomCore{rand: rng}
	default:
		return AllCores{}
	}
}
