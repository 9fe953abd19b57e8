package paged

import (
	"fmt"
)

// DeviceUsage is a point-in-time view of one core's allocator.
type DeviceUsage struct {
	Device DeviceID
	Used   int
	Free   int
	Total  int
}

// Utilization returns the fraction of blocks in use.
func (u DeviceUsage) Utilization() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total)
}

// Usage returns per-core block usage in topology order.
func (c *KVCache) Usage() []DeviceUsage {
	out := make([]DeviceUsage, len(c.allocs))
	for i, a := range c.allocs {
		used := a.UsedBlocks()
		out[i] = DeviceUsage{Device: a.Device(), Used: used, Free: a.TotalBlocks() - used, Total: a.TotalBlocks()}
	}
	return out
}

// Pool returns the block pool of device d.
func (c *KVCache) Pool(d DeviceID) (*BlockPool, bool) {
	i, ok := c.topology.Index(d)
	if !ok {
		return nil, false
	}
	return c.pools[i], true
}

// Allocator returns the block allocator of device d.
func (c *KVCache) Allocator(d DeviceID) (*BlockAllocator, bool) {
	i, ok := c.topology.Index(d)
	if !ok {
		return nil, false
	}
	return c.allocs[i], true
}

// CheckInvariants verifies the cross-structure invariants of the cache:
//   - every block in a live block table is in use and owned by that sequence
//   - no block appears in two tables
//   - each allocator's used count equals the blocks referenced by tables,
//     and its free list holds exactly the remaining blocks
//
// It locks every sequence in turn and is meant for tests and verification runs.
func (c *KVCache) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	referenced := make([]map[BlockID]SequenceID, len(c.allocs))
	for i := range referenced {
		referenced[i] = make(map[BlockID]SequenceID)
	}
	for pair := c.seqs.Oldest(); pair != nil; pair = pair.Next() {
		seq := pair.Value
		seq.mu.Lock()
		err := c.checkSequence(seq, referenced)
		seq.mu.Unlock()
		if err != nil {
			return err
		}
	}

	for i, a := range c.allocs {
		free := a.freeList()
		if used := a.UsedBlocks(); used != len(referenced[i]) {
			return fmt.Errorf("%s: %d blocks used but %d referenced by block tables", a.Device(), used, len(referenced[i]))
		}
		if len(free)+len(referenced[i]) != a.TotalBlocks() {
			return fmt.Errorf("%s: free list has %d blocks, expected %d", a.Device(), len(free), a.TotalBlocks()-len(referenced[i]))
		}
		for _, id := range free {
			if owner, ok := referenced[i][id]; ok {
				return fmt.Errorf("%s: block %d is on the free list but held by %s", a.Device(), id, owner)
			}
		}
	}
	return nil
}

func (c *KVCache) checkSequence(seq *Sequence, referenced []map[BlockID]SequenceID) error {
	length := -1
	for _, t := range seq.tables {
		idx, _ := c.topology.Index(t.Device())
		if length >= 0 && t.NumTokens() != length {
			return fmt.Errorf("%s: shards disagree on length (%d vs %d)", seq.id, length, t.NumTokens())
		}
		length = t.NumTokens()
		for _, id := range t.blocks {
			if other, dup := referenced[idx][id]; dup {
				return fmt.Errorf("%s: block %d referenced by both %s and %s", t.Device(), id, other, seq.id)
			}
			owner, ok := c.allocs[idx].Owner(id)
			if !ok || owner != seq.id {
				return fmt.Errorf("%w: %s holds block %d on %s, allocator owner %q", ErrInvalidBlock, seq.id, id, t.Device(), owner)
			}
			referenced[idx][id] = seq.id
		}
	}
	if length >= 0 && length != seq.length {
		return fmt.Errorf("%s: sequence length %d, block tables cover %d", seq.id, seq.length, length)
	}
	return nil
}
