package paged

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kendryte/nncase-sub001/paged/trace"
)

// KVCache coordinates every sequence's block tables across the cores of a
// topology and presents one logical KV cache to the execution engine.
//
// Thread-safety: safe for concurrent use across sequences. Operations on the
// same sequence are serialized by that sequence's lock.
type KVCache struct {
	id       uuid.UUID
	log      *logrus.Entry
	topology *Topology
	config   CacheConfig
	pools    []*BlockPool      // indexed by Topology.Index
	allocs   []*BlockAllocator // indexed by Topology.Index
	trace    *trace.CacheTrace // nil when tracing is disabled
	steps    atomic.Int64

	mu     sync.RWMutex
	seqs   *orderedmap.OrderedMap[SequenceID, *Sequence] // admission order
	closed bool
}

// NewKVCache creates an empty cache with one block pool and allocator per
// core of topology, each shaped by cfg. Configuration is validated before
// anything is allocated.
func NewKVCache(topology *Topology, cfg CacheConfig, opts ...Option) (*KVCache, error) {
	if topology == nil || topology.Len() == 0 {
		return nil, fmt.Errorf("%w: topology is empty", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}

	c := &KVCache{
		id:       uuid.New(),
		topology: topology,
		config:   cfg,
		pools:    make([]*BlockPool, topology.Len()),
		allocs:   make([]*BlockAllocator, topology.Len()),
		seqs:     orderedmap.New[SequenceID, *Sequence](),
	}
	c.log = o.logger.WithField("session", c.id.String())
	if o.trace.Enabled() {
		c.trace = trace.NewCacheTrace(o.trace)
	}

	shape := cfg.PoolShape()
	for i, d := range topology.devices {
		c.pools[i] = NewBlockPool(d, shape, cfg.MetadataOnly)
		c.allocs[i] = NewBlockAllocator(d, cfg.BlocksPerCore)
	}
	c.log.Infof("created kv cache: %d cores, pool shape %v, %d tokens per core",
		topology.Len(), shape, cfg.TokensPerCore())
	return c, nil
}

// Config returns the validated configuration.
func (c *KVCache) Config() CacheConfig { return c.config }

// Topology returns the cache's device registry.
func (c *KVCache) Topology() *Topology { return c.topology }

// Admit registers a new sequence sharded across shards. The sequence holds
// no blocks until its first BeginStep.
func (c *KVCache) Admit(id SequenceID, shards []DeviceID, priority int) (*Sequence, error) {
	if id == "" {
		return nil, errors.New("admit: empty sequence id")
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("admit %s: no shard devices", id)
	}
	sorted := slices.Clone(shards)
	slices.SortFunc(sorted, DeviceID.Compare)
	tables := make([]*BlockTable, len(sorted))
	for i, d := range sorted {
		idx, ok := c.topology.Index(d)
		if !ok {
			return nil, fmt.Errorf("admit %s: device %s is not in the topology", id, d)
		}
		if i > 0 && sorted[i-1] == d {
			return nil, fmt.Errorf("admit %s: duplicate shard %s", id, d)
		}
		tables[i] = NewBlockTable(id, c.allocs[idx], c.config.BlockSize)
	}

	seq := &Sequence{
		id:       id,
		priority: priority,
		shards:   sorted,
		tables:   tables,
		state:    StateUnallocated,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, exists := c.seqs.Get(id); exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSequence, id)
	}
	c.seqs.Set(id, seq)
	c.log.Debugf("admitted %s on %d shards", id, len(sorted))
	return seq, nil
}

// lookup returns a live sequence.
func (c *KVCache) lookup(id SequenceID) (*Sequence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	seq, ok := c.seqs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSequence, id)
	}
	return seq, nil
}

// Sequence returns the live sequence id, if any.
func (c *KVCache) Sequence(id SequenceID) (*Sequence, bool) {
	seq, err := c.lookup(id)
	return seq, err == nil
}

// Sequences returns the ids of every live sequence in admission order.
func (c *KVCache) Sequences() []SequenceID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]SequenceID, 0, c.seqs.Len())
	for pair := c.seqs.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// BeginStep extends sequence id by newTokens on every shard and returns the
// block tables and slot mappings for the step. Shards grow concurrently; if
// any shard fails, every shard is rolled back, so a failed step changes
// neither the block tables nor the allocators' free lists.
func (c *KVCache) BeginStep(ctx context.Context, id SequenceID, newTokens int) (*StepPlan, error) {
	if newTokens <= 0 {
		return nil, fmt.Errorf("%w: step for %s needs at least one new token, got %d", ErrPositionOutOfRange, id, newTokens)
	}
	seq, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()

	switch seq.state {
	case StatePreempted:
		return nil, fmt.Errorf("%w: %s must be resumed first", ErrSequencePreempted, id)
	case StateReleased:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSequence, id)
	}
	if newTokens > math.MaxInt-seq.length {
		return nil, fmt.Errorf("%w: %s cannot grow from %d by %d tokens", ErrCacheExhausted, id, seq.length, newTokens)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := c.steps.Add(1)
	oldLen, newLen := seq.length, seq.length+newTokens
	oldBlocks := make([]int, len(seq.tables))
	errs := make([]error, len(seq.tables))

	var g errgroup.Group
	for i, t := range seq.tables {
		oldBlocks[i] = t.NumBlocks()
		g.Go(func() error {
			errs[i] = t.EnsureCapacity(newLen)
			return errs[i]
		})
	}
	if err := g.Wait(); err != nil {
		for i, t := range seq.tables {
			if rbErr := t.rollback(oldBlocks[i], oldLen); rbErr != nil {
				c.log.Errorf("step %d: rollback of %s on %s failed: %v", step, id, t.Device(), rbErr)
			}
			if errors.Is(errs[i], ErrCacheExhausted) && c.trace != nil {
				c.trace.RecordExhaustion(trace.ExhaustionRecord{
					SequenceID: string(id), Step: step, Device: t.Device().String(), Requested: newTokens,
				})
			}
		}
		if IsRetryable(err) {
			c.log.Warnf("step %d: kv cache full: cannot extend %s by %d tokens: %v", step, id, newTokens, err)
		}
		return nil, err
	}

	plan := &StepPlan{
		Sequence:  id,
		Step:      step,
		StartPos:  oldLen,
		NumTokens: newTokens,
		Shards:    make([]ShardView, len(seq.tables)),
	}
	for i, t := range seq.tables {
		mapping, err := ResolveRange(t, oldLen, newTokens)
		if err != nil {
			// capacity was just ensured, so this is a broken invariant
			return nil, fmt.Errorf("step %d: resolve %s on %s: %w", step, id, t.Device(), err)
		}
		idx, _ := c.topology.Index(t.Device())
		plan.Shards[i] = ShardView{
			Device:      t.Device(),
			Pool:        c.pools[idx],
			BlockTable:  t.Blocks(),
			SlotMapping: mapping,
		}
		if c.trace != nil && t.NumBlocks() > oldBlocks[i] {
			added := t.blocks[oldBlocks[i]:]
			blocks := make([]int, len(added))
			for j, b := range added {
				blocks[j] = int(b)
			}
			c.trace.RecordAllocation(trace.AllocationRecord{
				SequenceID: string(id), Device: t.Device().String(), Step: step, Blocks: blocks, Length: newLen,
			})
		}
	}
	seq.length = newLen
	seq.state = StateActive
	c.log.Debugf("step %d: %s grew %d → %d tokens on %d shards", step, id, oldLen, newLen, len(seq.tables))
	return plan, nil
}

// Release frees every block of sequence id on every shard and forgets the
// sequence. Releasing an unknown or already released sequence is a no-op.
func (c *KVCache) Release(id SequenceID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	seq, ok := c.seqs.Delete(id)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	seq.mu.Lock()
	defer seq.mu.Unlock()
	freed := seq.heldBlocks()
	err := seq.releaseTables()
	seq.state = StateReleased
	seq.length = 0
	if c.trace != nil {
		c.trace.RecordRelease(trace.ReleaseRecord{
			SequenceID: string(id), Step: c.steps.Load(), FreedBlocks: freed, Reason: "release",
		})
	}
	c.log.Debugf("released %s: %d blocks freed", id, freed)
	return err
}

// Preempt frees every block of sequence id but keeps it registered with its
// length recorded, so the caller can Resume and recompute it later.
// Preempting a sequence that holds no blocks yet (unallocated) or is already
// preempted is a no-op.
func (c *KVCache) Preempt(id SequenceID) error {
	seq, err := c.lookup(id)
	if err != nil {
		return err
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()

	switch seq.state {
	case StateUnallocated, StatePreempted:
		return nil
	case StateReleased:
		return fmt.Errorf("%w: %s", ErrUnknownSequence, id)
	}
	freed := seq.heldBlocks()
	if err := seq.releaseTables(); err != nil {
		return err
	}
	seq.preemptedLength = seq.length
	seq.length = 0
	seq.state = StatePreempted
	if c.trace != nil {
		c.trace.RecordPreemption(trace.PreemptionRecord{
			SequenceID: string(id), Step: c.steps.Load(), Length: seq.preemptedLength, FreedBlocks: freed,
		})
	}
	c.log.Infof("preempted %s at length %d: %d blocks freed", id, seq.preemptedLength, freed)
	return nil
}

// Resume moves a preempted sequence back to unallocated and returns the
// length it had when preempted. The sequence restarts from length 0; the
// caller recomputes the returned number of tokens in its next step.
func (c *KVCache) Resume(id SequenceID) (int, error) {
	seq, err := c.lookup(id)
	if err != nil {
		return 0, err
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.state != StatePreempted {
		return 0, fmt.Errorf("resume %s: sequence is %s, not %s", id, seq.state, StatePreempted)
	}
	seq.state = StateUnallocated
	return seq.preemptedLength, nil
}

// Truncate rolls sequence id back to length tokens on every shard, freeing
// blocks past the new end. Used to discard rejected speculative tokens.
func (c *KVCache) Truncate(id SequenceID, length int) error {
	seq, err := c.lookup(id)
	if err != nil {
		return err
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()

	switch seq.state {
	case StatePreempted:
		return fmt.Errorf("%w: %s", ErrSequencePreempted, id)
	case StateReleased:
		return fmt.Errorf("%w: %s", ErrUnknownSequence, id)
	}
	if length < 0 || length > seq.length {
		return fmt.Errorf("%w: cannot truncate %s from %d to %d tokens", ErrPositionOutOfRange, id, seq.length, length)
	}
	before := seq.heldBlocks()
	for _, t := range seq.tables {
		if err := t.Truncate(length); err != nil {
			return err
		}
	}
	seq.length = length
	if c.trace != nil {
		c.trace.RecordRelease(trace.ReleaseRecord{
			SequenceID: string(id), Step: c.steps.Load(), FreedBlocks: before - seq.heldBlocks(), Reason: "truncate",
		})
	}
	return nil
}

// heldBlocks counts blocks across all shards. Caller holds s.mu.
func (s *Sequence) heldBlocks() int {
	n := 0
	for _, t := range s.tables {
		n += t.NumBlocks()
	}
	return n
}

// CreateKVCache is NewKVCache with the pool dimensions given positionally.
// Each core's pool is shaped [blocksPerCore, layers, numKVHeads, 2, headDim/64, blockSize, 64].
func CreateKVCache(topology *Topology, layers, numKVHeads, headDim, blockSize, blocksPerCore int, opts ...Option) (*KVCache, error) {
	return NewKVCache(topology, CacheConfig{
		Layers:        layers,
		NumKVHeads:    numKVHeads,
		HeadDim:       headDim,
		BlockSize:     blockSize,
		BlocksPerCore: blocksPerCore,
	}, opts...)
}
