package sim

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kendryte/nncase-sub001/internal/util"
	"github.com/kendryte/nncase-sub001/paged"
)

// SyntheticEvaluator stands in for the tensor engine. For every new token it
// scatters a deterministic K and V vector through the shard's slot mapping;
// with Verify set it then gathers the sequence's whole history through the
// block table and checks every value. Metadata-only pools are skipped.
//
// Forward may be called concurrently for different sequences.
type SyntheticEvaluator struct {
	Verify bool

	written  atomic.Int64
	verified atomic.Int64
}

// Forward implements paged.Evaluator.
func (e *SyntheticEvaluator) Forward(ctx context.Context, plan *paged.StepPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seed := uint64(fnv1a64(string(plan.Sequence)))
	for _, shard := range plan.Shards {
		if !shard.Pool.HasStorage() {
			continue
		}
		shape := shard.Pool.Shape()
		vec := make([]float32, shape.HeadGroups*shape.VectorWidth)
		for i, slot := range shard.SlotMapping {
			pos := plan.StartPos + i
			if err := forEachHead(shape, func(layer, head int, kv paged.KVKind) error {
				fillTokenVector(vec, seed, pos, layer, head, kv)
				return shard.Pool.WriteSlot(slot, layer, head, kv, vec)
			}); err != nil {
				return fmt.Errorf("%s step %d: write position %d on %s: %w", plan.Sequence, plan.Step, pos, shard.Device, err)
			}
		}
		e.written.Add(util.Len64(shard.SlotMapping))

		if e.Verify {
			if err := e.verifyHistory(plan, shard, seed); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyHistory reads positions [0, StartPos+NumTokens) back through the
// shard's block table.
func (e *SyntheticEvaluator) verifyHistory(plan *paged.StepPlan, shard paged.ShardView, seed uint64) error {
	shape := shard.Pool.Shape()
	n := shape.HeadGroups * shape.VectorWidth
	got, want := make([]float32, n), make([]float32, n)
	length := plan.StartPos + plan.NumTokens
	for pos := 0; pos < length; pos++ {
		logical := pos / shape.BlockSize
		if logical >= len(shard.BlockTable) {
			return fmt.Errorf("%s: position %d has no block on %s", plan.Sequence, pos, shard.Device)
		}
		slot := paged.Slot{Block: shard.BlockTable[logical], Offset: pos % shape.BlockSize}
		err := forEachHead(shape, func(layer, head int, kv paged.KVKind) error {
			if err := shard.Pool.ReadSlot(slot, layer, head, kv, got); err != nil {
				return err
			}
			fillTokenVector(want, seed, pos, layer, head, kv)
			for lane := range got {
				if got[lane] != want[lane] {
					return fmt.Errorf("layer %d head %d %s lane %d: got %v, want %v", layer, head, kv, lane, got[lane], want[lane])
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s step %d: verify position %d on %s (block %d): %w",
				plan.Sequence, plan.Step, pos, shard.Device, slot.Block, err)
		}
	}
	e.verified.Add(int64(length))
	return nil
}

// TokensWritten returns the number of (token, shard) pairs scattered.
func (e *SyntheticEvaluator) TokensWritten() int64 { return e.written.Load() }

// TokensVerified returns the number of (token, shard) pairs gathered and checked.
func (e *SyntheticEvaluator) TokensVerified() int64 { return e.verified.Load() }

func forEachHead(shape paged.PoolShape, fn func(layer, head int, kv paged.KVKind) error) error {
	for layer := 0; layer < shape.Layers; layer++ {
		for head := 0; head < shape.NumKVHeads; head++ {
			for _, kv := range []paged.KVKind{paged.Key, paged.Value} {
				if err := fn(layer, head, kv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// fillTokenVector writes the expected K or V vector of one token. Values are
// integers below 2048, which float16 stores exactly.
func fillTokenVector(dst []float32, seed uint64, pos, layer, head int, kv paged.KVKind) {
	base := seed + uint64(pos)*31 + uint64(layer)*7 + uint64(head)*3 + uint64(kv)*11
	for lane := range dst {
		dst[lane] = float32((base + uint64(lane)) % 2048)
	}
}
