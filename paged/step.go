package paged

import "context"

// ShardView is what the execution engine needs for one shard of one step:
// the core's pool, the full block table for gathering history, and the slot
// mapping for scattering the step's new K/V.
type ShardView struct {
	Device      DeviceID
	Pool        *BlockPool
	BlockTable  []BlockID
	SlotMapping SlotMapping
}

// StepPlan is the paged_kv bundle for one sequence and one step. Positions
// [StartPos, StartPos+NumTokens) are the newly appended tokens.
type StepPlan struct {
	Sequence  SequenceID
	Step      int64
	StartPos  int
	NumTokens int
	Shards    []ShardView // in DeviceID order
}

// Positions returns the absolute positions of the step's new tokens.
func (p *StepPlan) Positions() []int {
	pos := make([]int, p.NumTokens)
	for i := range pos {
		pos[i] = p.StartPos + i
	}
	return pos
}

// Shard returns the view for device d.
func (p *StepPlan) Shard(d DeviceID) (ShardView, bool) {
	for _, s := range p.Shards {
		if s.Device == d {
			return s, true
		}
	}
	return ShardView{}, false
}

// Evaluator is the tensor-execution engine that consumes step plans. It
// computes attention for the new tokens, scatters their K/V through each
// shard's SlotMapping and gathers history through each shard's BlockTable.
// Implementations live outside this package.
type Evaluator interface {
	Forward(ctx context.Context, plan *StepPlan) error
}
