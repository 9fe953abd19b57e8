package paged

import "fmt"

// Slot is the physical address of one token inside a core's pool.
type Slot struct {
	Block  BlockID
	Offset int
}

// SlotMapping holds one Slot per requested token position, in request order.
// It is recomputed every step and never persisted.
type SlotMapping []Slot

// Blocks returns the block id of every slot, in order.
func (m SlotMapping) Blocks() []BlockID {
	ids := make([]BlockID, len(m))
	for i, s := range m {
		ids[i] = s.Block
	}
	return ids
}

// Offsets returns the intra-block offset of every slot, in order.
func (m SlotMapping) Offsets() []int {
	offs := make([]int, len(m))
	for i, s := range m {
		offs[i] = s.Offset
	}
	return offs
}

// Resolve maps token positions to slots using table. It never allocates
// blocks: a position whose logical block is not in the table yields
// ErrPositionOutOfRange. Resolve is a pure function of the table contents and
// positions.
func Resolve(table *BlockTable, positions []int) (SlotMapping, error) {
	return ResolveInto(make(SlotMapping, 0, len(positions)), table, positions)
}

// ResolveInto is Resolve appending to dst, so a caller can reuse one buffer
// across decode steps.
func ResolveInto(dst SlotMapping, table *BlockTable, positions []int) (SlotMapping, error) {
	bs := table.blockSize
	for _, p := range positions {
		logical := p / bs
		if p < 0 || logical >= len(table.blocks) {
			return dst, fmt.Errorf("%w: position %d needs logical block %d, table on %s has %d",
				ErrPositionOutOfRange, p, logical, table.Device(), len(table.blocks))
		}
		dst = append(dst, Slot{Block: table.blocks[logical], Offset: p % bs})
	}
	return dst, nil
}

// ResolveRange resolves the count consecutive positions starting at start.
func ResolveRange(table *BlockTable, start, count int) (SlotMapping, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative position count %d", ErrPositionOutOfRange, count)
	}
	positions := make([]int, count)
	for i := range positions {
		positions[i] = start + i
	}
	return Resolve(table, positions)
}
