package paged

import (
	"fmt"
	"slices"

	"github.com/kendryte/nncase-sub001/internal/util"
)

// BlockTable maps one sequence's logical block indices on one core to
// physical block ids in that core's pool. Logical indices are dense and
// 0-based; entries are append-only except for truncation.
//
// Thread-safety: NOT thread-safe. The owning Sequence serializes access.
type BlockTable struct {
	owner     SequenceID
	alloc     *BlockAllocator
	blockSize int
	blocks    []BlockID
	numTokens int
}

// NewBlockTable creates an empty table for owner backed by alloc.
func NewBlockTable(owner SequenceID, alloc *BlockAllocator, blockSize int) *BlockTable {
	if blockSize <= 0 {
		panic(fmt.Sprintf("NewBlockTable: blockSize must be > 0, got %d", blockSize))
	}
	return &BlockTable{owner: owner, alloc: alloc, blockSize: blockSize}
}

// Device returns the core whose pool this table references.
func (t *BlockTable) Device() DeviceID { return t.alloc.Device() }

// BlockSize returns tokens per block.
func (t *BlockTable) BlockSize() int { return t.blockSize }

// NumBlocks returns the number of table entries.
func (t *BlockTable) NumBlocks() int { return len(t.blocks) }

// NumTokens returns the logical sequence length the table covers.
func (t *BlockTable) NumTokens() int { return t.numTokens }

// Blocks returns a snapshot of the table entries in logical order.
func (t *BlockTable) Blocks() []BlockID { return slices.Clone(t.blocks) }

// EnsureCapacity grows the table so it covers newLength tokens, allocating
// ceil(newLength/blockSize) - NumBlocks() blocks in one all-or-nothing request.
// On failure the table is unchanged. A newLength below the current length is a no-op.
// A length beyond what the whole pool can hold fails with ErrCacheExhausted.
func (t *BlockTable) EnsureCapacity(newLength int) error {
	if newLength < 0 {
		return fmt.Errorf("%w: negative length %d", ErrPositionOutOfRange, newLength)
	}
	if newLength <= t.numTokens {
		return nil
	}
	if capacity := t.alloc.TotalBlocks() * t.blockSize; newLength > capacity {
		return fmt.Errorf("%w: %s holds at most %d tokens, %s needs %d",
			ErrCacheExhausted, t.Device(), capacity, t.owner, newLength)
	}
	needed := util.CeilDiv(newLength, t.blockSize) - len(t.blocks)
	if needed > 0 {
		ids, err := t.alloc.AllocateN(t.owner, needed)
		if err != nil {
			return err
		}
		t.blocks = append(t.blocks, ids...)
	}
	t.numTokens = newLength
	return nil
}

// Truncate shrinks the table to length tokens, freeing every block whose
// logical index is at or beyond ceil(length/blockSize).
func (t *BlockTable) Truncate(length int) error {
	if length < 0 || length > t.numTokens {
		return fmt.Errorf("%w: cannot truncate %d tokens to %d", ErrPositionOutOfRange, t.numTokens, length)
	}
	keep := util.CeilDiv(length, t.blockSize)
	if keep < len(t.blocks) {
		if err := t.alloc.Free(t.owner, t.blocks[keep:]...); err != nil {
			return err
		}
		t.blocks = t.blocks[:keep]
	}
	t.numTokens = length
	return nil
}

// Release frees every block and empties the table.
func (t *BlockTable) Release() error {
	return t.Truncate(0)
}

// rollback undoes growth since the table held blocks entries covering length
// tokens, returning the new blocks to the head of the allocator's free list.
func (t *BlockTable) rollback(blocks, length int) error {
	if blocks < len(t.blocks) {
		if err := t.alloc.Unallocate(t.owner, t.blocks[blocks:]); err != nil {
			return err
		}
		t.blocks = t.blocks[:blocks]
	}
	t.numTokens = length
	return nil
}
