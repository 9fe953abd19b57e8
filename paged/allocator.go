package paged

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// blockState tracks one block of a core's pool.
type blockState struct {
	ID       BlockID
	InUse    bool        // Whether the block is held by a sequence
	Owner    SequenceID  // Holder while InUse; blocks are never shared
	PrevFree *blockState // free list: previous free block
	NextFree *blockState // free list: next free block
}

// BlockAllocator tracks which blocks of one core's pool are free or in use.
// Free blocks sit on a doubly linked list; allocation pops from the head and
// release appends to the tail, so recently freed blocks are reused last.
//
// Thread-safety: safe for concurrent use. A single mutex serializes all
// mutation of the core's free list.
type BlockAllocator struct {
	device DeviceID
	mu     sync.Mutex
	blocks []*blockState
	head   *blockState // Head of free list
	tail   *blockState // Tail of free list
	used   int         // Number of used blocks (tracked incrementally)
}

// NewBlockAllocator initializes an allocator with every block on the free list in id order.
func NewBlockAllocator(d DeviceID, totalBlocks int) *BlockAllocator {
	if totalBlocks <= 0 {
		panic(fmt.Sprintf("NewBlockAllocator: totalBlocks must be > 0, got %d", totalBlocks))
	}
	a := &BlockAllocator{
		device: d,
		blocks: make([]*blockState, totalBlocks),
	}
	for i := range totalBlocks {
		blk := &blockState{ID: BlockID(i)}
		a.blocks[i] = blk
		a.appendToFreeList(blk)
	}
	return a
}

// appendToFreeList inserts a block at the tail of the free list.
func (a *BlockAllocator) appendToFreeList(block *blockState) {
	block.NextFree = nil
	// either both head and tail are nil, or neither is
	if a.tail != nil {
		a.tail.NextFree = block
		block.PrevFree = a.tail
		a.tail = block
	} else {
		a.head = block
		a.tail = block
		block.PrevFree = nil
	}
}

// prependToFreeList inserts a block at the head of the free list.
func (a *BlockAllocator) prependToFreeList(block *blockState) {
	block.PrevFree = nil
	block.NextFree = a.head
	if a.head != nil {
		a.head.PrevFree = block
	}
	a.head = block
	if a.tail == nil {
		a.tail = block
	}
}

// popFreeBlock detaches the head of the free list. Returns nil when empty.
func (a *BlockAllocator) popFreeBlock() *blockState {
	blk := a.head
	if blk == nil {
		return nil
	}
	a.head = blk.NextFree
	if a.head != nil {
		a.head.PrevFree = nil
	} else {
		a.tail = nil
	}
	blk.NextFree = nil
	blk.PrevFree = nil
	return blk
}

// Device returns the core this allocator serves.
func (a *BlockAllocator) Device() DeviceID { return a.device }

// Allocate hands out one free block to owner.
func (a *BlockAllocator) Allocate(owner SequenceID) (BlockID, error) {
	ids, err := a.AllocateN(owner, 1)
	if err != nil {
		return -1, err
	}
	return ids[0], nil
}

// AllocateN hands out n distinct free blocks to owner, or none at all.
// On ErrCacheExhausted the allocator state is unchanged.
func (a *BlockAllocator) AllocateN(owner SequenceID, n int) ([]BlockID, error) {
	if n <= 0 {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if free := len(a.blocks) - a.used; n > free {
		logrus.Debugf("allocator %s: cannot allocate %d blocks for %s, %d free", a.device, n, owner, free)
		return nil, fmt.Errorf("%w: %s needs %d blocks, %d free", ErrCacheExhausted, a.device, n, free)
	}
	ids := make([]BlockID, 0, n)
	for range n {
		blk := a.popFreeBlock()
		blk.InUse = true
		blk.Owner = owner
		a.used++
		ids = append(ids, blk.ID)
	}
	return ids, nil
}

// Free returns blocks held by owner to the free list. Every id is validated
// before any block is released, so an ErrInvalidBlock leaves the state unchanged.
// Blocks are appended to the tail in reverse order, so the last block of a
// sequence is the last to be reused.
func (a *BlockAllocator) Free(owner SequenceID, ids ...BlockID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateHeld(owner, ids); err != nil {
		return err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		blk := a.markFree(ids[i])
		a.appendToFreeList(blk)
	}
	return nil
}

// Unallocate undoes an AllocateN whose result the caller could not commit.
// The blocks go back to the head of the free list in their original order,
// leaving the free list as it was before the allocation.
func (a *BlockAllocator) Unallocate(owner SequenceID, ids []BlockID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateHeld(owner, ids); err != nil {
		return err
	}
	// reverse order so the first-popped block ends up at the head
	for i := len(ids) - 1; i >= 0; i-- {
		blk := a.markFree(ids[i])
		a.prependToFreeList(blk)
	}
	return nil
}

// validateHeld checks that every id is a distinct block held by owner. Caller holds a.mu.
func (a *BlockAllocator) validateHeld(owner SequenceID, ids []BlockID) error {
	seen := make(map[BlockID]bool, len(ids))
	for _, id := range ids {
		if id < 0 || int(id) >= len(a.blocks) {
			return fmt.Errorf("%w: block %d not in pool of %d on %s", ErrInvalidBlock, id, len(a.blocks), a.device)
		}
		blk := a.blocks[id]
		if !blk.InUse || blk.Owner != owner || seen[id] {
			return fmt.Errorf("%w: block %d on %s is not held by %s", ErrInvalidBlock, id, a.device, owner)
		}
		seen[id] = true
	}
	return nil
}

// markFree clears a block's ownership. Caller holds a.mu.
func (a *BlockAllocator) markFree(id BlockID) *blockState {
	blk := a.blocks[id]
	blk.InUse = false
	blk.Owner = ""
	a.used--
	return blk
}

// IsUsed reports whether block id is currently allocated.
func (a *BlockAllocator) IsUsed(id BlockID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || int(id) >= len(a.blocks) {
		return false
	}
	return a.blocks[id].InUse
}

// Owner returns the sequence holding block id, if any.
func (a *BlockAllocator) Owner(id BlockID) (SequenceID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || int(id) >= len(a.blocks) || !a.blocks[id].InUse {
		return "", false
	}
	return a.blocks[id].Owner, true
}

// UsedBlocks returns the number of blocks currently in use.
func (a *BlockAllocator) UsedBlocks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// FreeBlocks returns the number of blocks not currently in use.
func (a *BlockAllocator) FreeBlocks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks) - a.used
}

// TotalBlocks returns the pool capacity in blocks.
func (a *BlockAllocator) TotalBlocks() int { return len(a.blocks) }

// freeList returns the free block ids from head to tail.
func (a *BlockAllocator) freeList() []BlockID {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]BlockID, 0, len(a.blocks)-a.used)
	for blk := a.head; blk != nil; blk = blk.NextFree {
		ids = append(ids, blk.ID)
	}
	return ids
}
