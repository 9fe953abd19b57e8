package paged

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTable_EnsureCapacity_AllocatesCeilBlocks(t *testing.T) {
	// GIVEN block_size=32 on a 12-block core
	a := NewBlockAllocator(core0, 12)
	table := NewBlockTable("s", a, 32)

	// WHEN the sequence grows from 0 to 40 tokens in one step
	require.NoError(t, table.EnsureCapacity(40))

	// THEN ceil(40/32) = 2 blocks are held
	assert.Equal(t, 2, table.NumBlocks())
	assert.Equal(t, 40, table.NumTokens())
	assert.Equal(t, 2, a.UsedBlocks())

	// AND growing within the last block allocates nothing
	require.NoError(t, table.EnsureCapacity(64))
	assert.Equal(t, 2, table.NumBlocks())

	// AND crossing the boundary appends exactly one block
	require.NoError(t, table.EnsureCapacity(65))
	assert.Equal(t, 3, table.NumBlocks())
}

func TestBlockTable_EnsureCapacity_ShorterLengthIsNoOp(t *testing.T) {
	a := NewBlockAllocator(core0, 4)
	table := NewBlockTable("s", a, 4)
	require.NoError(t, table.EnsureCapacity(10))

	require.NoError(t, table.EnsureCapacity(3))
	assert.Equal(t, 10, table.NumTokens())
	assert.Equal(t, 3, table.NumBlocks())

	assert.ErrorIs(t, table.EnsureCapacity(-1), ErrPositionOutOfRange)
}

func TestBlockTable_EnsureCapacity_FailureLeavesTableUnchanged(t *testing.T) {
	// GIVEN a table holding 2 of 3 blocks
	a := NewBlockAllocator(core0, 3)
	table := NewBlockTable("s", a, 4)
	require.NoError(t, table.EnsureCapacity(8))
	before := table.Blocks()

	// WHEN it asks for 2 more blocks with only 1 free
	err := table.EnsureCapacity(16)

	// THEN the call fails and no partial entry is appended
	assert.ErrorIs(t, err, ErrCacheExhausted)
	assert.Equal(t, before, table.Blocks())
	assert.Equal(t, 8, table.NumTokens())
	assert.Equal(t, 2, a.UsedBlocks())
}

func TestBlockTable_EnsureCapacity_BeyondPoolCapacity(t *testing.T) {
	// GIVEN an empty table on a 12-block core with 32-token blocks
	a := NewBlockAllocator(core0, 12)
	table := NewBlockTable("s", a, 32)

	for _, length := range []int{12*32 + 1, math.MaxInt - 30, math.MaxInt} {
		// WHEN it is asked to cover more tokens than the pool can ever hold
		err := table.EnsureCapacity(length)

		// THEN the request fails as exhaustion and nothing changes
		assert.ErrorIs(t, err, ErrCacheExhausted, "length %d", length)
		assert.Equal(t, 0, table.NumBlocks())
		assert.Equal(t, 0, table.NumTokens())
		assert.Equal(t, 0, a.UsedBlocks())
	}

	// AND the full pool is still reachable
	require.NoError(t, table.EnsureCapacity(12*32))
	assert.Equal(t, 12, table.NumBlocks())
}

func TestBlockTable_Truncate_FreesTrailingBlocks(t *testing.T) {
	// GIVEN a table covering 40 tokens with block_size=8 (5 blocks)
	a := NewBlockAllocator(core0, 8)
	table := NewBlockTable("s", a, 8)
	require.NoError(t, table.EnsureCapacity(40))
	blocks := table.Blocks()

	// WHEN rolled back to 17 tokens
	require.NoError(t, table.Truncate(17))

	// THEN blocks with logical index > ceil(17/8)-1 = 2 are freed
	assert.Equal(t, blocks[:3], table.Blocks())
	assert.Equal(t, 17, table.NumTokens())
	assert.Equal(t, 3, a.UsedBlocks())
	for _, id := range blocks[3:] {
		assert.False(t, a.IsUsed(id))
	}

	// AND truncating to a block boundary keeps exactly the full blocks
	require.NoError(t, table.Truncate(16))
	assert.Equal(t, 2, table.NumBlocks())

	// AND growing again appends densely after the kept entries
	require.NoError(t, table.EnsureCapacity(24))
	assert.Equal(t, 3, table.NumBlocks())
	assert.Equal(t, blocks[:2], table.Blocks()[:2])
}

func TestBlockTable_Truncate_RejectsInvalidLength(t *testing.T) {
	a := NewBlockAllocator(core0, 4)
	table := NewBlockTable("s", a, 4)
	require.NoError(t, table.EnsureCapacity(5))

	assert.ErrorIs(t, table.Truncate(6), ErrPositionOutOfRange)
	assert.ErrorIs(t, table.Truncate(-1), ErrPositionOutOfRange)
	assert.Equal(t, 2, table.NumBlocks())
}

func TestBlockTable_Release_FreesEverything(t *testing.T) {
	a := NewBlockAllocator(core0, 4)
	table := NewBlockTable("s", a, 4)
	require.NoError(t, table.EnsureCapacity(13))

	require.NoError(t, table.Release())
	assert.Equal(t, 0, table.NumBlocks())
	assert.Equal(t, 0, table.NumTokens())
	assert.Equal(t, 0, a.UsedBlocks())
}

func TestBlockTable_BlocksIsSnapshot(t *testing.T) {
	a := NewBlockAllocator(core0, 4)
	table := NewBlockTable("s", a, 4)
	require.NoError(t, table.EnsureCapacity(4))
	snap := table.Blocks()
	snap[0] = 99
	assert.NotEqual(t, BlockID(99), table.Blocks()[0])
}
