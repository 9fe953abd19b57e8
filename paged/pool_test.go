package paged

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendryte/nncase-sub001/internal/testutil"
)

func TestBlockPool_WriteReadSlot_RoundTrip(t *testing.T) {
	// GIVEN a pool shaped [12, 2, 2, 2, 2, 32, 64]
	shape := validConfig().PoolShape()
	p := NewBlockPool(core0, shape, false)
	headDim := shape.HeadGroups * shape.VectorWidth

	// WHEN K and V for two tokens are written to distinct slots
	k0, v0 := testutil.Vector(headDim, 1), testutil.Vector(headDim, 2)
	k1 := testutil.Vector(headDim, 3)
	require.NoError(t, p.WriteSlot(Slot{Block: 5, Offset: 31}, 1, 0, Key, k0))
	require.NoError(t, p.WriteSlot(Slot{Block: 5, Offset: 31}, 1, 0, Value, v0))
	require.NoError(t, p.WriteSlot(Slot{Block: 5, Offset: 0}, 1, 0, Key, k1))

	// THEN each slot reads back exactly what was written
	got := make([]float32, headDim)
	require.NoError(t, p.ReadSlot(Slot{Block: 5, Offset: 31}, 1, 0, Key, got))
	assert.Equal(t, k0, got)
	require.NoError(t, p.ReadSlot(Slot{Block: 5, Offset: 31}, 1, 0, Value, got))
	assert.Equal(t, v0, got)
	require.NoError(t, p.ReadSlot(Slot{Block: 5, Offset: 0}, 1, 0, Key, got))
	assert.Equal(t, k1, got)

	// AND untouched slots stay zero
	require.NoError(t, p.ReadSlot(Slot{Block: 4, Offset: 31}, 1, 0, Key, got))
	assert.Equal(t, make([]float32, headDim), got)
}

func TestBlockPool_MetadataOnly(t *testing.T) {
	shape := validConfig().PoolShape()
	p := NewBlockPool(core0, shape, true)

	assert.False(t, p.HasStorage())
	assert.Equal(t, int64(shape.Elements())*2, p.Bytes())
	err := p.WriteSlot(Slot{}, 0, 0, Key, make([]float32, 128))
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestBlockPool_RejectsBadAddresses(t *testing.T) {
	p := NewBlockPool(core0, validConfig().PoolShape(), false)
	vec := make([]float32, 128)

	tests := []struct {
		name    string
		slot    Slot
		layer   int
		head    int
		kv      KVKind
		vec     []float32
		wantErr error
	}{
		{"block past pool", Slot{Block: 12}, 0, 0, Key, vec, ErrInvalidBlock},
		{"negative block", Slot{Block: -1}, 0, 0, Key, vec, ErrInvalidBlock},
		{"offset past block", Slot{Block: 0, Offset: 32}, 0, 0, Key, vec, ErrPositionOutOfRange},
		{"layer out of range", Slot{}, 2, 0, Key, vec, nil},
		{"head out of range", Slot{}, 0, 2, Key, vec, nil},
		{"bad kv", Slot{}, 0, 0, KVKind(2), vec, nil},
		{"short vector", Slot{}, 0, 0, Key, make([]float32, 64), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := p.WriteSlot(tc.slot, tc.layer, tc.head, tc.kv, tc.vec)
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestNewBlockPool_PanicsOnEmptyShape(t *testing.T) {
	assert.Panics(t, func() { NewBlockPool(core0, PoolShape{}, true) })
}

func TestKVKind_String(t *testing.T) {
	assert.Equal(t, "K", Key.String())
	assert.Equal(t, "V", Value.String())
}
