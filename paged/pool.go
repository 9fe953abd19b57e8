package paged

import (
	"fmt"

	"github.com/x448/float16"
)

// BlockID indexes a block inside one core's pool. Ids are unique per core only.
type BlockID int

// KVKind selects the key or value half of a block.
type KVKind int

const (
	Key   KVKind = 0
	Value KVKind = 1
)

func (k KVKind) String() string {
	if k == Key {
		return "K"
	}
	return "V"
}

// BlockPool owns the physical K/V storage of one core. The storage is a dense
// float16 tensor laid out as PoolShape; the first axis indexes blocks.
//
// Only the owning core's execution path may write a pool. The pool does not
// lock: BeginStep hands out disjoint slots, and callers serialize steps per
// sequence.
type BlockPool struct {
	device DeviceID
	shape  PoolShape
	data   []float16.Float16 // nil when the pool is metadata-only
}

// NewBlockPool creates a pool for device d. When metadataOnly is set no
// backing storage is allocated and WriteSlot/ReadSlot return ErrNoStorage.
func NewBlockPool(d DeviceID, shape PoolShape, metadataOnly bool) *BlockPool {
	if shape.NumBlocks <= 0 || shape.BlockSize <= 0 || shape.VectorWidth <= 0 {
		panic(fmt.Sprintf("NewBlockPool: invalid shape %v", shape))
	}
	p := &BlockPool{device: d, shape: shape}
	if !metadataOnly {
		p.data = make([]float16.Float16, shape.Elements())
	}
	return p
}

// Device returns the owning core.
func (p *BlockPool) Device() DeviceID { return p.device }

// Shape returns the pool layout.
func (p *BlockPool) Shape() PoolShape { return p.shape }

// HasStorage reports whether the dense K/V tensor was allocated.
func (p *BlockPool) HasStorage() bool { return p.data != nil }

// Bytes returns the size of the dense tensor in bytes, whether or not it is allocated.
func (p *BlockPool) Bytes() int64 {
	return int64(p.shape.Elements()) * 2
}

// offset returns the flat element index of (block, layer, head, kv, group, slot, lane).
func (p *BlockPool) offset(block BlockID, layer, head int, kv KVKind, group, slot, lane int) int {
	s := p.shape
	idx := int(block)
	idx = idx*s.Layers + layer
	idx = idx*s.NumKVHeads + head
	idx = idx*s.KV + int(kv)
	idx = idx*s.HeadGroups + group
	idx = idx*s.BlockSize + slot
	return idx*s.VectorWidth + lane
}

func (p *BlockPool) checkAddress(slot Slot, layer, head int, kv KVKind, n int) error {
	s := p.shape
	if p.data == nil {
		return fmt.Errorf("%w: %s", ErrNoStorage, p.device)
	}
	if slot.Block < 0 || int(slot.Block) >= s.NumBlocks {
		return fmt.Errorf("%w: block %d not in pool of %d on %s", ErrInvalidBlock, slot.Block, s.NumBlocks, p.device)
	}
	if slot.Offset < 0 || slot.Offset >= s.BlockSize {
		return fmt.Errorf("%w: offset %d outside block of %d tokens", ErrPositionOutOfRange, slot.Offset, s.BlockSize)
	}
	if layer < 0 || layer >= s.Layers || head < 0 || head >= s.NumKVHeads || (kv != Key && kv != Value) {
		return fmt.Errorf("address layer=%d head=%d kv=%d outside pool shape %v", layer, head, kv, s)
	}
	if n != s.HeadGroups*s.VectorWidth {
		return fmt.Errorf("vector length %d does not match head_dim %d", n, s.HeadGroups*s.VectorWidth)
	}
	return nil
}

// WriteSlot scatters one token's head vector into the pool at slot.
func (p *BlockPool) WriteSlot(slot Slot, layer, head int, kv KVKind, vec []float32) error {
	if err := p.checkAddress(slot, layer, head, kv, len(vec)); err != nil {
		return err
	}
	w := p.shape.VectorWidth
	for g := 0; g < p.shape.HeadGroups; g++ {
		base := p.offset(slot.Block, layer, head, kv, g, slot.Offset, 0)
		for lane := 0; lane < w; lane++ {
			p.data[base+lane] = float16.Fromfloat32(vec[g*w+lane])
		}
	}
	return nil
}

// ReadSlot gathers one token's head vector from slot into dst.
func (p *BlockPool) ReadSlot(slot Slot, layer, head int, kv KVKind, dst []float32) error {
	if err := p.checkAddress(slot, layer, head, kv, len(dst)); err != nil {
		return err
	}
	w := p.shape.VectorWidth
	for g := 0; g < p.shape.HeadGroups; g++ {
		base := p.offset(slot.Block, layer, head, kv, g, slot.Offset, 0)
		for lane := 0; lane < w; lane++ {
			dst[g*w+lane] = p.data[base+lane].Float32()
		}
	}
	return nil
}
