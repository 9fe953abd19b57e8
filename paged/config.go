package paged

import "fmt"

// DefaultVectorWidth is the hardware vector width that groups the head dimension.
const DefaultVectorWidth = 64

// CacheConfig groups the per-core block pool parameters. The same
// configuration applies to every core of the topology.
type CacheConfig struct {
	Layers        int  // transformer layers stored per block
	NumKVHeads    int  // KV heads assigned to each core
	HeadDim       int  // head dimension (must be a multiple of VectorWidth)
	BlockSize     int  // tokens per block (must be > 0)
	BlocksPerCore int  // blocks in each core's pool (must be > 0)
	VectorWidth   int  // 0 means DefaultVectorWidth
	MetadataOnly  bool // skip the dense K/V backing store
}

// PoolShape is the dense layout of one core's block pool:
// [NumBlocks, Layers, NumKVHeads, KV, HeadDim/VectorWidth, BlockSize, VectorWidth].
type PoolShape struct {
	NumBlocks   int
	Layers      int
	NumKVHeads  int
	KV          int
	HeadGroups  int
	BlockSize   int
	VectorWidth int
}

// Dims returns the shape as a 7-element slice in layout order.
func (s PoolShape) Dims() []int {
	return []int{s.NumBlocks, s.Layers, s.NumKVHeads, s.KV, s.HeadGroups, s.BlockSize, s.VectorWidth}
}

// Elements returns the total number of elements in the pool.
func (s PoolShape) Elements() int {
	n := 1
	for _, d := range s.Dims() {
		n *= d
	}
	return n
}

// BlockElements returns the number of elements in one block.
func (s PoolShape) BlockElements() int {
	return s.Elements() / s.NumBlocks
}

func (s PoolShape) String() string {
	return fmt.Sprint(s.Dims())
}

// withDefaults returns a copy with zero-valued optional fields filled in.
func (c CacheConfig) withDefaults() CacheConfig {
	if c.VectorWidth == 0 {
		c.VectorWidth = DefaultVectorWidth
	}
	return c
}

// Validate checks that every dimension is usable. It reports the first problem found.
func (c CacheConfig) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Layers <= 0:
		return fmt.Errorf("%w: layers must be > 0, got %d", ErrInvalidConfig, c.Layers)
	case c.NumKVHeads <= 0:
		return fmt.Errorf("%w: num_kv_heads must be > 0, got %d", ErrInvalidConfig, c.NumKVHeads)
	case c.VectorWidth < 0:
		return fmt.Errorf("%w: vector_width must be > 0, got %d", ErrInvalidConfig, c.VectorWidth)
	case c.HeadDim <= 0 || c.HeadDim%c.VectorWidth != 0:
		return fmt.Errorf("%w: head_dim must be a positive multiple of %d, got %d", ErrInvalidConfig, c.VectorWidth, c.HeadDim)
	case c.BlockSize <= 0:
		return fmt.Errorf("%w: block_size must be > 0, got %d", ErrInvalidConfig, c.BlockSize)
	case c.BlocksPerCore <= 0:
		return fmt.Errorf("%w: blocks_per_core must be > 0, got %d", ErrInvalidConfig, c.BlocksPerCore)
	}
	return nil
}

// PoolShape returns the per-core pool layout described by c.
func (c CacheConfig) PoolShape() PoolShape {
	c = c.withDefaults()
	return PoolShape{
		NumBlocks:   c.BlocksPerCore,
		Layers:      c.Layers,
		NumKVHeads:  c.NumKVHeads,
		KV:          2,
		HeadGroups:  c.HeadDim / c.VectorWidth,
		BlockSize:   c.BlockSize,
		VectorWidth: c.VectorWidth,
	}
}

// TokensPerCore is the token capacity of one core's pool.
func (c CacheConfig) TokensPerCore() int {
	return c.BlocksPerCore * c.BlockSize
}
