// Package paged implements the paged KV cache manager used by autoregressive
// inference on a multi-chip, multi-die, multi-core accelerator.
//
// # Reading Guide
//
// Start with these files, leaf-first:
//   - topology.go: DeviceID (chip, die, core) and the static Topology registry
//   - allocator.go: per-core BlockAllocator (free list, all-or-nothing allocation)
//   - block_table.go: per-(sequence, device) BlockTable and its growth/truncation
//   - slot_mapping.go: the read-only position → (block, offset) resolver
//   - coordinator.go: KVCache, which drives every shard of a sequence per step
//
// # Ownership
//
// A core's BlockPool and BlockAllocator belong to that core. Block tables hold
// non-owning block ids that stay valid until the allocator reclaims them.
// The tensor-execution engine (Evaluator) reads and writes pool storage through
// the slot mappings returned by KVCache.BeginStep; it never allocates.
//
// # Sessions
//
// A KVCache is an explicit session handle. It owns every pool from NewKVCache
// until Close; the package keeps no process-wide state.
//
// # Concurrency
//
// KVCache may be called concurrently for different sequences. Calls for the
// same sequence are serialized internally, but callers are expected to issue
// one step per sequence at a time. Each BlockAllocator guards its free list
// with its own mutex.
package paged
