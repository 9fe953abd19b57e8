// Package sim drives a paged KV cache with a synthetic decode workload.
//
// # Reading Guide
//
//   - request.go: Request lifecycle (queued → running → completed | dropped)
//   - workload.go: seeded generation of prompt and output lengths
//   - sharding.go: which cores each sequence's KV heads live on
//   - simulator.go: the step loop, admission, tail-eviction preemption
//   - evaluator.go: a stand-in execution engine that scatters and gathers K/V
//
// Everything is deterministic for a given seed: requests are processed in
// admission order and the RNG is partitioned per subsystem.
package sim
