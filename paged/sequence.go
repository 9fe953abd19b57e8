package paged

import (
	"slices"
	"sync"
)

// SequenceID names one in-flight generation request.
type SequenceID string

// SequenceState is the lifecycle state of a sequence's cache shards.
type SequenceState string

const (
	StateUnallocated SequenceState = "unallocated"
	StateActive      SequenceState = "active"
	StatePreempted   SequenceState = "preempted"
	StateReleased    SequenceState = "released"
)

// Sequence owns one BlockTable per shard device. Shards are fixed at admission
// by the caller's sharding decision.
//
// State machine: unallocated → active → {released | preempted};
// preempted → unallocated via Resume; released is terminal.
type Sequence struct {
	mu sync.Mutex

	id       SequenceID
	priority int
	shards   []DeviceID    // sorted
	tables   []*BlockTable // parallel to shards
	state    SequenceState
	length   int // tokens with cache blocks
	// preemptedLength is the length recorded by the last Preempt; the caller
	// recomputes this many tokens after Resume.
	preemptedLength int
}

func (s *Sequence) ID() SequenceID { return s.id }

func (s *Sequence) Priority() int { return s.priority }

// Shards returns the shard devices in DeviceID order.
func (s *Sequence) Shards() []DeviceID { return slices.Clone(s.shards) }

// State returns the current lifecycle state.
func (s *Sequence) State() SequenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Len returns the number of tokens currently backed by cache blocks.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// PreemptedLength returns the length recorded by the last preemption.
func (s *Sequence) PreemptedLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preemptedLength
}

// BlockTable returns a snapshot of the block ids held on device d.
func (s *Sequence) BlockTable(d DeviceID) ([]BlockID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sd := range s.shards {
		if sd == d {
			return s.tables[i].Blocks(), true
		}
	}
	return nil, false
}

// releaseTables frees every shard's blocks. Caller holds s.mu.
func (s *Sequence) releaseTables() error {
	var firstErr error
	for _, t := range s.tables {
		if err := t.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
