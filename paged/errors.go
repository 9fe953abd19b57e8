package paged

import "errors"

var (
	// ErrCacheExhausted is returned when a core has too few free blocks for a
	// request. It is the only retryable error: callers recover by preempting
	// or releasing other sequences.
	ErrCacheExhausted = errors.New("kv cache exhausted")

	// ErrInvalidBlock is returned when a block id is out of range or is not
	// held by the caller.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrPositionOutOfRange is returned when a token position has no block in
	// the table. Capacity must be ensured before resolving.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrUnknownSequence is returned for operations on a sequence that is not
	// registered. Release treats it as a no-op.
	ErrUnknownSequence = errors.New("unknown sequence")

	ErrDuplicateSequence = errors.New("sequence already admitted")
	ErrSequencePreempted = errors.New("sequence is preempted")
	ErrInvalidConfig     = errors.New("invalid kv cache config")
	ErrNoStorage         = errors.New("block pool has no storage")
	ErrClosed            = errors.New("kv cache closed")
)

// IsRetryable reports whether err is a capacity condition the caller may
// resolve by freeing blocks and retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCacheExhausted)
}
