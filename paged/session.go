package paged

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kendryte/nncase-sub001/paged/trace"
)

type options struct {
	logger *logrus.Logger
	trace  trace.TraceConfig
}

// Option configures NewKVCache.
type Option func(*options)

// WithLogger routes the session's log output through logger instead of the
// logrus standard logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTrace enables lifecycle event recording.
func WithTrace(config trace.TraceConfig) Option {
	return func(o *options) { o.trace = config }
}

// ID returns the session identifier attached to every log line.
func (c *KVCache) ID() uuid.UUID { return c.id }

// Trace returns the event trace, or nil when tracing is disabled.
func (c *KVCache) Trace() *trace.CacheTrace { return c.trace }

// Steps returns the number of BeginStep calls that got past validation.
func (c *KVCache) Steps() int64 { return c.steps.Load() }

// Close releases every live sequence and ends the session. Afterwards every
// operation except Release and Close returns ErrClosed. Close is idempotent.
func (c *KVCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	seqs := make([]*Sequence, 0, c.seqs.Len())
	for pair := c.seqs.Oldest(); pair != nil; pair = pair.Next() {
		seqs = append(seqs, pair.Value)
	}
	c.seqs = orderedmap.New[SequenceID, *Sequence]()
	c.mu.Unlock()

	var firstErr error
	for _, seq := range seqs {
		seq.mu.Lock()
		if err := seq.releaseTables(); err != nil && firstErr == nil {
			firstErr = err
		}
		seq.state = StateReleased
		seq.length = 0
		seq.mu.Unlock()
	}
	c.log.Infof("closed kv cache session: %d sequences released", len(seqs))
	return firstErr
}
