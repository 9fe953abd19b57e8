package sim

import (
	"fmt"

	"github.com/kendryte/nncase-sub001/paged"
)

// RequestState represents the lifecycle state of a request.
type RequestState string

const (
	StateQueued    RequestState = "queued"
	StateRunning   RequestState = "running"
	StateCompleted RequestState = "completed"
	StateDropped   RequestState = "dropped"
)

// Request is one generation request: a prompt followed by a fixed number of
// output tokens. Each step that runs the request produces one output token.
type Request struct {
	ID           paged.SequenceID
	PromptTokens int
	OutputTokens int // >= 1
	Shards       []paged.DeviceID

	State       RequestState
	Generated   int  // output tokens produced so far
	Admitted    bool // registered with the cache
	Preemptions int

	ScheduledStep int64 // step of the most recent (re)admission
	FinishedStep  int64
}

// CachedTokens is the number of tokens whose K/V the cache holds while the
// request is running: the prompt plus every output token except the newest,
// which is fed back in the next step.
func (r *Request) CachedTokens() int {
	return r.PromptTokens + max(r.Generated-1, 0)
}

// PeakTokens is the cache length the request reaches on its final step.
func (r *Request) PeakTokens() int {
	return r.PromptTokens + r.OutputTokens - 1
}

// Done reports whether every output token has been produced.
func (r *Request) Done() bool {
	return r.Generated >= r.OutputTokens
}

func (r *Request) String() string {
	return fmt.Sprintf("%s(%s, %d+%d/%d)", r.ID, r.State, r.PromptTokens, r.Generated, r.OutputTokens)
}
