package sim

import "slices"

// WaitQueue holds requests that have no cache space yet. New requests join
// at the back. A preempted request rejoins at the head, so it recomputes its
// lost tokens before anything that arrived after it is admitted.
type WaitQueue struct {
	reqs []*Request
}

// Push appends a newly generated request.
func (q *WaitQueue) Push(r *Request) {
	q.reqs = append(q.reqs, r)
}

// Requeue puts a preempted request back at the head.
func (q *WaitQueue) Requeue(r *Request) {
	if r == nil {
		panic("WaitQueue.Requeue: nil request")
	}
	q.reqs = slices.Insert(q.reqs, 0, r)
}

// Len returns the number of waiting requests.
func (q *WaitQueue) Len() int { return len(q.reqs) }

// Head returns the next request to admit, or nil when nothing waits.
func (q *WaitQueue) Head() *Request {
	if len(q.reqs) == 0 {
		return nil
	}
	return q.reqs[0]
}

// Pop removes and returns the head, or nil when nothing waits.
func (q *WaitQueue) Pop() *Request {
	r := q.Head()
	if r != nil {
		q.reqs[0] = nil
		q.reqs = q.reqs[1:]
	}
	return r
}
