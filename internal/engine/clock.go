package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping every dispatched step.
//
// Steps carry a strictly increasing seq number so that the run log, the
// trace, and the archive all agree on ordering without consulting wall
// time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the scheduler's one-dispatch-at-a-time design means only one
// goroutine normally calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
