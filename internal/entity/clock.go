package entity

import "sync/atomic"

// Clock is a monotonic generation counter, one per store.
//
// Every published snapshot is stamped with the next generation, so two
// snapshots of the same store compare by identity through their
// generations, and a consumer can tell which of two snapshots is newer.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The store only calls Next while holding its lock.
type Clock struct {
	gen atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next generation and advances the clock.
func (c *Clock) Next() int64 {
	return c.gen.Add(1)
}

// Current returns the latest generation handed out.
func (c *Clock) Current() int64 {
	return c.gen.Load()
}
