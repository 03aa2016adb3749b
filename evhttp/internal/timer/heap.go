// Package timer keeps connection deadlines for a single event loop.
// It is not safe for concurrent use; the owning loop is the only caller.
package timer

import (
	"container/heap"
	"time"
)

// Timer is a handle to an armed deadline.
type Timer struct {
	Key      uint64
	Deadline time.Time
	index    int // -1 once fired or cancelled
}

// Armed reports whether t is still pending.
func (t *Timer) Armed() bool { return t != nil && t.index >= 0 }

// Heap orders timers by deadline.
type Heap struct {
	q queue
}

// Arm schedules key to expire at now+d.
func (h *Heap) Arm(key uint64, now time.Time, d time.Duration) *Timer {
	t := &Timer{Key: key, Deadline: now.Add(d)}
	heap.Push(&h.q, t)
	return t
}

// Cancel removes t. Cancelling a fired or cancelled timer is a no-op.
func (h *Heap) Cancel(t *Timer) bool {
	if !t.Armed() {
		return false
	}
	heap.Remove(&h.q, t.index)
	return true
}

// Len returns the number of pending timers.
func (h *Heap) Len() int { return len(h.q) }

// Until returns the time left before the earliest deadline, clamped at
// zero; ok is false when nothing is armed.
func (h *Heap) Until(now time.Time) (d time.Duration, ok bool) {
	if len(h.q) == 0 {
		return 0, false
	}
	d = h.q[0].Deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Expire pops every timer whose deadline is not after now, in deadline
// order, and calls fn for each. fn may arm or cancel other timers.
func (h *Heap) Expire(now time.Time, fn func(*Timer)) int {
	n := 0
	for len(h.q) > 0 && !h.q[0].Deadline.After(now) {
		t := heap.Pop(&h.q).(*Timer)
		n++
		fn(t)
	}
	return n
}

type queue []*Timer

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].Deadline.Before(q[j].Deadline) }

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
