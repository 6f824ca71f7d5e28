// Package queue provides the bounded per-stream queues that link capture,
// inference completion and compositing.
package queue

import (
	"time"
)

// Policy decides what happens when Put finds the queue full.
type Policy struct {
	// Wait is how long Put may block for space before dropping the item.
	// Zero drops immediately.
	Wait time.Duration
}

// DropWhenFull never blocks the producer. Used for live sources, where a
// stale frame is worse than a lost one.
var DropWhenFull = Policy{}

// WaitThenDrop blocks the producer for at most d before dropping.
func WaitThenDrop(d time.Duration) Policy {
	return Policy{Wait: d}
}

// Queue is a bounded FIFO for a single producer and a single consumer. Len
// never exceeds Cap.
type Queue[T any] struct {
	c      chan T
	policy Policy

	// wake, if set, receives a non-blocking signal after each successful Put.
	wake chan<- struct{}
}

func New[T any](capacity int, policy Policy) *Queue[T] {
	return &Queue[T]{
		c:      make(chan T, capacity),
		policy: policy,
	}
}

// NotifyOn registers a channel that is signalled whenever an item is queued.
// Must be called before the queue is shared between goroutines.
func (q *Queue[T]) NotifyOn(wake chan<- struct{}) {
	q.wake = wake
}

// Put inserts v according to the queue policy and reports whether it was
// queued. A bounded wait is abandoned early once abort is closed. On false,
// ownership of v stays with the caller.
func (q *Queue[T]) Put(v T, abort <-chan struct{}) bool {
	select {
	case q.c <- v:
		q.signal()
		return true
	default:
	}
	if q.policy.Wait <= 0 {
		return false
	}

	t := time.NewTimer(q.policy.Wait)
	defer t.Stop()
	select {
	case q.c <- v:
		q.signal()
		return true
	case <-t.C:
		return false
	case <-abort:
		return false
	}
}

func (q *Queue[T]) signal() {
	if q.wake == nil {
		return
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryGet dequeues the head item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case v := <-q.c:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.c)
}

func (q *Queue[T]) Cap() int {
	return cap(q.c)
}

func (q *Queue[T]) Full() bool {
	return len(q.c) == cap(q.c)
}

// Drain removes every queued item, handing each to release.
func (q *Queue[T]) Drain(release func(T)) int {
	n := 0
	for {
		v, ok := q.TryGet()
		if !ok {
			return n
		}
		if release != nil {
			release(v)
		}
		n++
	}
}
