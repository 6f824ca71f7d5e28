// Package fps tracks per-stream inference throughput over a sliding window.
package fps

import (
	"sync"
	"time"
)

const (
	// WindowSize is the number of inter-delivery deltas averaged.
	WindowSize = 30
	// RecomputeEvery throttles how often the average is refreshed.
	RecomputeEvery = 15
)

// Tracker measures the rate at which detection sets are delivered for one
// stream. The reported value only changes every RecomputeEvery samples.
type Tracker struct {
	mu     sync.Mutex
	dt     [WindowSize]time.Duration
	idx    int
	filled int
	last   time.Time
	fps    float64
}

// NewTracker starts a tracker whose first delta is measured from start.
func NewTracker(start time.Time) *Tracker {
	return &Tracker{last: start}
}

// Tick records a delivery at now.
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dt[t.idx] = now.Sub(t.last)
	t.idx = (t.idx + 1) % WindowSize
	t.last = now
	if t.filled < WindowSize {
		t.filled++
	}

	if t.idx%RecomputeEvery == 0 {
		var sum time.Duration
		for _, d := range t.dt[:t.filled] {
			sum += d
		}
		// Only populated slots count until the window has wrapped once.
		if mean := sum.Seconds() / float64(t.filled); mean > 0 {
			t.fps = 1 / mean
		}
	}
}

// FPS returns the most recently computed rate, zero before the first
// recompute.
func (t *Tracker) FPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fps
}
