// Package latest holds the most recent annotated frame of every stream. There
// is a single writer per stream and any number of concurrent readers; no
// history is retained.
package latest

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrUnknownStream = errors.New("unknown stream")

// Frame is an encoded image together with its generation. Generations start
// at 1 and increase by one on every publish to the same stream.
type Frame struct {
	Data       []byte
	Generation uint64
	Time       time.Time
}

type slot struct {
	mu    sync.RWMutex
	frame Frame
	// changed is closed and replaced on every publish.
	changed chan struct{}
}

type Store struct {
	slots []*slot
}

func NewStore(streams int) *Store {
	s := &Store{slots: make([]*slot, streams)}
	for i := range s.slots {
		s.slots[i] = &slot{changed: make(chan struct{})}
	}
	return s
}

func (s *Store) Streams() int {
	return len(s.slots)
}

func (s *Store) get(id int) (*slot, error) {
	if id < 0 || id >= len(s.slots) {
		return nil, ErrUnknownStream
	}
	return s.slots[id], nil
}

// Publish replaces the stream's frame and returns its new generation. The
// store takes ownership of data.
func (s *Store) Publish(id int, data []byte, t time.Time) (uint64, error) {
	sl, err := s.get(id)
	if err != nil {
		return 0, err
	}
	sl.mu.Lock()
	sl.frame = Frame{
		Data:       data,
		Generation: sl.frame.Generation + 1,
		Time:       t,
	}
	gen := sl.frame.Generation
	close(sl.changed)
	sl.changed = make(chan struct{})
	sl.mu.Unlock()
	return gen, nil
}

// Latest returns the current frame of a stream, or false if nothing has been
// published yet. Frame.Data must not be modified by the caller.
func (s *Store) Latest(id int) (Frame, bool, error) {
	sl, err := s.get(id)
	if err != nil {
		return Frame{}, false, err
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.frame, sl.frame.Generation > 0, nil
}

// Wait blocks until the stream holds a generation newer than after, or ctx is
// done.
func (s *Store) Wait(ctx context.Context, id int, after uint64) (Frame, error) {
	sl, err := s.get(id)
	if err != nil {
		return Frame{}, err
	}
	for {
		sl.mu.RLock()
		f, changed := sl.frame, sl.changed
		sl.mu.RUnlock()
		if f.Generation > after {
			return f, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}
