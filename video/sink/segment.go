package sink

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"siteguard/video/source"
)

// SegmentStore names recording segments and tracks which ones are still being
// written.
type SegmentStore interface {
	Begin(stream int, t time.Time) string
	Done(path string)
}

// SegmentOpener starts a sink writing to path.
type SegmentOpener func(path string) (Sink, error)

// Segmented splits the recording of one stream into files covering at most
// length of stream time each. Finished segments are closed in the background
// so Put never waits for a file to be finalized.
type Segmented struct {
	store  SegmentStore
	stream int
	length time.Duration
	open   SegmentOpener

	cur     Sink
	path    string
	started time.Time
	wg      sync.WaitGroup
}

func NewSegmented(store SegmentStore, stream int, length time.Duration, open SegmentOpener) *Segmented {
	return &Segmented{
		store:  store,
		stream: stream,
		length: length,
		open:   open,
	}
}

func (s *Segmented) Put(input source.Image) {
	if s.started.IsZero() || input.Time.Sub(s.started) >= s.length {
		s.rotate(input.Time)
	}
	if s.cur != nil {
		s.cur.Put(input)
	}
}

func (s *Segmented) rotate(t time.Time) {
	s.finish()
	// A failed open is retried at the next segment boundary.
	s.started = t

	path := s.store.Begin(s.stream, t)
	sk, err := s.open(path)
	if err != nil {
		log.Errorf("Failed to start recording segment %v: %v", path, err)
		s.store.Done(path)
		return
	}
	s.cur, s.path = sk, path
}

func (s *Segmented) finish() {
	if s.cur == nil {
		return
	}
	cur, path := s.cur, s.path
	s.cur, s.path = nil, ""

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cur.Close()
		s.store.Done(path)
	}()
}

// Close finalizes the current segment and waits for every segment to be
// closed.
func (s *Segmented) Close() {
	s.finish()
	s.wg.Wait()
}
