package sink

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteguard/video/source"
)

type fakeStore struct {
	mu     sync.Mutex
	active map[string]bool
	begun  []string
}

func (f *fakeStore) Begin(stream int, t time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("%d_stream%d.mp4", t.Unix(), stream)
	if f.active == nil {
		f.active = make(map[string]bool)
	}
	f.active[path] = true
	f.begun = append(f.begun, path)
	return path
}

func (f *fakeStore) Done(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, path)
}

func (f *fakeStore) isActive(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[path]
}

type segmentSink struct {
	timeSink
	path string
}

func TestSegmentedRotates(t *testing.T) {
	store := &fakeStore{}
	var opened []*segmentSink
	s := NewSegmented(store, 2, time.Minute, func(path string) (Sink, error) {
		sk := &segmentSink{path: path}
		opened = append(opened, sk)
		return sk, nil
	})

	start := time.Unix(1000, 0)
	for _, d := range []time.Duration{0, 30 * time.Second, 59 * time.Second, time.Minute, 90 * time.Second} {
		s.Put(source.Image{Time: start.Add(d)})
	}
	require.Len(t, opened, 2)
	assert.Equal(t, []string{"1000_stream2.mp4", "1060_stream2.mp4"}, store.begun)
	assert.Len(t, opened[0].times, 3)
	assert.Len(t, opened[1].times, 2)

	// The first segment is finalized in the background once the second
	// starts; the second stays active until Close.
	assert.Eventually(t, func() bool { return !store.isActive(opened[0].path) }, time.Second, 5*time.Millisecond)
	assert.True(t, store.isActive(opened[1].path))

	s.Close()
	assert.True(t, opened[0].closed)
	assert.True(t, opened[1].closed)
	assert.False(t, store.isActive(opened[1].path))
}

func TestSegmentedRetriesFailedOpen(t *testing.T) {
	store := &fakeStore{}
	fail := true
	var opened []*segmentSink
	s := NewSegmented(store, 0, time.Minute, func(path string) (Sink, error) {
		if fail {
			return nil, errors.New("no ffmpeg")
		}
		sk := &segmentSink{path: path}
		opened = append(opened, sk)
		return sk, nil
	})

	start := time.Unix(1000, 0)
	s.Put(source.Image{Time: start})
	assert.Empty(t, opened)
	assert.False(t, store.isActive(store.begun[0]))

	fail = false
	s.Put(source.Image{Time: start.Add(time.Second)})
	assert.Empty(t, opened, "reopened before the segment boundary")
	s.Put(source.Image{Time: start.Add(time.Minute)})
	require.Len(t, opened, 1)
	assert.Len(t, opened[0].times, 1)

	s.Close()
	assert.True(t, opened[0].closed)
}
