package latest

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestBeforePublish(t *testing.T) {
	s := NewStore(2)
	_, ok, err := s.Latest(1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Latest(2)
	assert.ErrorIs(t, err, ErrUnknownStream)
	_, err = s.Publish(-1, nil, time.Now())
	assert.ErrorIs(t, err, ErrUnknownStream)
}

func TestPublishReplacesAndBumpsGeneration(t *testing.T) {
	s := NewStore(2)
	g1, err := s.Publish(0, []byte("a"), time.Now())
	require.NoError(t, err)
	g2, err := s.Publish(0, []byte("b"), time.Now())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), g1)
	assert.Equal(t, uint64(2), g2)

	f, ok, err := s.Latest(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), f.Data)
	assert.Equal(t, uint64(2), f.Generation)

	// Streams are independent.
	_, ok, _ = s.Latest(1)
	assert.False(t, ok)
}

func TestWaitReturnsNewerGeneration(t *testing.T) {
	s := NewStore(1)
	_, err := s.Publish(0, []byte("a"), time.Now())
	require.NoError(t, err)

	// Already newer than 0: returns immediately.
	f, err := s.Wait(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Generation)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Publish(0, []byte("b"), time.Now())
	}()
	f, err = s.Wait(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Generation)
	assert.Equal(t, []byte("b"), f.Data)
}

func TestWaitHonoursContext(t *testing.T) {
	s := NewStore(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Readers must never see the generation go backwards, nor a frame whose data
// does not belong to its generation.
func TestConcurrentReadersSeeMonotonicConsistentFrames(t *testing.T) {
	s := NewStore(1)
	const writes = 2000

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for last < writes {
				f, ok, err := s.Latest(0)
				if err != nil {
					t.Error(err)
					return
				}
				if !ok {
					continue
				}
				if f.Generation < last {
					t.Errorf("generation went backwards: %d after %d", f.Generation, last)
					return
				}
				if !bytes.Equal(f.Data, payload(f.Generation)) {
					t.Errorf("torn frame at generation %d", f.Generation)
					return
				}
				last = f.Generation
			}
		}()
	}

	for i := uint64(1); i <= writes; i++ {
		_, err := s.Publish(0, payload(i), time.Now())
		require.NoError(t, err)
	}
	wg.Wait()
}

func payload(gen uint64) []byte {
	return []byte{byte(gen), byte(gen >> 8), byte(gen >> 16)}
}
