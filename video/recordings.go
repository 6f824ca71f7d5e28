// Package video manages the recordings written by the MP4 sinks.
package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	ExtVideo = ".mp4"

	// FileTimeLayout defines the format of filenames.
	// See https://golang.org/src/time/format.go.
	FileTimeLayout = "20060102-150405-0700"
)

type Recording struct {
	Time   time.Time
	Stream int
	Path   string
	Size   int64
}

// Recordings is a directory of annotated stream recordings. Once the total
// size passes MaxSize the oldest recordings are deleted.
type Recordings struct {
	BasePath string
	// MaxSize in bytes, zero keeps everything.
	MaxSize int64

	l sync.Mutex
	// active holds the paths still being written.
	active map[string]bool
}

func NewRecordings(path string, maxSize int64) (*Recordings, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &Recordings{
		BasePath: path,
		MaxSize:  maxSize,
		active:   make(map[string]bool),
	}, nil
}

// NewPath names the recording of a stream started at t.
func (r *Recordings) NewPath(stream int, t time.Time) string {
	return filepath.Join(r.BasePath, fmt.Sprintf("%s_stream%d%s", t.Format(FileTimeLayout), stream, ExtVideo))
}

// Begin names a new recording of a stream started at t and protects it from
// Prune until Done is called.
func (r *Recordings) Begin(stream int, t time.Time) string {
	path := r.NewPath(stream, t)
	r.l.Lock()
	defer r.l.Unlock()
	r.active[path] = true
	return path
}

// Done marks a recording as complete, making it eligible for pruning.
func (r *Recordings) Done(path string) {
	r.l.Lock()
	defer r.l.Unlock()
	delete(r.active, path)
}

// List returns the recordings found on disk, oldest first.
func (r *Recordings) List() ([]*Recording, error) {
	entries, err := os.ReadDir(r.BasePath)
	if err != nil {
		return nil, err
	}

	var recs []*Recording
	for _, e := range entries {
		b := e.Name()
		if e.IsDir() || len(b) < len(FileTimeLayout) || !strings.HasSuffix(b, ExtVideo) {
			continue
		}
		t, err := time.Parse(FileTimeLayout, b[:len(FileTimeLayout)])
		if err != nil {
			continue
		}
		var stream int
		if _, err := fmt.Sscanf(b[len(FileTimeLayout):], "_stream%d", &stream); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		recs = append(recs, &Recording{
			Time:   t,
			Stream: stream,
			Path:   filepath.Join(r.BasePath, b),
			Size:   info.Size(),
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Time.Equal(recs[j].Time) {
			return recs[i].Stream < recs[j].Stream
		}
		return recs[i].Time.Before(recs[j].Time)
	})
	return recs, nil
}

// Prune deletes the oldest complete recordings until the directory fits
// MaxSize and returns how many were removed. Recordings still being written
// count towards the total but are never removed.
func (r *Recordings) Prune() (int, error) {
	if r.MaxSize <= 0 {
		return 0, nil
	}
	r.l.Lock()
	defer r.l.Unlock()

	recs, err := r.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, rec := range recs {
		total += rec.Size
	}
	n := 0
	for _, rec := range recs {
		if total <= r.MaxSize {
			break
		}
		if r.active[rec.Path] {
			continue
		}
		if err := os.Remove(rec.Path); err != nil {
			return n, err
		}
		log.Infof("Removed old recording %v", rec.Path)
		total -= rec.Size
		n++
	}
	return n, nil
}
