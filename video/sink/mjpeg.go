package sink

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"siteguard/metrics"
	"siteguard/util"
	"siteguard/video/latest"
	"siteguard/video/source"
)

// Multipart boundary expected by browsers consuming the feed from an <img>.
const boundaryWord = "frame"

const DefaultJPEGQuality = 90

// MJPEGServer publishes the latest annotated frame of every stream and serves
// them as multipart MJPEG to any number of HTTP clients.
type MJPEGServer struct {
	store    *latest.Store
	shutdown *util.Event

	l          sync.RWMutex
	quality    int
	maxFPS     float64
	pathPrefix string
}

func NewMJPEGServer(streams int) *MJPEGServer {
	return &MJPEGServer{
		store:      latest.NewStore(streams),
		shutdown:   util.NewEvent(),
		quality:    DefaultJPEGQuality,
		pathPrefix: "/video_feed",
	}
}

// Store exposes the per-stream latest frames.
func (s *MJPEGServer) Store() *latest.Store {
	return s.store
}

// SetJPEGQuality changes the encoding quality of subsequently published frames.
func (s *MJPEGServer) SetJPEGQuality(q int) {
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	s.l.Lock()
	defer s.l.Unlock()
	s.quality = q
}

// SetMaxClientFPS limits the frame rate sent to each newly connected client.
// Zero means unlimited.
func (s *MJPEGServer) SetMaxClientFPS(fps float64) {
	s.l.Lock()
	defer s.l.Unlock()
	s.maxFPS = fps
}

func (s *MJPEGServer) settings() (int, float64) {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.quality, s.maxFPS
}

// Shutdown ends every client stream.
func (s *MJPEGServer) Shutdown() {
	s.shutdown.Notify()
}

// Stream returns the publishing Sink for a stream.
func (s *MJPEGServer) Stream(id int) *MJPEGStream {
	return &MJPEGStream{id: id, parent: s}
}

// ServeHTTP implements http.Handler, serving /video_feed[/<id>].
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := ParseStreamID(r.URL.Path, s.pathPrefix)
	if err != nil || id >= s.store.Streams() {
		http.Error(w, "unknown stream ID", http.StatusNotFound)
		return
	}

	clog := log.WithFields(log.Fields{
		"addr":   r.RemoteAddr,
		"stream": id,
		"conn":   uuid.New().String(),
	})
	clog.Infof("MJPEG stream connected")

	label := strconv.Itoa(id)
	metrics.StreamClients.WithLabelValues(label).Inc()
	defer metrics.StreamClients.WithLabelValues(label).Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-s.shutdown.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundaryWord)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundaryWord); err != nil {
		clog.Errorf("Failed to set multipart boundary: %v", err)
		return
	}

	var limiter *rate.Limiter
	if _, maxFPS := s.settings(); maxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxFPS), 1)
	}

	sent := 0
	var gen uint64
	for {
		f, err := s.store.Wait(ctx, id, gen)
		if err != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(f.Data))},
		})
		if err != nil {
			break
		}
		if _, err := part.Write(f.Data); err != nil {
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
		gen = f.Generation
		sent++
	}
	clog.Infof("MJPEG stream disconnected after %d frames", sent)
}

// SnapshotHandler serves the latest frame of /snapshot/<id> as a single JPEG.
func (s *MJPEGServer) SnapshotHandler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := ParseStreamID(r.URL.Path, prefix)
		if err != nil {
			http.Error(w, "unknown stream ID", http.StatusNotFound)
			return
		}
		f, ok, err := s.store.Latest(id)
		if err != nil {
			http.Error(w, "unknown stream ID", http.StatusNotFound)
			return
		}
		if !ok {
			http.Error(w, "no frame published yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
		w.Header().Set("X-Frame-Generation", strconv.FormatUint(f.Generation, 10))
		w.Write(f.Data)
	})
}

// ParseStreamID extracts the stream index following prefix. A bare prefix
// selects stream 0.
func ParseStreamID(path, prefix string) (int, error) {
	if !strings.HasPrefix(path, prefix) {
		return 0, fmt.Errorf("path %q outside %q", path, prefix)
	}
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("bad stream ID %q", rest)
	}
	return id, nil
}

// MJPEGStream is the Sink that publishes one stream's frames.
type MJPEGStream struct {
	id     int
	parent *MJPEGServer
}

func (s *MJPEGStream) Put(input source.Image) {
	quality, _ := s.parent.settings()
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, input.Mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %d: %v", s.id, err)
		return
	}
	// Copy out of native memory; the slot keeps the bytes until replaced.
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	s.PutEncoded(jpeg, input)
}

// PutEncoded publishes an already encoded frame.
func (s *MJPEGStream) PutEncoded(jpeg []byte, input source.Image) {
	if _, err := s.parent.store.Publish(s.id, jpeg, input.Time); err != nil {
		log.Errorf("Failed to publish frame for stream %d: %v", s.id, err)
		return
	}
	metrics.FramesPublished.WithLabelValues(strconv.Itoa(s.id)).Inc()
}

func (s *MJPEGStream) Close() {}
