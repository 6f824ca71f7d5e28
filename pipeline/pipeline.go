// Package pipeline links video sources, an inference accelerator and the
// annotated-frame sinks of every stream.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"siteguard/inference"
	"siteguard/metrics"
	"siteguard/util"
	"siteguard/video/fps"
	"siteguard/video/process"
	"siteguard/video/queue"
	"siteguard/video/sink"
	"siteguard/video/source"
)

const (
	CaptureQueueSize   = 4
	DetectionQueueSize = 5
	// InsertTimeout bounds how long a producer waits on a full queue when
	// dropping is not acceptable.
	InsertTimeout = 2 * time.Second
)

// StreamConfig wires one video source to its model and outputs.
type StreamConfig struct {
	Source source.Source
	Model  inference.Model
	// Sinks receive the annotated frames, in order.
	Sinks []sink.Sink
}

type Options struct {
	// ReleaseExhausted closes a source as soon as it runs out of frames rather
	// than when the pipeline stops.
	ReleaseExhausted bool
	// MinConfidence hides detections scoring below it.
	MinConfidence float32
}

type stream struct {
	id    int
	label string
	log   *log.Entry

	src     source.Source
	model   inference.Model
	sink    sink.Sink
	palette process.Palette

	frames *queue.Queue[source.Image]
	dets   *queue.Queue[inference.Set]
	fps    *fps.Tracker

	exhausted   *util.Event
	releaseOnce sync.Once
}

// Pipeline runs the capture, inference and compositing stages of all streams.
type Pipeline struct {
	streams []*stream
	acc     inference.Accelerator
	opts    Options

	shutdown *util.Event
	wake     chan struct{}

	l             sync.Mutex
	started       bool
	minConfidence float32
}

func New(acc inference.Accelerator, configs []StreamConfig, opts Options) (*Pipeline, error) {
	if len(configs) == 0 {
		return nil, errors.New("no streams configured")
	}
	p := &Pipeline{
		acc:           acc,
		opts:          opts,
		shutdown:      util.NewEvent(),
		wake:          make(chan struct{}, 1),
		minConfidence: opts.MinConfidence,
	}
	for i, c := range configs {
		if c.Source == nil || c.Model == nil {
			return nil, fmt.Errorf("stream %d: source and model are required", i)
		}
		policy := queue.WaitThenDrop(InsertTimeout)
		if c.Source.Live() {
			policy = queue.DropWhenFull
		}
		s := &stream{
			id:        i,
			label:     strconv.Itoa(i),
			log:       log.WithField("stream", i),
			src:       c.Source,
			model:     c.Model,
			sink:      sink.Multi(c.Sinks),
			palette:   process.NewPalette(i),
			frames:    queue.New[source.Image](CaptureQueueSize, policy),
			dets:      queue.New[inference.Set](DetectionQueueSize, queue.WaitThenDrop(InsertTimeout)),
			exhausted: util.NewEvent(),
		}
		s.frames.NotifyOn(p.wake)
		s.dets.NotifyOn(p.wake)
		p.streams = append(p.streams, s)
	}
	return p, nil
}

func (p *Pipeline) NumStreams() int {
	return len(p.streams)
}

// Exhausted returns the event notified once a stream stops capturing.
func (p *Pipeline) Exhausted(id int) *util.Event {
	return p.streams[id].exhausted
}

// SetMinConfidence changes the overlay threshold while running.
func (p *Pipeline) SetMinConfidence(c float32) {
	p.l.Lock()
	defer p.l.Unlock()
	p.minConfidence = c
}

func (p *Pipeline) getMinConfidence() float32 {
	p.l.Lock()
	defer p.l.Unlock()
	return p.minConfidence
}

// Stop asks a running pipeline to wind down. Run returns once it has.
func (p *Pipeline) Stop() {
	p.shutdown.Notify()
}

// Run streams until every source is exhausted, the accelerator fails or Stop
// is called. Sources and sinks are released before it returns.
func (p *Pipeline) Run() error {
	p.l.Lock()
	if p.started {
		p.l.Unlock()
		return errors.New("pipeline already started")
	}
	now := time.Now()
	for _, s := range p.streams {
		s.fps = fps.NewTracker(now)
	}
	p.started = true
	p.l.Unlock()

	compositorDone := util.NewEvent()
	go func() {
		defer compositorDone.Notify()
		p.composite()
	}()

	err := p.acc.ConnectStreams(p.input, p.output, len(p.streams))
	if err == nil {
		log.Infof("Pipeline started on %d streams", len(p.streams))
		err = p.acc.Wait()
	}
	if err != nil {
		log.Errorf("Pipeline failed: %v", err)
	}
	// Either every source is exhausted or the run cannot continue.
	p.shutdown.Notify()
	compositorDone.Wait()

	p.teardown()
	log.Infof("Pipeline stopped")
	return err
}

// input is called by the accelerator to fetch the next tensor of a stream.
func (p *Pipeline) input(id int) (gocv.Mat, error) {
	s := p.streams[id]
	for {
		if p.shutdown.HasBeenNotified() {
			p.exhaust(s)
			return gocv.Mat{}, io.EOF
		}
		img, err := s.src.Read()
		if err != nil {
			if err != io.EOF {
				s.log.Warnf("Read failed, treating as end of stream: %v", err)
			}
			p.exhaust(s)
			return gocv.Mat{}, io.EOF
		}
		metrics.FramesCaptured.WithLabelValues(s.label).Inc()

		if s.src.Live() && s.frames.Full() {
			img.Close()
			p.dropFrame(s, img.Seq)
			continue
		}

		tensor, err := s.model.Preprocess(img.Mat)
		if err != nil {
			img.Close()
			return gocv.Mat{}, p.abort(fmt.Errorf("preprocess: %w", err))
		}
		if !s.frames.Put(img, p.shutdown.Done()) {
			tensor.Close()
			img.Close()
			p.dropFrame(s, img.Seq)
			continue
		}
		metrics.QueueLength.WithLabelValues(s.label, "capture").Set(float64(s.frames.Len()))
		return tensor, nil
	}
}

// abort ends the run for every stream after a fatal error.
func (p *Pipeline) abort(err error) error {
	p.shutdown.Notify()
	return err
}

func (p *Pipeline) dropFrame(s *stream, seq uint64) {
	metrics.FramesDropped.WithLabelValues(s.label).Inc()
	s.log.Debugf("Dropped frame %d", seq)
}

func (p *Pipeline) exhaust(s *stream) {
	if !s.exhausted.HasBeenNotified() {
		s.log.Infof("Capture stopped")
	}
	s.exhausted.Notify()
	if p.opts.ReleaseExhausted {
		p.releaseSource(s)
	}
}

func (p *Pipeline) releaseSource(s *stream) {
	s.releaseOnce.Do(func() {
		if err := s.src.Close(); err != nil {
			s.log.Warnf("Failed to close source: %v", err)
		}
	})
}

// output is called by the accelerator with the raw results of a tensor.
func (p *Pipeline) output(id int, outputs []gocv.Mat) error {
	s := p.streams[id]
	set, err := s.model.Postprocess(outputs)
	if err != nil {
		return p.abort(fmt.Errorf("postprocess: %w", err))
	}
	if !s.dets.Put(set, p.shutdown.Done()) {
		metrics.DetectionsDropped.WithLabelValues(s.label).Inc()
		s.log.Debugf("Dropped detection set of %d", len(set))
	}
	metrics.QueueLength.WithLabelValues(s.label, "detection").Set(float64(s.dets.Len()))

	s.fps.Tick(time.Now())
	metrics.InferenceFPS.WithLabelValues(s.label).Set(s.fps.FPS())
	return nil
}

func (p *Pipeline) teardown() {
	for _, s := range p.streams {
		n := s.frames.Drain(func(img source.Image) { img.Close() })
		m := s.dets.Drain(nil)
		if n+m > 0 {
			s.log.Debugf("Discarded %d frames and %d detection sets", n, m)
		}
		p.releaseSource(s)
		s.sink.Close()
	}
}

// Status is a point-in-time summary for the status endpoints.
type Status struct {
	Status  string             `json:"status"`
	Streams int                `json:"streams,omitempty"`
	FPS     map[string]float64 `json:"fps,omitempty"`
}

func (p *Pipeline) Status() Status {
	p.l.Lock()
	started := p.started
	p.l.Unlock()
	if !started {
		return Status{Status: "not initialized"}
	}

	st := Status{
		Status:  "running",
		Streams: len(p.streams),
		FPS:     make(map[string]float64, len(p.streams)),
	}
	for _, s := range p.streams {
		st.FPS[s.label] = math.Round(s.fps.FPS()*10) / 10
	}
	return st
}
