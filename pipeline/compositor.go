package pipeline

import (
	"time"

	"siteguard/inference"
	"siteguard/metrics"
	"siteguard/video/process"
	"siteguard/video/source"
)

// idleWait bounds the sleep between passes that found nothing to do, in case
// a wake signal is missed.
const idleWait = 10 * time.Millisecond

// composite pairs the head frame and head detection set of each stream,
// annotates the frame and hands it to the stream's sinks. It returns on
// shutdown.
func (p *Pipeline) composite() {
	for !p.shutdown.HasBeenNotified() {
		progress := false
		for _, s := range p.streams {
			if s.frames.Len() == 0 || s.dets.Len() == 0 {
				continue
			}
			img, _ := s.frames.TryGet()
			set, _ := s.dets.TryGet()
			p.render(s, img, set)
			progress = true
		}
		if progress {
			continue
		}
		select {
		case <-p.wake:
		case <-p.shutdown.Done():
		case <-time.After(idleWait):
		}
	}
}

func (p *Pipeline) render(s *stream, img source.Image, set inference.Set) {
	defer img.Close()

	process.DrawDetections(&img.Mat, filter(set, p.getMinConfidence()), &s.palette)
	process.DrawStatus(&img.Mat, s.model.Name(), s.fps.FPS())
	s.sink.Put(img)

	metrics.QueueLength.WithLabelValues(s.label, "capture").Set(float64(s.frames.Len()))
	metrics.QueueLength.WithLabelValues(s.label, "detection").Set(float64(s.dets.Len()))
}

func filter(set inference.Set, min float32) inference.Set {
	if min <= 0 {
		return set
	}
	out := make(inference.Set, 0, len(set))
	for _, d := range set {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}
