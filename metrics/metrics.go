// Package metrics exports pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "siteguard"

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_captured_total",
		Help:      "Frames read from each video source.",
	}, []string{"stream"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Captured frames dropped because the capture queue was full.",
	}, []string{"stream"})

	DetectionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_dropped_total",
		Help:      "Detection sets dropped because the detection queue was full.",
	}, []string{"stream"})

	FramesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_published_total",
		Help:      "Annotated frames published to streaming clients.",
	}, []string{"stream"})

	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Items waiting in a per-stream queue.",
	}, []string{"stream", "queue"})

	InferenceFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inference_fps",
		Help:      "Detection sets delivered per second, per stream.",
	}, []string{"stream"})

	StreamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_clients",
		Help:      "Connected MJPEG clients per stream.",
	}, []string{"stream"})
)
