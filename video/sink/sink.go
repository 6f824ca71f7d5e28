package sink

import (
	"siteguard/video/source"
)

// Sink defines a destination for a stream of images, such as the MJPEG
// publisher or a video file.
type Sink interface {
	// Put inserts an image to the sink. The caller *must not* modify this image
	// and it should not hold any references to the underlying Mat. Put must not
	// block on slow consumers.
	Put(input source.Image)

	// Close should be called to finalize the Sink.
	Close()
}

// Multi fans an image out to several sinks in order.
type Multi []Sink

func (m Multi) Put(input source.Image) {
	for _, s := range m {
		s.Put(input)
	}
}

func (m Multi) Close() {
	for _, s := range m {
		s.Close()
	}
}
