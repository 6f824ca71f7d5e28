// Package inference defines the contract between the streaming pipeline and
// the detection engine, and provides a CPU backend built on OpenCV's DNN
// module.
package inference

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var ErrClosed = errors.New("accelerator closed")

// BBox is an axis-aligned box in frame pixels.
type BBox struct {
	X, Y, W, H int
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

type Detection struct {
	Box        BBox
	ClassID    int
	Label      string
	Confidence float32
}

func (d Detection) String() string {
	return fmt.Sprintf("%s: %.2f at %v", d.Label, d.Confidence, d.Box.Rect())
}

// Set holds the detections of one inference cycle, in model output order.
type Set []Detection

// Model converts frames of one stream to network input and network output to
// detections. A Model instance serves a single stream.
type Model interface {
	// Name is shown in the overlay status line.
	Name() string
	// Preprocess builds the input tensor for a frame. The caller owns the
	// returned Mat; frame is not modified.
	Preprocess(frame gocv.Mat) (gocv.Mat, error)
	// Postprocess decodes raw network outputs. outputs remain owned by the
	// caller.
	Postprocess(outputs []gocv.Mat) (Set, error)
}

// InputFunc supplies the next tensor for a stream. It returns io.EOF once the
// stream is exhausted; any other error aborts the run.
type InputFunc func(stream int) (gocv.Mat, error)

// OutputFunc receives the raw outputs for a previously supplied tensor. Calls
// for one stream arrive in submission order; calls for different streams may
// be concurrent.
type OutputFunc func(stream int, outputs []gocv.Mat) error

// Accelerator runs a network over many streams asynchronously.
type Accelerator interface {
	// ConnectStreams starts pulling from in and pushing to out for streams
	// [0, n).
	ConnectStreams(in InputFunc, out OutputFunc, n int) error
	// Wait blocks until every stream is exhausted or the run failed, and
	// returns the first failure.
	Wait() error
	Close() error
}
