package source

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// ErrSourceUnavailable is returned when a video origin cannot be opened.
var ErrSourceUnavailable = errors.New("video source unavailable")

// Image is one captured frame. It is owned by whoever holds it last and must
// be closed exactly once, which returns the Mat to its pool.
type Image struct {
	Mat  gocv.Mat
	Time time.Time
	// Seq counts frames read from the source, starting at 1.
	Seq uint64

	pool   *MatPool
	closed bool
}

func (i *Image) Close() {
	if i.closed {
		panic("image already closed")
	}
	i.closed = true
	if i.pool != nil {
		i.pool.ReleaseMat(i.Mat)
		return
	}
	i.Mat.Close()
}

func (i *Image) Clone() Image {
	n := Image{
		Mat:  gocv.NewMat(),
		Time: i.Time,
		Seq:  i.Seq,
	}
	i.Mat.CopyTo(&n.Mat)
	return n
}

// NewImage wraps a Mat that is not pool-managed.
func NewImage(m gocv.Mat, seq uint64) Image {
	return Image{
		Mat:  m,
		Time: time.Now(),
		Seq:  seq,
	}
}

// Source defines a stream of images, such as a camera or a video file.
type Source interface {
	// Read blocks for the next frame. It returns io.EOF once the source has no
	// more frames.
	Read() (Image, error)

	// Size returns the frame dimensions of the capture source.
	Size() image.Point

	// Live reports whether the source produces frames continuously, in which
	// case stale frames are dropped rather than waited on.
	Live() bool

	// Close disconnects from the capture source and frees up all resources.
	Close() error
}

// Spec identifies a video origin.
type Spec struct {
	URI  string
	Live bool
	// Device is the camera index for live sources.
	Device int
}

func (s Spec) String() string {
	if s.Live {
		return fmt.Sprintf("camera %d (%s)", s.Device, s.URI)
	}
	return s.URI
}

// ParseSpec classifies an identifier. "/dev/videoN" and bare integers are
// cameras; anything else is a file path.
func ParseSpec(uri string) (Spec, error) {
	if i := strings.Index(uri, "/dev/video"); i >= 0 {
		n, err := strconv.Atoi(uri[i+len("/dev/video"):])
		if err != nil {
			return Spec{}, fmt.Errorf("bad camera device %q: %w", uri, err)
		}
		return Spec{URI: uri, Live: true, Device: n}, nil
	}
	if n, err := strconv.Atoi(uri); err == nil && n >= 0 {
		return Spec{URI: uri, Live: true, Device: n}, nil
	}
	return Spec{URI: uri}, nil
}
