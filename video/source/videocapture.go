package source

import (
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pillash/mp4util"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Options controls how sources are opened.
type Options struct {
	// Requested capture format for live sources. The device may ignore it.
	Width, Height, FPS int
	// BufferSize is the driver-side frame buffer requested for live sources.
	BufferSize int
	// AlternateDevices are tried in order when a camera fails to open.
	AlternateDevices []int
	// MaxMats bounds the frame buffers a source may have outstanding.
	MaxMats int
}

var DefaultOptions = Options{
	Width:            640,
	Height:           480,
	FPS:              30,
	BufferSize:       1,
	AlternateDevices: []int{0, 1, 2},
	MaxMats:          64,
}

// VideoCapture is a Source backed by an OpenCV capture device or file.
type VideoCapture struct {
	spec     Spec
	size     image.Point
	duration time.Duration

	pool *MatPool
	seq  uint64

	l      sync.Mutex
	cap    *gocv.VideoCapture
	closed bool
}

// Open connects to the origin described by spec.
func Open(spec Spec, opts Options) (*VideoCapture, error) {
	var cap *gocv.VideoCapture
	var err error
	if spec.Live {
		cap, err = openCamera(&spec, opts)
	} else {
		cap, err = gocv.VideoCaptureFile(spec.URI)
		if err == nil && !cap.IsOpened() {
			err = fmt.Errorf("capture not opened")
		}
		if err != nil && cap != nil {
			cap.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, spec, err)
	}

	v := &VideoCapture{
		spec: spec,
		cap:  cap,
		size: image.Point{
			X: int(cap.Get(gocv.VideoCaptureFrameWidth)),
			Y: int(cap.Get(gocv.VideoCaptureFrameHeight)),
		},
		pool: NewMatPool(opts.MaxMats),
	}
	if !spec.Live && strings.EqualFold(filepath.Ext(spec.URI), ".mp4") {
		if secs, err := mp4util.Duration(spec.URI); err == nil {
			v.duration = time.Duration(secs) * time.Second
		} else {
			log.Debugf("Unable to read mp4 duration of %v: %v", spec.URI, err)
		}
	}
	log.WithField("source", spec.String()).Infof("Video source opened, %dx%d, duration %v", v.size.X, v.size.Y, v.duration)
	return v, nil
}

func openCamera(spec *Spec, opts Options) (*gocv.VideoCapture, error) {
	cap, err := gocv.OpenVideoCapture(spec.Device)
	if err == nil && cap.IsOpened() {
		configureCamera(cap, opts)
		return cap, nil
	}
	if cap != nil {
		cap.Close()
	}
	log.Warnf("Cannot open camera %d: %v", spec.Device, err)

	for _, alt := range opts.AlternateDevices {
		log.Infof("Trying alternative camera index %d", alt)
		cap, err = gocv.OpenVideoCapture(alt)
		if err == nil && cap.IsOpened() {
			log.Infof("Camera opened on alternative index %d", alt)
			spec.Device = alt
			configureCamera(cap, opts)
			return cap, nil
		}
		if cap != nil {
			cap.Close()
		}
	}
	return nil, fmt.Errorf("no camera among %d and %v", spec.Device, opts.AlternateDevices)
}

func configureCamera(cap *gocv.VideoCapture, opts Options) {
	// Ask for a small, shallow stream to keep latency down.
	if opts.Width > 0 && opts.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
		cap.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}
	if opts.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(opts.FPS))
	}
	if opts.BufferSize > 0 {
		cap.Set(gocv.VideoCaptureBufferSize, float64(opts.BufferSize))
	}
}

func (v *VideoCapture) Read() (Image, error) {
	m := v.pool.NewMat()

	v.l.Lock()
	ok := !v.closed && v.cap.Read(&m)
	v.l.Unlock()

	if !ok || m.Empty() {
		v.pool.ReleaseMat(m)
		return Image{}, io.EOF
	}
	v.seq++
	return Image{
		Mat:  m,
		Time: time.Now(),
		Seq:  v.seq,
		pool: v.pool,
	}, nil
}

func (v *VideoCapture) Size() image.Point {
	return v.size
}

func (v *VideoCapture) Live() bool {
	return v.spec.Live
}

func (v *VideoCapture) Spec() Spec {
	return v.spec
}

// Duration is the length of a file source, zero when unknown or live.
func (v *VideoCapture) Duration() time.Duration {
	return v.duration
}

// Close releases the device. It is safe to call more than once and
// concurrently with Read.
func (v *VideoCapture) Close() error {
	v.l.Lock()
	defer v.l.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	err := v.cap.Close()
	v.pool.Close()
	log.WithField("source", v.spec.String()).Infof("Video source released")
	return err
}
