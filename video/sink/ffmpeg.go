package sink

import (
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"

	"siteguard/video/source"
)

type FFmpegOptions struct {
	// Binary is the ffmpeg executable.
	Binary string
	Size   image.Point
	FPS    int
	// Backlog is the number of raw frames buffered before Put starts dropping.
	Backlog int
}

// FFmpegSink pipes raw BGR frames into an ffmpeg process writing an H.264 MP4.
// Put never blocks; frames are dropped while ffmpeg is behind.
type FFmpegSink struct {
	path  string
	b     chan []byte
	close chan chan bool

	dropped int
}

func NewFFmpegSink(path string, opts FFmpegOptions) (*FFmpegSink, error) {
	c := exec.Command(
		opts.Binary,
		"-loglevel", "error",
		// Configure ffmpeg to read from the opencv pipe.
		"-f", "rawvideo",
		"-pixel_format", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", opts.Size.X, opts.Size.Y),
		"-framerate", fmt.Sprintf("%d", opts.FPS),
		"-i", "-", // Read from stdin.
		// Use h264 encoding with reasonable quality and speed. Note that
		// "preset" can be adjusted if the system is too slow to handle encoding.
		"-c:v", "libx264",
		"-preset", "superfast",
		"-crf", "30",
		"-pix_fmt", "yuv420p",
		// Enable fast-start so videos can be displayed in the browser without
		// full download.
		"-movflags", "+faststart",
		"-y", path,
	)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	pipe, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = 8
	}
	f := &FFmpegSink{
		path:  path,
		b:     make(chan []byte, backlog),
		close: make(chan chan bool),
	}
	go f.loop(c, pipe)
	log.Infof("Recording to %v", path)
	return f, nil
}

func (f *FFmpegSink) loop(c *exec.Cmd, pipe io.WriteCloser) {
	broken := false
	var closer chan bool
loop:
	for {
		select {
		case closer = <-f.close:
			break loop
		case b := <-f.b:
			if broken {
				continue
			}
			if _, err := pipe.Write(b); err != nil {
				log.Errorf("Error writing to ffmpeg for %v: %v", f.path, err)
				broken = true
			}
		}
	}
	// Flush what is still buffered.
	for len(f.b) > 0 && !broken {
		if _, err := pipe.Write(<-f.b); err != nil {
			broken = true
		}
	}
	pipe.Close()

	log.Infof("Waiting for ffmpeg shutdown for %v", f.path)
	err := c.Wait()
	log.Infof("ffmpeg exit with status %v", err)
	closer <- true // Signal close is completed.
}

// Put copies the frame only when the backlog has room. Put is called from a
// single goroutine, so the room cannot vanish before the send.
func (f *FFmpegSink) Put(input source.Image) {
	if len(f.b) < cap(f.b) {
		select {
		case f.b <- input.Mat.ToBytes():
			return
		default:
		}
	}
	f.dropped++
	if f.dropped%100 == 1 {
		log.Warnf("Recorder for %v is behind, %d frames dropped", f.path, f.dropped)
	}
}

func (f *FFmpegSink) Close() {
	c := make(chan bool)
	f.close <- c
	<-c
}
