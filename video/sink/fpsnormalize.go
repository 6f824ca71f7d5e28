package sink

import (
	"time"

	"gocv.io/x/gocv"

	"siteguard/video/source"
)

// maxRepeat bounds how many copies of the previous frame fill a gap. Longer
// stalls restart the timeline at the next frame.
const maxRepeat = 30

// FPSNormalize converts the variable-rate annotated stream of one camera,
// which advances at the pace of inference, into the fixed-rate stream that a
// video file needs. Frames are dropped or repeated to hit the target rate.
type FPSNormalize struct {
	sink Sink

	frameDur time.Duration
	last     gocv.Mat
	curFrame time.Time
}

func NewFPSNormalize(sink Sink, fps int) *FPSNormalize {
	return &FPSNormalize{
		sink:     sink,
		frameDur: time.Second / time.Duration(fps),
		last:     gocv.NewMat(),
	}
}

func (f *FPSNormalize) Close() {
	f.sink.Close()
	f.last.Close()
}

func (f *FPSNormalize) emit(m gocv.Mat, t time.Time, seq uint64) {
	f.sink.Put(source.Image{Mat: m, Time: t, Seq: seq})
	f.curFrame = t
}

func (f *FPSNormalize) Put(input source.Image) {
	gap := input.Time.Sub(f.curFrame)
	switch {
	case f.curFrame.IsZero() || gap >= f.frameDur*(maxRepeat+1):
		f.emit(input.Mat, input.Time, input.Seq)
	case gap < f.frameDur:
		// Too early for the next frame.
		return
	default:
		// Repeat the previous frame for every slot missed before this one.
		for n := int(gap/f.frameDur) - 1; n > 0; n-- {
			f.emit(f.last, f.curFrame.Add(f.frameDur), input.Seq)
		}
		f.emit(input.Mat, f.curFrame.Add(f.frameDur), input.Seq)
	}
	input.Mat.CopyTo(&f.last)
}
