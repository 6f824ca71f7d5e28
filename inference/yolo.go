package inference

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// YOLOv8Options tunes the YOLOv8 decoder.
type YOLOv8Options struct {
	Name string
	// InputSize is the square network input edge in pixels.
	InputSize      int
	Labels         []string
	ScoreThreshold float32
	NMSThreshold   float32
}

var DefaultYOLOv8Options = YOLOv8Options{
	Name:           "YOLOv8s",
	InputSize:      640,
	Labels:         COCOLabels,
	ScoreThreshold: 0.25,
	NMSThreshold:   0.45,
}

// YOLOv8 pre- and post-processes frames for an anchor-free YOLOv8 detection
// head, whose output is shaped [1, 4+classes, candidates].
type YOLOv8 struct {
	opts  YOLOv8Options
	frame image.Point
}

// NewYOLOv8 creates a model for a stream whose frames are frame-sized.
func NewYOLOv8(frame image.Point, opts YOLOv8Options) *YOLOv8 {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultYOLOv8Options.InputSize
	}
	return &YOLOv8{opts: opts, frame: frame}
}

func (y *YOLOv8) Name() string {
	return y.opts.Name
}

func (y *YOLOv8) Preprocess(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, fmt.Errorf("empty frame")
	}
	sz := image.Point{X: y.opts.InputSize, Y: y.opts.InputSize}
	return gocv.BlobFromImage(frame, 1.0/255.0, sz, gocv.NewScalar(0, 0, 0, 0), true, false), nil
}

func (y *YOLOv8) Postprocess(outputs []gocv.Mat) (Set, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no network outputs")
	}
	out := outputs[0]
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	return y.decode(data, dims[1], dims[2]), nil
}

// decode reads a row-major [rows, cols] matrix where each column is one
// candidate: cx, cy, w, h followed by one score per class.
func (y *YOLOv8) decode(data []float32, rows, cols int) Set {
	fx := float32(y.frame.X) / float32(y.opts.InputSize)
	fy := float32(y.frame.Y) / float32(y.opts.InputSize)

	var cands []candidate
	for c := 0; c < cols; c++ {
		best, score := -1, float32(0)
		for r := 4; r < rows; r++ {
			if s := data[r*cols+c]; s > score {
				best, score = r-4, s
			}
		}
		if best < 0 || score < y.opts.ScoreThreshold {
			continue
		}
		cx, cy := data[0*cols+c], data[1*cols+c]
		w, h := data[2*cols+c], data[3*cols+c]
		x0 := int((cx - w/2) * fx)
		y0 := int((cy - h/2) * fy)
		cands = append(cands, candidate{
			box:     image.Rect(x0, y0, x0+int(w*fx), y0+int(h*fy)),
			classID: best,
			score:   score,
		})
	}

	var set Set
	for _, k := range suppress(cands, y.opts.NMSThreshold) {
		set = append(set, Detection{
			Box:        BBox{X: k.box.Min.X, Y: k.box.Min.Y, W: k.box.Dx(), H: k.box.Dy()},
			ClassID:    k.classID,
			Label:      y.label(k.classID),
			Confidence: k.score,
		})
	}
	return set
}

func (y *YOLOv8) label(id int) string {
	if id >= 0 && id < len(y.opts.Labels) {
		return y.opts.Labels[id]
	}
	return fmt.Sprintf("class %d", id)
}
