package process

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"

	"siteguard/inference"
)

// PaletteSize is the number of distinct box colors per stream.
const PaletteSize = 20

var (
	colorLabel  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorStatus = color.RGBA{R: 0, G: 0, B: 255, A: 255}
)

const (
	boxThickness = 2

	labelScale     = 0.5
	labelThickness = 2

	statusScale     = 1.0
	statusThickness = 2
)

var statusOrigin = image.Point{X: 50, Y: 50}

// Palette holds the box colors of one stream, indexed by class ID.
type Palette [PaletteSize]color.RGBA

// NewPalette returns a random but reproducible palette for a stream.
func NewPalette(stream int) Palette {
	var p Palette
	r := rand.New(rand.NewSource(int64(stream) + 1))
	for i := range p {
		p[i] = color.RGBA{
			R: uint8(r.Intn(255)),
			G: uint8(r.Intn(255)),
			B: uint8(r.Intn(255)),
			A: 255,
		}
	}
	return p
}

func (p *Palette) Color(classID int) color.RGBA {
	i := classID % PaletteSize
	if i < 0 {
		i += PaletteSize
	}
	return p[i]
}

// LabelOrigin is where a detection's label baseline starts, just above the
// top-left corner of its box.
func LabelOrigin(d inference.Detection) image.Point {
	return image.Point{X: d.Box.X + 2, Y: d.Box.Y - 5}
}

// DrawDetections draws a box and class label for every detection.
func DrawDetections(img *gocv.Mat, dets inference.Set, p *Palette) {
	for _, d := range dets {
		gocv.Rectangle(img, d.Box.Rect(), p.Color(d.ClassID), boxThickness)
		gocv.PutText(img, d.Label, LabelOrigin(d), gocv.FontHersheySimplex, labelScale, colorLabel, labelThickness)
	}
}

// StatusText names the inference source, with its rate once it is
// meaningful.
func StatusText(name string, fps float64) string {
	if fps > 1 {
		return fmt.Sprintf("%s - %.1f FPS", name, fps)
	}
	return name
}

// DrawStatus writes the status line in the top-left of the frame.
func DrawStatus(img *gocv.Mat, name string, fps float64) {
	gocv.PutText(img, StatusText(name, fps), statusOrigin, gocv.FontHersheySimplex, statusScale, colorStatus, statusThickness)
}
