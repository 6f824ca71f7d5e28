package process

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"siteguard/inference"
)

func blank(w, h int) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return m
}

func bgrAt(m gocv.Mat, p image.Point) [3]uint8 {
	v := m.GetVecbAt(p.Y, p.X)
	return [3]uint8{v[0], v[1], v[2]}
}

func TestDrawDetectionBoxAndLabel(t *testing.T) {
	img := blank(200, 120)
	defer img.Close()

	p := NewPalette(0)
	d := inference.Detection{
		Box:        inference.BBox{X: 10, Y: 10, W: 50, H: 50},
		ClassID:    3,
		Label:      "person",
		Confidence: 0.9,
	}
	DrawDetections(&img, inference.Set{d}, &p)

	c := p.Color(3)
	want := [3]uint8{c.B, c.G, c.R}
	// The label may overlap the top edge, so check the other three.
	for _, pt := range []image.Point{{10, 35}, {60, 35}, {10, 60}, {60, 60}, {35, 60}} {
		assert.Equal(t, want, bgrAt(img, pt), "point %v", pt)
	}
	// Inside of the box is untouched.
	assert.Equal(t, [3]uint8{0, 0, 0}, bgrAt(img, image.Point{X: 35, Y: 35}))

	assert.Equal(t, image.Point{X: 12, Y: 5}, LabelOrigin(d))
	white := 0
	for y := 0; y < 10; y++ {
		for x := 12; x < 100; x++ {
			if bgrAt(img, image.Point{X: x, Y: y}) == [3]uint8{255, 255, 255} {
				white++
			}
		}
	}
	assert.Positive(t, white, "label should be drawn above the box")
}

func TestPaletteDeterministic(t *testing.T) {
	a, b := NewPalette(1), NewPalette(1)
	assert.Equal(t, a, b)
	assert.Equal(t, a.Color(3), a.Color(23))
	assert.NotEqual(t, NewPalette(0), NewPalette(1))
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "YOLOv8s", StatusText("YOLOv8s", 0))
	assert.Equal(t, "YOLOv8s", StatusText("YOLOv8s", 1))
	assert.Equal(t, "YOLOv8s - 12.3 FPS", StatusText("YOLOv8s", 12.34))
}

func TestDrawStatus(t *testing.T) {
	img := blank(400, 100)
	defer img.Close()

	DrawStatus(&img, "YOLOv8s", 10)

	blue := 0
	for y := 25; y < 60; y++ {
		for x := 50; x < 400; x++ {
			if bgrAt(img, image.Point{X: x, Y: y}) == [3]uint8{255, 0, 0} {
				blue++
			}
		}
	}
	require.Positive(t, blue)
}
