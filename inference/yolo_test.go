package inference

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// output builds a [4+classes, len(cands)] column-major candidate matrix.
func output(classes int, cands [][]float32) []float32 {
	rows, cols := 4+classes, len(cands)
	data := make([]float32, rows*cols)
	for c, v := range cands {
		for r := 0; r < rows; r++ {
			data[r*cols+c] = v[r]
		}
	}
	return data
}

func TestDecodeScalesAndFilters(t *testing.T) {
	y := NewYOLOv8(image.Point{X: 1280, Y: 640}, YOLOv8Options{
		InputSize:      640,
		Labels:         []string{"person", "truck"},
		ScoreThreshold: 0.5,
		NMSThreshold:   0.45,
	})

	data := output(2, [][]float32{
		// cx, cy, w, h, person, truck
		{100, 100, 40, 20, 0.9, 0.1},
		{300, 300, 50, 50, 0.2, 0.3}, // below threshold
		{500, 200, 20, 40, 0.1, 0.7},
	})
	set := y.decode(data, 6, 3)
	require.Len(t, set, 2)

	assert.Equal(t, "person", set[0].Label)
	assert.Equal(t, 0, set[0].ClassID)
	assert.InDelta(t, 0.9, set[0].Confidence, 1e-6)
	// x scaled by 2, y unchanged.
	assert.Equal(t, BBox{X: 160, Y: 90, W: 80, H: 20}, set[0].Box)

	assert.Equal(t, "truck", set[1].Label)
	assert.Equal(t, BBox{X: 980, Y: 180, W: 40, H: 40}, set[1].Box)
}

func TestDecodeSuppressesOverlaps(t *testing.T) {
	y := NewYOLOv8(image.Point{X: 640, Y: 640}, YOLOv8Options{
		InputSize:      640,
		ScoreThreshold: 0.25,
		NMSThreshold:   0.45,
	})
	data := output(1, [][]float32{
		{100, 100, 50, 50, 0.6},
		{102, 101, 50, 50, 0.8},
		{400, 400, 50, 50, 0.5},
	})
	set := y.decode(data, 5, 3)
	require.Len(t, set, 2)
	assert.InDelta(t, 0.8, set[0].Confidence, 1e-6)
	assert.Equal(t, "class 0", set[0].Label)
	assert.InDelta(t, 0.5, set[1].Confidence, 1e-6)
}

func TestSuppressKeepsDifferentClasses(t *testing.T) {
	box := image.Rect(0, 0, 10, 10)
	keep := suppress([]candidate{
		{box: box, classID: 0, score: 0.9},
		{box: box, classID: 1, score: 0.8},
	}, 0.45)
	assert.Len(t, keep, 2)
}

func TestSuppressSameClass(t *testing.T) {
	assert.Empty(t, suppress(nil, 0.45))

	keep := suppress([]candidate{
		{box: image.Rect(0, 0, 10, 10), classID: 3, score: 0.5},
		{box: image.Rect(1, 1, 11, 11), classID: 3, score: 0.7},
		{box: image.Rect(50, 50, 60, 60), classID: 3, score: 0.6},
		{box: image.Rect(0, 0, 10, 10), classID: 1, score: 0.4},
	}, 0.45)
	require.Len(t, keep, 3)
	assert.InDelta(t, 0.7, keep[0].score, 1e-6)
	assert.Equal(t, image.Rect(50, 50, 60, 60), keep[1].box)
	assert.Equal(t, 1, keep[2].classID)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("helmet\n\nvest\n  person  \n"), 0644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"helmet", "vest", "person"}, labels)
}

func TestBBoxRect(t *testing.T) {
	b := BBox{X: 10, Y: 10, W: 50, H: 50}
	assert.Equal(t, image.Rect(10, 10, 60, 60), b.Rect())
}
