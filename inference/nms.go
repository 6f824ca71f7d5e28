package inference

import (
	"image"
	"sort"

	"gocv.io/x/gocv"
)

type candidate struct {
	box     image.Rectangle
	classID int
	score   float32
}

// suppress performs per-class non-maximum suppression, returning the
// survivors in descending score order.
func suppress(cands []candidate, threshold float32) []candidate {
	byClass := make(map[int][]candidate)
	for _, c := range cands {
		byClass[c.classID] = append(byClass[c.classID], c)
	}

	var keep []candidate
	for _, group := range byClass {
		boxes := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, c := range group {
			boxes[i] = c.box
			scores[i] = c.score
		}
		// NMSBoxes fills indices up to the number of survivors.
		indices := make([]int, len(group))
		for i := range indices {
			indices[i] = -1
		}
		gocv.NMSBoxes(boxes, scores, 0, threshold, indices)
		for _, idx := range indices {
			if idx < 0 {
				break
			}
			keep = append(keep, group[idx])
		}
	}

	sort.SliceStable(keep, func(i, j int) bool {
		return keep[i].score > keep[j].score
	})
	return keep
}
