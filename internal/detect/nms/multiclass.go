package nms

import (
	"fmt"

	"github.com/banshee-data/pillars.detect/internal/detect/geom"
)

// Multiclass runs per-class suppression over class-agnostic box
// proposals: one shared geometry per candidate, one score column per
// class. scores is row-major [len(boxes) * numClass].
//
// For each class: slice that class's score column, drop candidates
// scoring below scoreThreshold (>= keeps; a threshold of 0 disables the
// filter), suppress with the strategy, and map survivors back to the
// caller's candidate ordering.
//
// The result has one entry per class; a class with no survivors gets a
// nil slice. All classes empty is the expected "no detections" outcome.
// Candidate geometry is never copied per class, only index subsets
// differ.
func Multiclass(sup Suppressor, boxes []geom.BEVBox, scores []float32, numClass int, scoreThreshold float32, p Params) ([][]int, error) {
	if numClass <= 0 {
		return nil, fmt.Errorf("multiclass nms: class count must be positive, got %d", numClass)
	}
	if len(scores) != len(boxes)*numClass {
		return nil, fmt.Errorf("multiclass nms: scores length %d does not match %d boxes x %d classes", len(scores), len(boxes), numClass)
	}

	selected := make([][]int, numClass)
	if len(boxes) == 0 {
		return selected, nil
	}

	// Scratch buffers reused across classes.
	candidates := make([]int, 0, len(boxes))
	subBoxes := make([]geom.BEVBox, 0, len(boxes))
	subScores := make([]float32, 0, len(boxes))

	for class := 0; class < numClass; class++ {
		candidates = candidates[:0]
		subBoxes = subBoxes[:0]
		subScores = subScores[:0]

		for i := range boxes {
			s := scores[i*numClass+class]
			if scoreThreshold > 0 && s < scoreThreshold {
				continue
			}
			candidates = append(candidates, i)
			subBoxes = append(subBoxes, boxes[i])
			subScores = append(subScores, s)
		}
		if len(candidates) == 0 {
			continue
		}

		kept := sup.Suppress(subBoxes, subScores, p)
		if len(kept) == 0 {
			continue
		}
		mapped := make([]int, len(kept))
		for k, sub := range kept {
			mapped[k] = candidates[sub]
		}
		selected[class] = mapped
	}
	return selected, nil
}
