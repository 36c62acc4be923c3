package nms

import (
	"sort"

	"github.com/banshee-data/pillars.detect/internal/detect/geom"
)

// Params holds the shared suppression knobs. Both size caps are disabled
// when <= 0.
type Params struct {
	PreMaxSize   int     // keep only the top-K candidates before suppression
	PostMaxSize  int     // cap on emitted survivors
	IoUThreshold float32 // overlap strictly above this suppresses
}

// Suppressor is the common contract of the two suppression strategies.
// boxes and scores must have equal length (enforced by the pipeline's
// shape validation before candidates reach this layer). The returned
// indices refer to the caller's ordering, highest score first; nil means
// no candidates survived, which is an expected outcome and never an
// error.
type Suppressor interface {
	Suppress(boxes []geom.BEVBox, scores []float32, p Params) []int
}

// Rotated suppresses using exact rotated IoU.
type Rotated struct{}

// Suppress implements Suppressor.
func (Rotated) Suppress(boxes []geom.BEVBox, scores []float32, p Params) []int {
	return greedy(scores, p, func(i, j int) float32 {
		return geom.RotatedIoU(boxes[i], boxes[j])
	})
}

// Standup suppresses on axis-aligned hulls. Every candidate is reduced
// to its standup box once up front; the candidates' own geometry is left
// untouched.
type Standup struct{}

// Suppress implements Suppressor.
func (Standup) Suppress(boxes []geom.BEVBox, scores []float32, p Params) []int {
	hulls := make([]geom.AABB, len(boxes))
	for i, b := range boxes {
		hulls[i] = geom.StandupOf(b)
	}
	return greedy(scores, p, func(i, j int) float32 {
		return geom.AABBIoU(hulls[i], hulls[j])
	})
}

// greedy runs the shared suppression sweep:
//
//  1. Sort candidates by descending score; equal scores order by
//     ascending original index so results are reproducible.
//  2. Keep only the top PreMaxSize candidates.
//  3. Repeatedly emit the best remaining candidate and drop every later
//     candidate whose overlap with it exceeds the threshold.
//  4. Stop once PostMaxSize survivors are emitted.
func greedy(scores []float32, p Params, overlap func(i, j int) float32) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	if p.PreMaxSize > 0 && p.PreMaxSize < len(order) {
		order = order[:p.PreMaxSize]
	}

	suppressed := make([]bool, n)
	var kept []int
	for oi, idx := range order {
		if suppressed[idx] {
			continue
		}
		kept = append(kept, idx)
		if p.PostMaxSize > 0 && len(kept) >= p.PostMaxSize {
			break
		}
		for _, jdx := range order[oi+1:] {
			if suppressed[jdx] {
				continue
			}
			if overlap(idx, jdx) > p.IoUThreshold {
				suppressed[jdx] = true
			}
		}
	}
	return kept
}
