package loss

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/banshee-data/pillars.detect/internal/detect"
)

// DirClassPositive and DirClassNegative are the hemisphere classes the
// direction head is trained on: the ground-truth yaw (regression target
// plus anchor yaw) falls in the positive hemisphere (> 0) or not. The
// inference-side resolver applies the same mapping when correcting
// decoded yaw.
const (
	DirClassPositive int32 = 0
	DirClassNegative int32 = 1
)

// DirectionTargets derives the per-anchor hemisphere class for each
// batch row. anchors is the shared flat [numAnchors*7] tensor; each
// regTargets row is flat [numAnchors*7]. The regression head predicts
// yaw modulo π, so this binary target carries the bit the residual
// cannot.
func DirectionTargets(anchors []float32, regTargets [][]float32) ([][]int32, error) {
	if len(anchors)%detect.BoxStride != 0 {
		return nil, fmt.Errorf("direction targets: anchors length %d is not a multiple of %d", len(anchors), detect.BoxStride)
	}
	numAnchors := len(anchors) / detect.BoxStride

	out := make([][]int32, len(regTargets))
	for row, targets := range regTargets {
		if len(targets) != len(anchors) {
			return nil, fmt.Errorf("direction targets: row %d length %d does not match anchors length %d", row, len(targets), len(anchors))
		}
		classes := make([]int32, numAnchors)
		for a := 0; a < numAnchors; a++ {
			rotGT := targets[a*detect.BoxStride+6] + anchors[a*detect.BoxStride+6]
			if rotGT > 0 {
				classes[a] = DirClassPositive
			} else {
				classes[a] = DirClassNegative
			}
		}
		out[row] = classes
	}
	return out, nil
}

// DirectionWeights builds the direction-loss weights: one per positive
// anchor, normalised by the row's positive count (clamped >= 1).
func DirectionWeights(labels [][]int32) [][]float32 {
	out := make([][]float32, len(labels))
	for row, rowLabels := range labels {
		w := make([]float32, len(rowLabels))
		var posCount int
		for i, label := range rowLabels {
			if label > 0 {
				w[i] = 1
				posCount++
			}
		}
		div := clampCount(posCount)
		for i := range w {
			w[i] /= div
		}
		out[row] = w
	}
	return out
}

// CaredLabels masks ignored anchors to the background class, leaving
// cared labels untouched. This is the classification target used for
// one-hot expansion: ignored anchors contribute nothing anyway because
// their classification weight is zero.
func CaredLabels(labels []int32) []int32 {
	out := make([]int32, len(labels))
	for i, label := range labels {
		if label > 0 {
			out[i] = label
		}
	}
	return out
}

// OneHot expands class ids into a flat row-major [len(ids)*depth] tensor.
// Ids outside [0, depth) leave their row all zero; callers mask labels
// before expansion.
func OneHot(ids []int32, depth int) []float32 {
	out := make([]float32, len(ids)*depth)
	for i, id := range ids {
		if id >= 0 && int(id) < depth {
			out[i*depth+int(id)] = 1
		}
	}
	return out
}

// AddSinDifference rewrites the yaw channel (the last channel of each
// stride-wide record) of prediction and target so that a subtracting
// loss recovers sin(pred − target):
//
//	sin(a − b) = sin(a)·cos(b) − cos(a)·sin(b)
//
// The prediction channel becomes sin(pred)·cos(target) and the target
// channel cos(pred)·sin(target). Inputs are never modified; fresh copies
// are returned.
func AddSinDifference(preds, targets []float32, stride int) ([]float32, []float32, error) {
	if stride <= 0 {
		return nil, nil, fmt.Errorf("sin difference: stride must be positive, got %d", stride)
	}
	if len(preds) != len(targets) {
		return nil, nil, fmt.Errorf("sin difference: preds length %d does not match targets length %d", len(preds), len(targets))
	}
	if len(preds)%stride != 0 {
		return nil, nil, fmt.Errorf("sin difference: tensor length %d is not a multiple of stride %d", len(preds), stride)
	}

	outPreds := make([]float32, len(preds))
	outTargets := make([]float32, len(targets))
	copy(outPreds, preds)
	copy(outTargets, targets)

	for o := stride - 1; o < len(preds); o += stride {
		p := preds[o]
		t := targets[o]
		outPreds[o] = math32.Sin(p) * math32.Cos(t)
		outTargets[o] = math32.Cos(p) * math32.Sin(t)
	}
	return outPreds, outTargets, nil
}
