package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pillars.detect/internal/detect"
)

// flatAnchors builds a flat anchor tensor with the given yaws and unit
// extents.
func flatAnchors(yaws ...float32) []float32 {
	out := make([]float32, len(yaws)*detect.BoxStride)
	for i, yaw := range yaws {
		out[i*detect.BoxStride+3] = 1
		out[i*detect.BoxStride+4] = 1
		out[i*detect.BoxStride+5] = 1
		out[i*detect.BoxStride+6] = yaw
	}
	return out
}

func TestDirectionTargetsHemispheres(t *testing.T) {
	t.Parallel()

	anchors := flatAnchors(0.3, -0.3, 0.0)
	regTargets := [][]float32{make([]float32, len(anchors))}
	regTargets[0][0*detect.BoxStride+6] = -0.1 // ground truth yaw 0.2
	regTargets[0][1*detect.BoxStride+6] = 0.1  // ground truth yaw -0.2
	regTargets[0][2*detect.BoxStride+6] = 0.0  // ground truth yaw 0.0

	targets, err := DirectionTargets(anchors, regTargets)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	assert.Equal(t, []int32{DirClassPositive, DirClassNegative, DirClassNegative}, targets[0])
}

func TestDirectionTargetsShapeErrors(t *testing.T) {
	t.Parallel()

	_, err := DirectionTargets([]float32{1, 2, 3}, nil)
	require.Error(t, err)

	anchors := flatAnchors(0.0, 0.0)
	_, err = DirectionTargets(anchors, [][]float32{make([]float32, detect.BoxStride)})
	require.Error(t, err)
}

func TestDirectionWeights(t *testing.T) {
	t.Parallel()

	labels := [][]int32{
		{1, 0, 2, -1},
		{0, 0, -1, 0},
	}
	weights := DirectionWeights(labels)
	require.Len(t, weights, 2)

	assert.InDeltaSlice(t, []float32{0.5, 0, 0.5, 0}, weights[0], 1e-6)

	// No positives: every weight zero, never NaN.
	for a, w := range weights[1] {
		assert.Zero(t, w, "anchor %d", a)
	}
}

func TestCaredLabels(t *testing.T) {
	t.Parallel()

	got := CaredLabels([]int32{-1, 0, 3, -1, 1})
	assert.Equal(t, []int32{0, 0, 3, 0, 1}, got)
}

func TestOneHot(t *testing.T) {
	t.Parallel()

	got := OneHot([]int32{0, 2, -1, 3}, 3)
	want := []float32{
		1, 0, 0,
		0, 0, 1,
		0, 0, 0, // negative id stays all-zero
		0, 0, 0, // out of depth stays all-zero
	}
	assert.Equal(t, want, got)
}

func TestAddSinDifferenceIdentity(t *testing.T) {
	t.Parallel()

	// After the encoding, pred minus target on the yaw channel equals
	// sin(predYaw - targetYaw).
	pairs := [][2]float32{
		{0.1, 0.0},
		{1.2, -0.7},
		{-2.9, 3.0},
		{0.0, 0.0},
	}
	preds := make([]float32, len(pairs)*detect.BoxStride)
	targets := make([]float32, len(pairs)*detect.BoxStride)
	for i, pt := range pairs {
		preds[i*detect.BoxStride+6] = pt[0]
		targets[i*detect.BoxStride+6] = pt[1]
	}

	encPreds, encTargets, err := AddSinDifference(preds, targets, detect.BoxStride)
	require.NoError(t, err)

	for i, pt := range pairs {
		got := encPreds[i*detect.BoxStride+6] - encTargets[i*detect.BoxStride+6]
		want := math.Sin(float64(pt[0]) - float64(pt[1]))
		assert.InDelta(t, want, float64(got), 1e-5, "pair %d", i)
	}
}

func TestAddSinDifferenceLeavesOtherChannels(t *testing.T) {
	t.Parallel()

	preds := []float32{1, 2, 3, 4, 5, 6, 0.5}
	targets := []float32{7, 8, 9, 10, 11, 12, -0.5}
	origPreds := append([]float32(nil), preds...)
	origTargets := append([]float32(nil), targets...)

	encPreds, encTargets, err := AddSinDifference(preds, targets, detect.BoxStride)
	require.NoError(t, err)

	// Inputs are not mutated.
	assert.Equal(t, origPreds, preds)
	assert.Equal(t, origTargets, targets)

	for c := 0; c < detect.BoxStride-1; c++ {
		assert.Equal(t, preds[c], encPreds[c], "channel %d", c)
		assert.Equal(t, targets[c], encTargets[c], "channel %d", c)
	}
	assert.NotEqual(t, preds[6], encPreds[6])
}

func TestAddSinDifferenceErrors(t *testing.T) {
	t.Parallel()

	_, _, err := AddSinDifference([]float32{1, 2}, []float32{1, 2}, 0)
	require.Error(t, err)

	_, _, err = AddSinDifference([]float32{1, 2, 3}, []float32{1, 2, 3}, 2)
	require.Error(t, err)

	_, _, err = AddSinDifference(make([]float32, 14), make([]float32, 7), detect.BoxStride)
	require.Error(t, err)
}
