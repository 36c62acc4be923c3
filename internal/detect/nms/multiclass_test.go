package nms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pillars.detect/internal/detect/geom"
)

func TestMulticlass_ShapeValidation(t *testing.T) {
	t.Parallel()

	boxes := unitSquares(geom.Point{}, geom.Point{X: 5})

	_, err := Multiclass(Rotated{}, boxes, []float32{0.1, 0.2, 0.3}, 2, 0, Params{IoUThreshold: 0.5})
	require.Error(t, err, "scores length must be boxes x classes")

	_, err = Multiclass(Rotated{}, boxes, nil, 0, 0, Params{IoUThreshold: 0.5})
	require.Error(t, err, "class count must be positive")
}

func TestMulticlass_AllBelowThresholdIsNoDetections(t *testing.T) {
	t.Parallel()

	boxes := unitSquares(geom.Point{}, geom.Point{X: 5}, geom.Point{X: 10})
	scores := []float32{
		0.02, 0.01,
		0.04, 0.03,
		0.01, 0.02,
	}

	selected, err := Multiclass(Rotated{}, boxes, scores, 2, 0.1, Params{IoUThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	for class, kept := range selected {
		assert.Nil(t, kept, "class %d should have no survivors", class)
	}
}

func TestMulticlass_ThresholdMapsBackToOriginalIndices(t *testing.T) {
	t.Parallel()

	// Class 0 passes only candidates 1 and 3; they are disjoint so both
	// survive, and the returned indices must be in the caller's space,
	// not the thresholded subset's.
	boxes := unitSquares(geom.Point{}, geom.Point{X: 5}, geom.Point{X: 10}, geom.Point{X: 15})
	scores := []float32{
		0.05, 0.9,
		0.80, 0.05,
		0.05, 0.05,
		0.60, 0.05,
	}

	selected, err := Multiclass(Rotated{}, boxes, scores, 2, 0.5, Params{IoUThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, selected[0])
	assert.Equal(t, []int{0}, selected[1])
}

func TestMulticlass_ClassesAreIndependent(t *testing.T) {
	t.Parallel()

	// Two overlapping boxes. Class 0 favours box 0, class 1 favours
	// box 1; each class suppresses its own loser without affecting the
	// other class's pick.
	boxes := unitSquares(geom.Point{}, geom.Point{X: 0.1})
	scores := []float32{
		0.9, 0.3,
		0.4, 0.8,
	}

	selected, err := Multiclass(Rotated{}, boxes, scores, 2, 0, Params{IoUThreshold: 0.3})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, selected[0])
	assert.Equal(t, []int{1}, selected[1])
}

func TestMulticlass_ZeroThresholdKeepsAllCandidates(t *testing.T) {
	t.Parallel()

	// A zero threshold disables the score filter entirely; even
	// zero-scored candidates enter suppression.
	boxes := unitSquares(geom.Point{}, geom.Point{X: 5})
	scores := []float32{
		0.0,
		0.0,
	}

	selected, err := Multiclass(Rotated{}, boxes, scores, 1, 0, Params{IoUThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, selected[0])
}

func TestMulticlass_EmptyInput(t *testing.T) {
	t.Parallel()

	selected, err := Multiclass(Rotated{}, nil, nil, 3, 0.1, Params{IoUThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, selected, 3)
	for _, kept := range selected {
		assert.Nil(t, kept)
	}
}

func TestMulticlass_PostMaxSizePerClass(t *testing.T) {
	t.Parallel()

	// The post cap applies within each class, not across the merged
	// result.
	boxes := unitSquares(geom.Point{}, geom.Point{X: 5}, geom.Point{X: 10})
	scores := []float32{
		0.9, 0.8,
		0.7, 0.9,
		0.6, 0.7,
	}

	selected, err := Multiclass(Rotated{}, boxes, scores, 2, 0, Params{IoUThreshold: 0.5, PostMaxSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, selected[0])
	assert.Equal(t, []int{1, 0}, selected[1])
}
