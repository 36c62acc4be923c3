package synthetic

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/pipeline"
)

func TestAnchorsGrid(t *testing.T) {
	t.Parallel()

	g := NewGenerator(1)
	anchors := g.Anchors()

	require.Len(t, anchors, g.NumAnchors()*detect.BoxStride)
	require.Equal(t, 400, g.NumAnchors())

	first := detect.BoxAt(anchors, 0)
	assert.InDelta(t, 2.0, first.X, 1e-5)
	assert.InDelta(t, -38.0, first.Y, 1e-5)
	assert.InDelta(t, -1.0, first.Z, 1e-5)
	assert.InDelta(t, 3.9, first.Length, 1e-5)
	assert.InDelta(t, 1.6, first.Width, 1e-5)
	assert.InDelta(t, 1.56, first.Height, 1e-5)
	assert.Zero(t, first.Yaw)

	last := detect.BoxAt(anchors, g.NumAnchors()-1)
	assert.InDelta(t, 78.0, last.X, 1e-5)
	assert.InDelta(t, 38.0, last.Y, 1e-5)
}

func TestSceneDeterminism(t *testing.T) {
	t.Parallel()

	a, err := NewGenerator(42).Scene(2)
	require.NoError(t, err)
	b, err := NewGenerator(42).Scene(2)
	require.NoError(t, err)

	assert.True(t, reflect.DeepEqual(a.Preds, b.Preds), "same seed must reproduce predictions")
	assert.True(t, reflect.DeepEqual(a.Objects, b.Objects), "same seed must reproduce objects")

	c, err := NewGenerator(43).Scene(2)
	require.NoError(t, err)
	assert.False(t, reflect.DeepEqual(a.Preds.BoxPreds, c.Preds.BoxPreds), "different seeds must differ")
}

func TestSceneShapesAndLabels(t *testing.T) {
	t.Parallel()

	g := NewGenerator(7)
	g.NumClass = 3
	sc, err := g.Scene(2)
	require.NoError(t, err)

	n := g.NumAnchors()
	require.Equal(t, 2, sc.Preds.BatchSize)
	require.Equal(t, n, sc.Preds.NumAnchors)
	require.Len(t, sc.Preds.BoxPreds, 2*n*detect.BoxStride)
	require.Len(t, sc.Preds.ClsPreds, 2*n*3)
	require.Len(t, sc.Preds.DirPreds, 2*n*2)
	require.Len(t, sc.Objects, 2)
	require.Len(t, sc.Labels, 2)
	require.Len(t, sc.RegTargets, 2)

	for b := 0; b < 2; b++ {
		require.Len(t, sc.Objects[b], g.ObjectCount)
		require.Len(t, sc.Labels[b], n)
		require.Len(t, sc.RegTargets[b], n*detect.BoxStride)

		positives := 0
		for _, l := range sc.Labels[b] {
			if l > 0 {
				positives++
				assert.LessOrEqual(t, l, int32(3))
			}
		}
		assert.Equal(t, g.ObjectCount, positives)
	}
}

func TestSceneDecodesThroughPipeline(t *testing.T) {
	t.Parallel()

	g := NewGenerator(11)
	sc, err := g.Scene(2)
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.DefaultConfig())
	require.NoError(t, err)

	results, err := p.Predict(sc.Anchors, sc.Preds, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for b, res := range results {
		// Background logits sit far below the score threshold and the
		// planted objects are too far apart to suppress each other, so
		// exactly the planted objects survive.
		require.Len(t, res.Boxes, g.ObjectCount, "sample %d", b)

		for _, want := range sc.Objects[b] {
			best := -1
			bestDist := float32(1e9)
			for i, got := range res.Boxes {
				dx := got.X - want.X
				dy := got.Y - want.Y
				if d := dx*dx + dy*dy; d < bestDist {
					bestDist = d
					best = i
				}
			}
			require.GreaterOrEqual(t, best, 0)
			got := res.Boxes[best]
			assert.InDelta(t, want.X, got.X, 0.5)
			assert.InDelta(t, want.Y, got.Y, 0.5)
			assert.InDelta(t, want.Yaw, got.Yaw, 0.2, "direction resolver must keep the planted hemisphere")
			assert.GreaterOrEqual(t, res.Scores[best], float32(0.9))
		}
	}
}

func TestSceneTrainingTargets(t *testing.T) {
	t.Parallel()

	g := NewGenerator(5)
	sc, err := g.Scene(1)
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.DefaultConfig())
	require.NoError(t, err)

	targets, err := p.TrainingTargets(sc.Anchors, sc.Labels, sc.RegTargets)
	require.NoError(t, err)

	// NormByNumPositives spreads unit mass over the planted anchors.
	var regSum float32
	for _, w := range targets.Weights.Reg[0] {
		regSum += w
	}
	assert.InDelta(t, 1.0, regSum, 1e-5)

	// Planted residuals reproduce each object's yaw hemisphere.
	for a, l := range sc.Labels[0] {
		if l <= 0 {
			continue
		}
		gtYaw := sc.RegTargets[0][a*detect.BoxStride+6]
		if gtYaw > 0 {
			assert.Equal(t, int32(0), targets.DirTargets[0][a])
		} else {
			assert.Equal(t, int32(1), targets.DirTargets[0][a])
		}
	}
}

func TestSceneErrors(t *testing.T) {
	t.Parallel()

	g := NewGenerator(1)
	_, err := g.Scene(0)
	assert.Error(t, err)

	g.ObjectCount = g.NumAnchors() + 1
	_, err = g.Scene(1)
	assert.Error(t, err)

	g = NewGenerator(1)
	g.NumClass = 0
	_, err = g.Scene(1)
	assert.Error(t, err)
}
