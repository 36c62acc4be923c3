// Package synthetic generates deterministic detection scenes: an
// anchor grid over a ground-frame range, planted objects, and noisy
// network outputs that decode back to those objects. It feeds the
// fixture generator, the monitor's demo mode and benchmarks.
//
// The generated classification tensor matches the default head layout
// (sigmoid scores, background encoded as zeros), so its width is
// NumClass with no background column.
package synthetic

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/boxcoder"
	"github.com/banshee-data/pillars.detect/internal/detect/loss"
)

// Generator produces synthetic scenes. Fields may be adjusted between
// calls; the zero values are not usable, construct with NewGenerator.
type Generator struct {
	// Anchor grid
	GridX, GridY int     // anchors per axis
	XMin, XMax   float32 // ground-frame extent, metres
	YMin, YMax   float32
	AnchorLength float32
	AnchorWidth  float32
	AnchorHeight float32
	AnchorZ      float32

	// Scene content
	NumClass      int
	ObjectCount   int     // planted objects per sample
	HighLogit     float32 // classification logit on planted anchors
	LowLogit      float32 // background logit
	ResidualNoise float32 // stddev of the noise added to box residuals

	rng *rand.Rand
}

// NewGenerator creates a generator with a car-sized anchor grid over an
// 80 x 80 m area. The same seed always produces the same scenes.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		GridX:         20,
		GridY:         20,
		XMin:          0,
		XMax:          80,
		YMin:          -40,
		YMax:          40,
		AnchorLength:  3.9,
		AnchorWidth:   1.6,
		AnchorHeight:  1.56,
		AnchorZ:       -1.0,
		NumClass:      1,
		ObjectCount:   8,
		HighLogit:     4.0,
		LowLogit:      -6.0,
		ResidualNoise: 0.02,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// NumAnchors returns the grid size.
func (g *Generator) NumAnchors() int {
	return g.GridX * g.GridY
}

// Anchors lays the anchor grid out as a flat [N*7] tensor, one anchor
// per cell centre, yaw zero.
func (g *Generator) Anchors() []float32 {
	anchors := make([]float32, 0, g.NumAnchors()*detect.BoxStride)
	dx := (g.XMax - g.XMin) / float32(g.GridX)
	dy := (g.YMax - g.YMin) / float32(g.GridY)
	for iy := 0; iy < g.GridY; iy++ {
		for ix := 0; ix < g.GridX; ix++ {
			anchors = append(anchors,
				g.XMin+(float32(ix)+0.5)*dx,
				g.YMin+(float32(iy)+0.5)*dy,
				g.AnchorZ,
				g.AnchorLength,
				g.AnchorWidth,
				g.AnchorHeight,
				0,
			)
		}
	}
	return anchors
}

// Scene is one generated batch: the ground truth, the raw head outputs
// that should decode back to it, and the training targets for the same
// batch.
type Scene struct {
	Anchors    []float32
	NumAnchors int

	Objects [][]detect.Box // planted ground truth per sample
	Preds   detect.BatchPreds

	Labels     [][]int32   // per-anchor class ids: 0 background, 1-based classes
	RegTargets [][]float32 // exact encode residuals on planted anchors
}

// Scene generates a batch of samples. Each sample plants ObjectCount
// objects on distinct anchors, encodes their residuals exactly, then
// perturbs every prediction channel with ResidualNoise.
func (g *Generator) Scene(batch int) (*Scene, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch must be positive, got %d", batch)
	}
	if g.NumClass < 1 {
		return nil, fmt.Errorf("NumClass must be at least 1, got %d", g.NumClass)
	}
	n := g.NumAnchors()
	if g.ObjectCount > n {
		return nil, fmt.Errorf("cannot plant %d objects on %d anchors", g.ObjectCount, n)
	}

	anchors := g.Anchors()
	var coder boxcoder.Coder

	sc := &Scene{
		Anchors:    anchors,
		NumAnchors: n,
		Objects:    make([][]detect.Box, batch),
		Labels:     make([][]int32, batch),
		RegTargets: make([][]float32, batch),
		Preds: detect.BatchPreds{
			BatchSize:  batch,
			NumAnchors: n,
			BoxPreds:   make([]float32, batch*n*detect.BoxStride),
			ClsPreds:   make([]float32, batch*n*g.NumClass),
			DirPreds:   make([]float32, batch*n*2),
		},
	}

	for b := 0; b < batch; b++ {
		boxRow := sc.Preds.BoxPreds[b*n*detect.BoxStride : (b+1)*n*detect.BoxStride]
		clsRow := sc.Preds.ClsPreds[b*n*g.NumClass : (b+1)*n*g.NumClass]
		dirRow := sc.Preds.DirPreds[b*n*2 : (b+1)*n*2]

		for i := range boxRow {
			boxRow[i] = g.gauss() * g.ResidualNoise
		}
		for i := range clsRow {
			clsRow[i] = g.LowLogit
		}

		labels := make([]int32, n)
		regTargets := make([]float32, n*detect.BoxStride)
		objects := make([]detect.Box, 0, g.ObjectCount)

		for _, a := range g.rng.Perm(n)[:g.ObjectCount] {
			anchor := detect.BoxAt(anchors, a)
			gt := g.objectNear(anchor)
			class := int32(g.rng.Intn(g.NumClass))

			delta := coder.Encode(gt, anchor)
			for k, v := range delta {
				regTargets[a*detect.BoxStride+k] = v
				boxRow[a*detect.BoxStride+k] = v + g.gauss()*g.ResidualNoise
			}
			labels[a] = class + 1
			clsRow[a*g.NumClass+int(class)] = g.HighLogit

			if gt.Yaw > 0 {
				dirRow[a*2+int(loss.DirClassPositive)] = 2
				dirRow[a*2+int(loss.DirClassNegative)] = -2
			} else {
				dirRow[a*2+int(loss.DirClassPositive)] = -2
				dirRow[a*2+int(loss.DirClassNegative)] = 2
			}

			objects = append(objects, gt)
		}

		sc.Objects[b] = objects
		sc.Labels[b] = labels
		sc.RegTargets[b] = regTargets
	}

	return sc, nil
}

// objectNear draws a plausible object around an anchor: centre within
// a metre, extents within 10%, free yaw. The yaw keeps 0.1 rad clear
// of the hemisphere boundary so residual noise cannot flip the
// direction target.
func (g *Generator) objectNear(anchor detect.Box) detect.Box {
	yaw := g.uniform(0.1, math32.Pi-0.1)
	if g.rng.Intn(2) == 1 {
		yaw = -yaw
	}
	return detect.Box{
		X:      anchor.X + g.uniform(-1, 1),
		Y:      anchor.Y + g.uniform(-1, 1),
		Z:      anchor.Z + g.uniform(-0.2, 0.2),
		Length: anchor.Length * g.uniform(0.9, 1.1),
		Width:  anchor.Width * g.uniform(0.9, 1.1),
		Height: anchor.Height * g.uniform(0.9, 1.1),
		Yaw:    yaw,
	}
}

func (g *Generator) uniform(lo, hi float32) float32 {
	return lo + g.rng.Float32()*(hi-lo)
}

func (g *Generator) gauss() float32 {
	return float32(g.rng.NormFloat64())
}
