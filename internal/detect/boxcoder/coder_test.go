package boxcoder

import (
	"math"
	"testing"

	"github.com/banshee-data/pillars.detect/internal/detect"
)

func boxApproxEq(a, b detect.Box, tol float64) bool {
	diff := []float64{
		float64(a.X - b.X), float64(a.Y - b.Y), float64(a.Z - b.Z),
		float64(a.Length - b.Length), float64(a.Width - b.Width),
		float64(a.Height - b.Height), float64(a.Yaw - b.Yaw),
	}
	for _, d := range diff {
		if math.Abs(d) > tol {
			return false
		}
	}
	return true
}

func TestCoder_RoundTrip(t *testing.T) {
	var c Coder
	anchor := detect.Box{X: 10, Y: -4, Z: -1, Length: 4.7, Width: 2.1, Height: 1.7, Yaw: 0}

	boxes := []detect.Box{
		{X: 10.5, Y: -3.2, Z: -0.8, Length: 4.2, Width: 1.9, Height: 1.6, Yaw: 0.3},
		{X: 9.1, Y: -4.4, Z: -1.1, Length: 5.5, Width: 2.4, Height: 1.9, Yaw: -1.2},
		{X: 10, Y: -4, Z: -1, Length: 4.7, Width: 2.1, Height: 1.7, Yaw: 0},
		{X: 30, Y: 18, Z: 0.5, Length: 0.8, Width: 0.7, Height: 1.8, Yaw: 2.9},
	}

	for i, b := range boxes {
		got := c.Decode(encodeSlice(c, b, anchor), anchor)
		if !boxApproxEq(got, b, 1e-4) {
			t.Errorf("box %d: decode(encode(b)) = %+v, want %+v", i, got, b)
		}
	}
}

func encodeSlice(c Coder, box, anchor detect.Box) []float32 {
	res := c.Encode(box, anchor)
	return res[:]
}

func TestCoder_ZeroResidualIsAnchor(t *testing.T) {
	var c Coder
	anchor := detect.Box{X: 1, Y: 2, Z: 3, Length: 4, Width: 2, Height: 1.5, Yaw: 0.7}
	zero := make([]float32, CodeSize)

	got := c.Decode(zero, anchor)
	if !boxApproxEq(got, anchor, 1e-6) {
		t.Errorf("Expected zero residual to decode to the anchor, got %+v", got)
	}
}

func TestCoder_KnownDecode(t *testing.T) {
	var c Coder
	// Anchor 3-4-5 triangle: diagonal = 5.
	anchor := detect.Box{X: 0, Y: 0, Z: 0, Length: 4, Width: 3, Height: 2, Yaw: 0}
	delta := []float32{1, -1, 0.5, 0, 0, 0, 0.25}

	got := c.Decode(delta, anchor)
	want := detect.Box{X: 5, Y: -5, Z: 1, Length: 4, Width: 3, Height: 2, Yaw: 0.25}
	if !boxApproxEq(got, want, 1e-5) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestCoder_DecodeAllRoundTrip(t *testing.T) {
	var c Coder
	anchors := []float32{
		0, 0, 0, 4, 2, 1.6, 0,
		5, 5, -1, 4, 2, 1.6, 1.5708,
		-3, 8, 0, 1, 0.8, 1.9, 0,
	}
	boxes := []detect.Box{
		{X: 0.4, Y: -0.2, Z: 0.1, Length: 4.4, Width: 1.8, Height: 1.5, Yaw: 0.1},
		{X: 5.3, Y: 4.1, Z: -0.7, Length: 3.6, Width: 2.2, Height: 1.7, Yaw: 1.4},
		{X: -2.8, Y: 8.4, Z: 0.2, Length: 0.9, Width: 0.9, Height: 1.8, Yaw: -0.4},
	}

	deltas, err := c.EncodeAll(boxes, anchors)
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}
	got, err := c.DecodeAll(deltas, anchors)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(got) != len(boxes) {
		t.Fatalf("Expected %d boxes, got %d", len(boxes), len(got))
	}
	for i := range boxes {
		if !boxApproxEq(got[i], boxes[i], 1e-4) {
			t.Errorf("box %d: round trip gave %+v, want %+v", i, got[i], boxes[i])
		}
	}
}

func TestCoder_DecodeAllShapeMismatch(t *testing.T) {
	var c Coder

	if _, err := c.DecodeAll(make([]float32, 14), make([]float32, 7)); err == nil {
		t.Error("Expected error for mismatched tensor lengths")
	}
	if _, err := c.DecodeAll(make([]float32, 10), make([]float32, 10)); err == nil {
		t.Error("Expected error for length not divisible by code size")
	}
}

func TestCoder_NoNaNForFiniteInputs(t *testing.T) {
	var c Coder
	anchor := detect.Box{X: 0, Y: 0, Z: -1, Length: 1.6, Width: 3.9, Height: 1.56, Yaw: 0}
	delta := []float32{-2.5, 3.1, 0.9, 1.2, -0.7, 0.05, -3.3}

	got := c.Decode(delta, anchor)
	vals := []float32{got.X, got.Y, got.Z, got.Length, got.Width, got.Height, got.Yaw}
	for i, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Errorf("channel %d: expected finite value, got %v", i, v)
		}
	}
}
