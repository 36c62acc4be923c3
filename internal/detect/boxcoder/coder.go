// Package boxcoder converts between absolute 7-DOF boxes and the
// anchor-relative residuals the regression head is trained on. Decode is
// the exact algebraic inverse of Encode.
package boxcoder

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/banshee-data/pillars.detect/internal/detect"
)

// CodeSize is the channel count of one encoded residual:
// [xt yt zt lt wt ht rt].
const CodeSize = detect.BoxStride

// Coder is the ground-plane residual coder. Centre offsets are scaled by
// the anchor's BEV diagonal (x, y) or height (z), extents are log-ratio
// encoded, and yaw is a plain difference:
//
//	d  = sqrt(la² + wa²)
//	xt = (x − xa) / d     lt = log(l / la)
//	yt = (y − ya) / d     wt = log(w / wa)
//	zt = (z − za) / ha    ht = log(h / ha)
//	rt = r − ra
//
// Anchors must have strictly positive extents; they are fixed
// configuration, not data, so this is a precondition rather than a
// checked error.
type Coder struct{}

// Encode returns the residual that maps anchor onto box.
func (Coder) Encode(box, anchor detect.Box) [CodeSize]float32 {
	diag := math32.Hypot(anchor.Length, anchor.Width)
	return [CodeSize]float32{
		(box.X - anchor.X) / diag,
		(box.Y - anchor.Y) / diag,
		(box.Z - anchor.Z) / anchor.Height,
		math32.Log(box.Length / anchor.Length),
		math32.Log(box.Width / anchor.Width),
		math32.Log(box.Height / anchor.Height),
		box.Yaw - anchor.Yaw,
	}
}

// Decode applies the residual at delta (at least CodeSize values) to the
// anchor, recovering the absolute box.
func (Coder) Decode(delta []float32, anchor detect.Box) detect.Box {
	diag := math32.Hypot(anchor.Length, anchor.Width)
	return detect.Box{
		X:      delta[0]*diag + anchor.X,
		Y:      delta[1]*diag + anchor.Y,
		Z:      delta[2]*anchor.Height + anchor.Z,
		Length: math32.Exp(delta[3]) * anchor.Length,
		Width:  math32.Exp(delta[4]) * anchor.Width,
		Height: math32.Exp(delta[5]) * anchor.Height,
		Yaw:    delta[6] + anchor.Yaw,
	}
}

// DecodeAll decodes a flat [N*7] residual tensor against a flat [N*7]
// anchor tensor. The leading shapes must match exactly; mismatches are a
// caller bug and fail fast.
func (c Coder) DecodeAll(deltas, anchors []float32) ([]detect.Box, error) {
	if len(deltas) != len(anchors) {
		return nil, fmt.Errorf("decode: deltas length %d does not match anchors length %d", len(deltas), len(anchors))
	}
	if len(deltas)%CodeSize != 0 {
		return nil, fmt.Errorf("decode: tensor length %d is not a multiple of code size %d", len(deltas), CodeSize)
	}

	n := len(deltas) / CodeSize
	boxes := make([]detect.Box, n)
	for i := 0; i < n; i++ {
		boxes[i] = c.Decode(deltas[i*CodeSize:(i+1)*CodeSize], detect.BoxAt(anchors, i))
	}
	return boxes, nil
}

// EncodeAll encodes boxes against a flat [N*7] anchor tensor, producing a
// flat residual tensor. Used by fixture generation and round-trip tests.
func (c Coder) EncodeAll(boxes []detect.Box, anchors []float32) ([]float32, error) {
	if len(boxes)*CodeSize != len(anchors) {
		return nil, fmt.Errorf("encode: %d boxes do not match anchors length %d", len(boxes), len(anchors))
	}

	out := make([]float32, len(anchors))
	for i, b := range boxes {
		res := c.Encode(b, detect.BoxAt(anchors, i))
		copy(out[i*CodeSize:(i+1)*CodeSize], res[:])
	}
	return out, nil
}
