package detect

// BoxStride is the number of channels in one flat-tensor box record:
// [x y z length width height yaw].
const BoxStride = 7

// Box is a 7-DOF (7 Degrees of Freedom) 3D bounding box in the sensor
// ground frame. The same layout is used for anchors, decoded predictions
// and final detections.
//
// 7-DOF parameters:
//   - X/Y/Z: Centre position (metres)
//   - Length: Box extent along heading direction (metres)
//   - Width: Box extent perpendicular to heading (metres)
//   - Height: Box extent along Z-axis (metres)
//   - Yaw: Rotation around Z-axis (radians, counter-clockwise positive)
//
// Yaw is not normalised: regression residuals and the direction-resolver
// correction can push it outside [-π, π], and consumers only canonicalise
// when forming corners.
type Box struct {
	X      float32
	Y      float32
	Z      float32
	Length float32 // Extent along heading axis
	Width  float32 // Extent perpendicular to heading
	Height float32 // Extent along Z
	Yaw    float32 // Rotation around Z-axis
}

// BoxAt reads the i-th box from a flat [N*7] tensor.
func BoxAt(t []float32, i int) Box {
	o := i * BoxStride
	return Box{
		X:      t[o+0],
		Y:      t[o+1],
		Z:      t[o+2],
		Length: t[o+3],
		Width:  t[o+4],
		Height: t[o+5],
		Yaw:    t[o+6],
	}
}

// PutBoxAt writes b into the i-th record of a flat [N*7] tensor.
func PutBoxAt(t []float32, i int, b Box) {
	o := i * BoxStride
	t[o+0] = b.X
	t[o+1] = b.Y
	t[o+2] = b.Z
	t[o+3] = b.Length
	t[o+4] = b.Width
	t[o+5] = b.Height
	t[o+6] = b.Yaw
}

// BatchPreds carries the raw detection-head outputs for one forward pass.
// All tensors are row-major and flat; the per-anchor channel counts are
// fixed by the pipeline configuration (code size, class count, direction
// head on/off).
type BatchPreds struct {
	BatchSize  int
	NumAnchors int // anchors per batch element

	BoxPreds []float32 // [BatchSize * NumAnchors * codeSize]
	ClsPreds []float32 // [BatchSize * NumAnchors * numClassWithBg]
	DirPreds []float32 // [BatchSize * NumAnchors * 2]; nil when the direction head is absent
}

// Detection is one final detection record, used at the persistence and
// reporting boundary.
type Detection struct {
	SampleIdx int64
	Box       Box
	Score     float32
	Label     int32 // 0-based foreground class id
	DirClass  int32 // hemisphere class; -1 when the direction classifier is off
}

// Detections is the per-sample pipeline output in columnar form, mirroring
// the tensor shape it was assembled from. A sample with no surviving
// candidates has nil slices; that is the expected "no detections" value,
// not an error.
type Detections struct {
	SampleIdx int64
	Boxes     []Box
	Scores    []float32
	Labels    []int32
	DirLabels []int32 // nil when the direction classifier is off
}

// Empty reports whether no candidates survived for this sample.
func (d Detections) Empty() bool { return len(d.Boxes) == 0 }

// Records flattens the columnar result into per-detection records.
func (d Detections) Records() []Detection {
	if d.Empty() {
		return nil
	}
	recs := make([]Detection, len(d.Boxes))
	for i := range d.Boxes {
		recs[i] = Detection{
			SampleIdx: d.SampleIdx,
			Box:       d.Boxes[i],
			Score:     d.Scores[i],
			Label:     d.Labels[i],
			DirClass:  -1,
		}
		if d.DirLabels != nil {
			recs[i].DirClass = d.DirLabels[i]
		}
	}
	return recs
}
