package geom

import (
	"github.com/chewxy/math32"
)

// Point is a 2D point in the ground plane (metres).
type Point struct {
	X float32
	Y float32
}

// BEVBox is the bird's-eye-view footprint of a 7-DOF box: the centre,
// planar extents and yaw, i.e. channels [0 1 3 4 6] of the flat layout.
// Z and height play no part in suppression.
type BEVBox struct {
	X      float32
	Y      float32
	Length float32 // Extent along heading axis
	Width  float32 // Extent perpendicular to heading
	Yaw    float32 // Radians, counter-clockwise positive
}

// AABB is an axis-aligned box in standup form (min-x, min-y, max-x, max-y).
type AABB struct {
	MinX float32
	MinY float32
	MaxX float32
	MaxY float32
}

// Corners returns the four BEV corners of the box in counter-clockwise
// order: the unit rectangle is scaled by (Length, Width), rotated by Yaw
// and translated to the centre.
func (b BEVBox) Corners() [4]Point {
	hl := b.Length / 2
	hw := b.Width / 2
	sin := math32.Sin(b.Yaw)
	cos := math32.Cos(b.Yaw)

	// Local corners (heading along +X before rotation), CCW.
	local := [4]Point{
		{hl, hw},
		{-hl, hw},
		{-hl, -hw},
		{hl, -hw},
	}

	var out [4]Point
	for i, p := range local {
		// R = [cos -sin; sin cos] (CCW rotation)
		out[i] = Point{
			X: b.X + p.X*cos - p.Y*sin,
			Y: b.Y + p.X*sin + p.Y*cos,
		}
	}
	return out
}

// Standup returns the axis-aligned bounding box enclosing a corner set.
// This is the lossy reduction used when rotated IoU is disabled: the AABB
// overestimates the footprint of a rotated box, so axis-aligned
// suppression is stronger than rotated suppression for the same
// threshold. The decoded box fields are never corrected back from this
// projection.
func Standup(corners [4]Point) AABB {
	aabb := AABB{
		MinX: corners[0].X, MinY: corners[0].Y,
		MaxX: corners[0].X, MaxY: corners[0].Y,
	}
	for _, c := range corners[1:] {
		if c.X < aabb.MinX {
			aabb.MinX = c.X
		}
		if c.X > aabb.MaxX {
			aabb.MaxX = c.X
		}
		if c.Y < aabb.MinY {
			aabb.MinY = c.Y
		}
		if c.Y > aabb.MaxY {
			aabb.MaxY = c.Y
		}
	}
	return aabb
}

// StandupOf is the corner-then-standup composition for a single box.
func StandupOf(b BEVBox) AABB {
	return Standup(b.Corners())
}

// Area returns the AABB area, zero for inverted boxes.
func (a AABB) Area() float32 {
	w := a.MaxX - a.MinX
	h := a.MaxY - a.MinY
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// AABBIoU returns intersection-over-union of two standup boxes.
func AABBIoU(a, b AABB) float32 {
	interW := min32(a.MaxX, b.MaxX) - max32(a.MinX, b.MinX)
	if interW <= 0 {
		return 0
	}
	interH := min32(a.MaxY, b.MaxY) - max32(a.MinY, b.MinY)
	if interH <= 0 {
		return 0
	}
	inter := interW * interH
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// RotatedIoU returns intersection-over-union of two rotated BEV boxes,
// computed exactly via convex polygon clipping of the corner quads.
func RotatedIoU(a, b BEVBox) float32 {
	areaA := a.Length * a.Width
	areaB := b.Length * b.Width
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	// Cheap reject: disjoint standup boxes cannot intersect.
	ca := a.Corners()
	cb := b.Corners()
	sa := Standup(ca)
	sb := Standup(cb)
	if sa.MaxX < sb.MinX || sb.MaxX < sa.MinX || sa.MaxY < sb.MinY || sb.MaxY < sa.MinY {
		return 0
	}

	inter := intersectionArea(ca, cb)
	if inter <= 0 {
		return 0
	}
	union := float64(areaA) + float64(areaB) - inter
	if union <= 0 {
		return 0
	}
	return float32(inter / union)
}

// intersectionArea clips quad pa against quad pb (Sutherland-Hodgman) and
// returns the area of the intersection polygon. Both quads must be in
// counter-clockwise order, as produced by Corners. Arithmetic runs in
// float64: near-parallel edge intersections lose precision fast in
// float32 and the suppression threshold comparison sits right on top of
// this value.
func intersectionArea(pa, pb [4]Point) float64 {
	// Subject polygon starts as quad A.
	subject := make([]point64, 4, 8)
	for i, p := range pa {
		subject[i] = point64{float64(p.X), float64(p.Y)}
	}

	// Clip by each directed edge of quad B. For a CCW polygon the inside
	// of edge (p->q) is the left half-plane: cross(q-p, v-p) >= 0.
	for i := 0; i < 4; i++ {
		if len(subject) == 0 {
			return 0
		}
		p := point64{float64(pb[i].X), float64(pb[i].Y)}
		q := point64{float64(pb[(i+1)%4].X), float64(pb[(i+1)%4].Y)}
		subject = clipHalfPlane(subject, p, q)
	}
	return polygonArea(subject)
}

type point64 struct {
	x float64
	y float64
}

// clipHalfPlane keeps the part of polygon that lies left of the directed
// line p->q, inserting edge/line intersection points as needed.
func clipHalfPlane(polygon []point64, p, q point64) []point64 {
	out := make([]point64, 0, len(polygon)+2)
	ex := q.x - p.x
	ey := q.y - p.y

	side := func(v point64) float64 {
		return ex*(v.y-p.y) - ey*(v.x-p.x)
	}

	for i := range polygon {
		cur := polygon[i]
		prev := polygon[(i+len(polygon)-1)%len(polygon)]
		curIn := side(cur) >= 0
		prevIn := side(prev) >= 0

		if curIn {
			if !prevIn {
				out = append(out, lineIntersect(prev, cur, p, q))
			}
			out = append(out, cur)
		} else if prevIn {
			out = append(out, lineIntersect(prev, cur, p, q))
		}
	}
	return out
}

// lineIntersect returns the intersection of segment a-b with the infinite
// line p-q. Callers only invoke it when a and b straddle the line, so the
// denominator cannot vanish except for degenerate (zero-length) edges,
// where the segment endpoint is as good an answer as any.
func lineIntersect(a, b, p, q point64) point64 {
	dax := b.x - a.x
	day := b.y - a.y
	dpx := q.x - p.x
	dpy := q.y - p.y

	denom := dax*dpy - day*dpx
	if denom == 0 {
		return a
	}
	t := ((p.x-a.x)*dpy - (p.y-a.y)*dpx) / denom
	return point64{a.x + t*dax, a.y + t*day}
}

// polygonArea computes the shoelace area of a CCW polygon.
func polygonArea(polygon []point64) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	for i := range polygon {
		j := (i + 1) % len(polygon)
		sum += polygon[i].x*polygon[j].y - polygon[j].x*polygon[i].y
	}
	if sum < 0 {
		// Clipping a CCW polygon keeps CCW order; a negative value here
		// means a degenerate sliver, which counts as no overlap.
		return 0
	}
	return sum / 2
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
