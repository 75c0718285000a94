// Package collision tests a rotated rectangular vehicle body against the
// axis-aligned rectangles of a track using the separating-axis theorem.
//
// The package only reports overlap. Deciding what to do about it (reverting
// the pose, ending a run) is left to the caller.
package collision

import (
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// touchEpsilon absorbs float noise so bodies resting exactly on an edge are
// not reported as overlapping.
const touchEpsilon = 1e-9

// Body is a placed, rotated rectangle.
type Body struct {
	Center  geometry.Vec
	forward geometry.Vec
	side    geometry.Vec
	halfLen float64
	halfWid float64
}

// NewBody places shape at pose. The shape's Height runs along the heading.
func NewBody(pose geometry.Pose, shape geometry.Shape) Body {
	return Body{
		Center:  pose.Position(),
		forward: geometry.Forward(pose.Heading),
		side:    geometry.Side(pose.Heading),
		halfLen: shape.Height / 2,
		halfWid: shape.Width / 2,
	}
}

// Corners returns the body's four corners: front-left, front-right,
// rear-right, rear-left.
func (b Body) Corners() [4]geometry.Vec {
	f := b.forward.Mul(b.halfLen)
	s := b.side.Mul(b.halfWid)
	return [4]geometry.Vec{
		b.Center.Add(f).Sub(s),
		b.Center.Add(f).Add(s),
		b.Center.Sub(f).Add(s),
		b.Center.Sub(f).Sub(s),
	}
}

// Bounds returns the axis-aligned extent of the body as min and max points.
func (b Body) Bounds() (lo, hi geometry.Vec) {
	// |f·x|*halfLen + |s·x|*halfWid is the projected half extent per axis.
	ex := abs(b.forward.X())*b.halfLen + abs(b.side.X())*b.halfWid
	ey := abs(b.forward.Y())*b.halfLen + abs(b.side.Y())*b.halfWid
	return geometry.Vec{b.Center.X() - ex, b.Center.Y() - ey},
		geometry.Vec{b.Center.X() + ex, b.Center.Y() + ey}
}

// project returns the interval covered by the body on axis.
func (b Body) project(axis geometry.Vec) (float64, float64) {
	c := b.Center.Dot(axis)
	r := abs(b.forward.Dot(axis))*b.halfLen + abs(b.side.Dot(axis))*b.halfWid
	return c - r, c + r
}

// Overlaps reports whether the body and r share any area. Edges that only
// touch do not count.
func (b Body) Overlaps(r geometry.Rect) bool {
	lo, hi := b.Bounds()

	// World axes: the body's AABB against the rect.
	if !intervalsOverlap(lo.X(), hi.X(), float64(r.X), float64(r.Right())) {
		return false
	}
	if !intervalsOverlap(lo.Y(), hi.Y(), float64(r.Y), float64(r.Bottom())) {
		return false
	}

	// Body axes: the rect's corners against the body.
	corners := r.Corners()
	for _, axis := range [2]geometry.Vec{b.forward, b.side} {
		bmin, bmax := b.project(axis)
		rmin, rmax := projectPoints(corners[:], axis)
		if !intervalsOverlap(bmin, bmax, rmin, rmax) {
			return false
		}
	}

	return true
}

// Inside reports whether every corner of the body lies within field.
func (b Body) Inside(field geometry.Size) bool {
	for _, c := range b.Corners() {
		if !field.ContainsPoint(c) {
			return false
		}
	}
	return true
}

// Check reports whether a body of the given shape at pose overlaps any of
// the rectangles.
func Check(pose geometry.Pose, shape geometry.Shape, rects []geometry.Rect) bool {
	_, hit := firstOverlap(NewBody(pose, shape), rects)
	return hit
}

func firstOverlap(b Body, rects []geometry.Rect) (int, bool) {
	for i, r := range rects {
		if b.Overlaps(r) {
			return i, true
		}
	}
	return -1, false
}

func projectPoints(pts []geometry.Vec, axis geometry.Vec) (float64, float64) {
	lo := pts[0].Dot(axis)
	hi := lo
	for _, p := range pts[1:] {
		d := p.Dot(axis)
		lo = min(lo, d)
		hi = max(hi, d)
	}
	return lo, hi
}

func intervalsOverlap(aMin, aMax, bMin, bMax float64) bool {
	return aMin < bMax-touchEpsilon && bMin < aMax-touchEpsilon
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
