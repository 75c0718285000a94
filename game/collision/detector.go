package collision

import (
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// Detector binds a vehicle shape to a track's field, walls and finish
// zones. It holds no mutable state and may be shared between goroutines.
type Detector struct {
	field     geometry.Size
	shape     geometry.Shape
	obstacles []geometry.Rect
	finish    []geometry.Rect
}

// NewDetector creates a detector. The slices are retained and must not be
// modified afterwards.
func NewDetector(field geometry.Size, shape geometry.Shape, obstacles, finish []geometry.Rect) *Detector {
	return &Detector{
		field:     field,
		shape:     shape,
		obstacles: obstacles,
		finish:    finish,
	}
}

// Blocked reports whether the body at pose hits a wall or leaves the field.
func (d *Detector) Blocked(pose geometry.Pose) bool {
	b := NewBody(pose, d.shape)
	if !b.Inside(d.field) {
		return true
	}
	_, hit := firstOverlap(b, d.obstacles)
	return hit
}

// FirstHit returns the index of the first obstacle overlapped at pose, or
// -1 with false when the body is clear of all obstacles.
func (d *Detector) FirstHit(pose geometry.Pose) (int, bool) {
	return firstOverlap(NewBody(pose, d.shape), d.obstacles)
}

// InFinish reports whether the body at pose overlaps any finish zone.
func (d *Detector) InFinish(pose geometry.Pose) bool {
	_, hit := firstOverlap(NewBody(pose, d.shape), d.finish)
	return hit
}

// Shape returns the body footprint the detector tests with.
func (d *Detector) Shape() geometry.Shape {
	return d.shape
}
