package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec is a point or direction on the play field.
type Vec = mgl64.Vec2

// Rect is an axis-aligned rectangle in whole pixels. It covers the
// half-open ranges [X, X+Width) and [Y, Y+Height).
type Rect struct {
	X      int `json:"x" msgpack:"x"`
	Y      int `json:"y" msgpack:"y"`
	Width  int `json:"width" msgpack:"width"`
	Height int `json:"height" msgpack:"height"`
}

// Size is the extent of the play field.
type Size struct {
	Width  int `json:"width" msgpack:"width"`
	Height int `json:"height" msgpack:"height"`
}

// Pose is a position plus heading in degrees.
type Pose struct {
	X       float64 `json:"x" msgpack:"x"`
	Y       float64 `json:"y" msgpack:"y"`
	Heading float64 `json:"heading" msgpack:"heading"`
}

// Shape is the footprint of a rectangular body before rotation. Height runs
// along the forward axis.
type Shape struct {
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

// Valid reports whether both dimensions are positive.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.Width }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.Height }

// Contains reports whether pixel (px, py) lies inside r.
func (r Rect) Contains(px, py int) bool {
	return px >= r.X && px < r.Right() && py >= r.Y && py < r.Bottom()
}

// ContainsPoint reports whether the continuous point p lies inside r.
func (r Rect) ContainsPoint(p Vec) bool {
	return p.X() >= float64(r.X) && p.X() < float64(r.Right()) &&
		p.Y() >= float64(r.Y) && p.Y() < float64(r.Bottom())
}

// Corners returns the four corners clockwise from the top-left.
func (r Rect) Corners() [4]Vec {
	x0, y0 := float64(r.X), float64(r.Y)
	x1, y1 := float64(r.Right()), float64(r.Bottom())
	return [4]Vec{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// Valid reports whether the field has a positive area.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Contains reports whether pixel (px, py) is on the field.
func (s Size) Contains(px, py int) bool {
	return px >= 0 && px < s.Width && py >= 0 && py < s.Height
}

// ContainsPoint reports whether p lies within the closed field bounds.
func (s Size) ContainsPoint(p Vec) bool {
	return p.X() >= 0 && p.X() <= float64(s.Width) &&
		p.Y() >= 0 && p.Y() <= float64(s.Height)
}

// Valid reports whether both dimensions are positive.
func (s Shape) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Position returns the pose location as a vector.
func (p Pose) Position() Vec {
	return Vec{p.X, p.Y}
}

// Forward returns the unit vector for a heading in degrees.
func Forward(headingDeg float64) Vec {
	rad := headingDeg * math.Pi / 180
	return Vec{-math.Sin(rad), -math.Cos(rad)}
}

// Side returns the unit vector perpendicular to Forward, pointing to the
// vehicle's right.
func Side(headingDeg float64) Vec {
	rad := headingDeg * math.Pi / 180
	return Vec{math.Cos(rad), -math.Sin(rad)}
}

// NormalizeHeading maps any heading into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	// math.Mod(-1e-17, 360) + 360 rounds to 360.
	if h >= 360 {
		h = 0
	}
	return h
}
