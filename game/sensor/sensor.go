// Package sensor implements the vehicle's ray sensor array, a simplified
// lidar. Each ray marches one pixel at a time across an occupancy bitmap
// and reports how far it travelled before reaching a solid pixel or the
// edge of the play field.
package sensor

import (
	"math"

	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// DefaultOffsets are the ray angles relative to the heading, in degrees.
var DefaultOffsets = []float64{-30, -15, 0, 15, 30}

// DefaultMaxDistance caps a ray that never meets a wall.
const DefaultMaxDistance = 10000

// Array is a fixed set of rays. The zero value has no rays.
type Array struct {
	Offsets     []float64 `json:"offsets"`
	MaxDistance int       `json:"max_distance"`
}

// DefaultArray returns the five-ray forward fan.
func DefaultArray() Array {
	offsets := make([]float64, len(DefaultOffsets))
	copy(offsets, DefaultOffsets)
	return Array{Offsets: offsets, MaxDistance: DefaultMaxDistance}
}

// Cast returns one distance per offset for a vehicle at pose.
func (a Array) Cast(bm *geometry.Bitmap, pose geometry.Pose) []int {
	return Cast(bm, pose.X, pose.Y, pose.Heading, a.Offsets, a.MaxDistance)
}

// Endpoints returns where each ray stopped, for drawing.
func (a Array) Endpoints(pose geometry.Pose, distances []int) []geometry.Vec {
	out := make([]geometry.Vec, len(distances))
	origin := pose.Position()
	for i, d := range distances {
		dir := geometry.Forward(pose.Heading + a.Offsets[i])
		out[i] = origin.Add(dir.Mul(float64(d)))
	}
	return out
}

// Cast marches one ray per offset from (x, y). A ray stops at the first
// sample that is off the field or solid and returns that step count; a ray
// that never stops returns maxDistance. Results always lie in
// [0, maxDistance].
func Cast(bm *geometry.Bitmap, x, y, heading float64, offsets []float64, maxDistance int) []int {
	out := make([]int, len(offsets))
	for i, off := range offsets {
		out[i] = march(bm, x, y, geometry.Forward(heading+off), maxDistance)
	}
	return out
}

func march(bm *geometry.Bitmap, x, y float64, dir geometry.Vec, maxDistance int) int {
	if maxDistance < 0 {
		return 0
	}
	dx, dy := dir.X(), dir.Y()
	for d := 0; d < maxDistance; d++ {
		px := int(math.Floor(x + float64(d)*dx))
		py := int(math.Floor(y + float64(d)*dy))
		if bm.Solid(px, py) {
			return d
		}
	}
	return maxDistance
}
