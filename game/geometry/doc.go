// Package geometry holds the static layout primitives of a track: integer
// pixel rectangles, the play field, vehicle poses, and the occupancy bitmap
// derived from a set of obstacle rectangles.
//
// Coordinates are screen pixels: x grows to the right and y grows downward.
// A heading of 0 degrees points up the screen (toward negative y) and
// positive headings turn counter-clockwise, so the forward unit vector for a
// heading h is (-sin h, -cos h). Every package that moves or aims something
// derives its direction from Forward so the conventions cannot drift apart.
//
// Usage:
//
//	field := geometry.Size{Width: 1000, Height: 800}
//	bm, err := geometry.Build(field, obstacles)
//	if err != nil {
//		return err
//	}
//	if bm.Solid(x, y) {
//		// hit
//	}
package geometry
