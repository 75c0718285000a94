package geometry

import (
	"errors"
	"fmt"
)

var (
	ErrDegenerateRect = errors.New("rectangle must have positive width and height")
	ErrInvalidField   = errors.New("play field must have positive width and height")
)

// Bitmap is a read-only occupancy grid covering the play field. It is safe
// for concurrent readers once built.
type Bitmap struct {
	size  Size
	cells []bool
	solid int
}

// Build rasterizes obstacles into a new Bitmap. Rectangles are clipped to
// the field; any rectangle with a non-positive dimension is rejected.
func Build(field Size, obstacles []Rect) (*Bitmap, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidField, field.Width, field.Height)
	}

	bm := &Bitmap{
		size:  field,
		cells: make([]bool, field.Width*field.Height),
	}

	for i, r := range obstacles {
		if !r.Valid() {
			return nil, fmt.Errorf("obstacle %d: %w (got %dx%d)", i, ErrDegenerateRect, r.Width, r.Height)
		}
		x0, y0 := max(r.X, 0), max(r.Y, 0)
		x1, y1 := min(r.Right(), field.Width), min(r.Bottom(), field.Height)
		for y := y0; y < y1; y++ {
			row := y * field.Width
			for x := x0; x < x1; x++ {
				if !bm.cells[row+x] {
					bm.cells[row+x] = true
					bm.solid++
				}
			}
		}
	}

	return bm, nil
}

// Size returns the field the bitmap covers.
func (b *Bitmap) Size() Size {
	return b.size
}

// InBounds reports whether pixel (x, y) is on the grid.
func (b *Bitmap) InBounds(x, y int) bool {
	return b.size.Contains(x, y)
}

// Solid reports whether pixel (x, y) is blocked. Off-grid pixels are solid.
func (b *Bitmap) Solid(x, y int) bool {
	if !b.InBounds(x, y) {
		return true
	}
	return b.cells[y*b.size.Width+x]
}

// SolidCount returns the number of solid on-grid pixels.
func (b *Bitmap) SolidCount() int {
	return b.solid
}

// Coverage returns the solid fraction of the field in [0, 1].
func (b *Bitmap) Coverage() float64 {
	return float64(b.solid) / float64(len(b.cells))
}
