package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

func buildField(t *testing.T, obstacles ...geometry.Rect) *geometry.Bitmap {
	t.Helper()
	bm, err := geometry.Build(geometry.Size{Width: 1000, Height: 800}, obstacles)
	require.NoError(t, err)
	return bm
}

func TestCast_OpenFieldSaturates(t *testing.T) {
	bm := buildField(t)
	got := Cast(bm, 500, 400, 0, []float64{-30, -15, 0, 15, 30}, 100)
	assert.Equal(t, []int{100, 100, 100, 100, 100}, got)
}

func TestCast_HitsWallAhead(t *testing.T) {
	// Heading 0 points up; a wall spanning y in [300, 310) sits 100 px ahead
	// of y=400 measured to its bottom row 309.
	bm := buildField(t, geometry.Rect{X: 0, Y: 300, Width: 1000, Height: 10})
	got := Cast(bm, 500, 400, 0, []float64{0}, 600)
	// Sample y = 400 - d floors into row 309 when d = 91.
	assert.Equal(t, []int{91}, got)
}

func TestCast_HeadingConvention(t *testing.T) {
	bm := buildField(t, geometry.Rect{X: 0, Y: 0, Width: 10, Height: 800})

	// 90 degrees turns left (toward -x): wall's right column 9 is reached at d=491.
	left := Cast(bm, 500.5, 400.5, 90, []float64{0}, 10000)
	assert.Equal(t, []int{491}, left)

	// 270 degrees faces right: the field edge at x=1000 stops it.
	right := Cast(bm, 500.5, 400.5, 270, []float64{0}, 10000)
	assert.Equal(t, []int{500}, right)

	// Offsets are added to the heading: 0 + 90 equals heading 90.
	viaOffset := Cast(bm, 500.5, 400.5, 0, []float64{90}, 10000)
	assert.Equal(t, left, viaOffset)
}

func TestCast_Bounds(t *testing.T) {
	bm := buildField(t, geometry.Rect{X: 480, Y: 380, Width: 40, Height: 40})

	t.Run("origin inside wall reads zero", func(t *testing.T) {
		got := Cast(bm, 500, 400, 0, DefaultOffsets, 100)
		assert.Equal(t, []int{0, 0, 0, 0, 0}, got)
	})

	t.Run("origin off field reads zero", func(t *testing.T) {
		got := Cast(bm, -5, 400, 0, []float64{0}, 100)
		assert.Equal(t, []int{0}, got)
	})

	t.Run("zero max distance", func(t *testing.T) {
		got := Cast(bm, 100, 100, 0, []float64{0}, 0)
		assert.Equal(t, []int{0}, got)
	})

	t.Run("always within range", func(t *testing.T) {
		for h := 0.0; h < 360; h += 7.5 {
			for _, d := range Cast(bm, 300, 600, h, DefaultOffsets, 250) {
				assert.GreaterOrEqual(t, d, 0)
				assert.LessOrEqual(t, d, 250)
			}
		}
	})
}

func TestCast_Idempotent(t *testing.T) {
	bm := buildField(t,
		geometry.Rect{X: 200, Y: 100, Width: 10, Height: 500},
		geometry.Rect{X: 600, Y: 0, Width: 10, Height: 400},
	)
	a := Cast(bm, 400.3, 350.7, 33.3, DefaultOffsets, DefaultMaxDistance)
	b := Cast(bm, 400.3, 350.7, 33.3, DefaultOffsets, DefaultMaxDistance)
	assert.Equal(t, a, b)
}

func TestArray(t *testing.T) {
	bm := buildField(t)
	arr := DefaultArray()
	require.Len(t, arr.Offsets, 5)

	arr.Offsets[0] = 99
	assert.Equal(t, -30.0, DefaultOffsets[0], "DefaultArray must copy offsets")

	arr = Array{Offsets: []float64{0, 180}, MaxDistance: 50}
	pose := geometry.Pose{X: 500, Y: 400, Heading: 0}
	dist := arr.Cast(bm, pose)
	assert.Equal(t, []int{50, 50}, dist)

	ends := arr.Endpoints(pose, dist)
	require.Len(t, ends, 2)
	assert.InDelta(t, 500, ends[0].X(), 1e-9)
	assert.InDelta(t, 350, ends[0].Y(), 1e-9)
	assert.InDelta(t, 450, ends[1].Y(), 1e-9)
}
