package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/wricardo/mcp-training/lidardrive/game/collision"
	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// hudRows is the number of text lines under the track.
const hudRows = 2

type cellKind uint8

const (
	cellEmpty cellKind = iota
	cellWall
	cellFinish
)

var (
	styleWall   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleFinish = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleRay    = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleHit    = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleCar    = tcell.StyleDefault.Foreground(tcell.ColorAqua)
	styleCrash  = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleHUD    = tcell.StyleDefault.Foreground(tcell.ColorWhite)
)

// viewport maps field pixels onto terminal cells. Cells are scaled on each
// axis independently so the whole field always fits.
type viewport struct {
	cols, rows int
	sx, sy     float64
}

func newViewport(field geometry.Size, cols, rows int) viewport {
	cols, rows = max(cols, 1), max(rows, 1)
	return viewport{
		cols: cols,
		rows: rows,
		sx:   float64(field.Width) / float64(cols),
		sy:   float64(field.Height) / float64(rows),
	}
}

// toCell returns the cell under a field point, clamped to the viewport.
func (v viewport) toCell(p geometry.Vec) (int, int) {
	c := int(math.Floor(p.X() / v.sx))
	r := int(math.Floor(p.Y() / v.sy))
	return min(max(c, 0), v.cols-1), min(max(r, 0), v.rows-1)
}

// cellRect returns the field pixels covered by a cell.
func (v viewport) cellRect(c, r int) geometry.Rect {
	x0, y0 := int(float64(c)*v.sx), int(float64(r)*v.sy)
	x1, y1 := int(float64(c+1)*v.sx), int(float64(r+1)*v.sy)
	return geometry.Rect{X: x0, Y: y0, Width: max(x1-x0, 1), Height: max(y1-y0, 1)}
}

// terrain classifies every cell. A cell holding any solid pixel is a wall
// so thin walls survive downscaling.
func terrain(v viewport, bm *geometry.Bitmap, finish []geometry.Rect) [][]cellKind {
	out := make([][]cellKind, v.rows)
	for r := range out {
		out[r] = make([]cellKind, v.cols)
		for c := range out[r] {
			out[r][c] = classify(v.cellRect(c, r), bm, finish)
		}
	}
	return out
}

func classify(cell geometry.Rect, bm *geometry.Bitmap, finish []geometry.Rect) cellKind {
	for y := cell.Y; y < cell.Bottom(); y++ {
		for x := cell.X; x < cell.Right(); x++ {
			if bm.InBounds(x, y) && bm.Solid(x, y) {
				return cellWall
			}
		}
	}
	cx, cy := cell.X+cell.Width/2, cell.Y+cell.Height/2
	for _, z := range finish {
		if z.Contains(cx, cy) {
			return cellFinish
		}
	}
	return cellEmpty
}

type glyph struct {
	ch    rune
	style tcell.Style
}

// canvas is one composed screen, kept apart from tcell so it can be
// inspected directly.
type canvas struct {
	w, h  int
	cells []glyph
}

func newCanvas(w, h int) *canvas {
	c := &canvas{w: w, h: h, cells: make([]glyph, w*h)}
	for i := range c.cells {
		c.cells[i] = glyph{ch: ' ', style: tcell.StyleDefault}
	}
	return c
}

func (c *canvas) set(x, y int, ch rune, style tcell.Style) {
	if x < 0 || y < 0 || x >= c.w || y >= c.h {
		return
	}
	c.cells[y*c.w+x] = glyph{ch: ch, style: style}
}

func (c *canvas) at(x, y int) glyph {
	return c.cells[y*c.w+x]
}

func (c *canvas) text(x, y int, s string, style tcell.Style) {
	for _, ch := range s {
		c.set(x, y, ch, style)
		x++
	}
}

// row returns line y as a string, for tests and debugging.
func (c *canvas) row(y int) string {
	var b strings.Builder
	for x := 0; x < c.w; x++ {
		b.WriteRune(c.at(x, y).ch)
	}
	return b.String()
}

func (c *canvas) blit(screen tcell.Screen) {
	for y := 0; y < c.h; y++ {
		for x := 0; x < c.w; x++ {
			g := c.at(x, y)
			screen.SetContent(x, y, g.ch, nil, g.style)
		}
	}
}

// compose draws terrain, rays, car and HUD into a canvas of the
// viewport's size plus the HUD lines.
func compose(v viewport, cells [][]cellKind, shape geometry.Shape, f *engine.Frame, source string) *canvas {
	cv := newCanvas(v.cols, v.rows+hudRows)

	for r, row := range cells {
		for c, k := range row {
			switch k {
			case cellWall:
				cv.set(c, r, '█', styleWall)
			case cellFinish:
				cv.set(c, r, '▒', styleFinish)
			}
		}
	}

	if f == nil {
		cv.text(0, v.rows, "waiting for first frame...", styleHUD)
		return cv
	}

	origin := f.Pose.Position()
	for _, end := range f.RayEnds {
		drawRay(cv, v, cells, origin, end)
	}

	body := collision.NewBody(f.Pose, shape)
	lo, hi := body.Bounds()
	c0, r0 := v.toCell(lo)
	c1, r1 := v.toCell(hi)
	style := styleCar
	if f.Collided {
		style = styleCrash
	}
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			if body.Overlaps(v.cellRect(c, r)) {
				cv.set(c, r, '▓', style)
			}
		}
	}
	cc, cr := v.toCell(origin)
	cv.set(cc, cr, headingArrow(f.Pose.Heading), style)

	lines := hudLines(f, source)
	for i, line := range lines {
		cv.text(0, v.rows+i, line, styleHUD)
	}
	return cv
}

// drawRay traces from origin to end in cell steps, leaving walls intact.
func drawRay(cv *canvas, v viewport, cells [][]cellKind, origin, end geometry.Vec) {
	c0, r0 := v.toCell(origin)
	c1, r1 := v.toCell(end)
	steps := max(abs(c1-c0), abs(r1-r0))
	for i := 1; i < steps; i++ {
		t := float64(i) / float64(steps)
		c := c0 + int(math.Round(t*float64(c1-c0)))
		r := r0 + int(math.Round(t*float64(r1-r0)))
		if cells[r][c] == cellEmpty {
			cv.set(c, r, '·', styleRay)
		}
	}
	cv.set(c1, r1, '*', styleHit)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// headingArrow picks the arrow closest to a heading. Heading 0 points up
// and grows counter-clockwise.
func headingArrow(heading float64) rune {
	arrows := []rune{'↑', '↖', '←', '↙', '↓', '↘', '→', '↗'}
	i := int(math.Round(geometry.NormalizeHeading(heading)/45)) % len(arrows)
	return arrows[i]
}

func hudLines(f *engine.Frame, source string) []string {
	var status string
	switch f.Phase {
	case engine.PhaseCountdown:
		status = fmt.Sprintf("COUNTDOWN %d", f.Countdown)
	case engine.PhaseFinished:
		status = "FINISHED " + f.TimerText
	default:
		status = "RUNNING " + f.TimerText
	}
	if f.Collided {
		status += "  CRASH"
	}

	first := fmt.Sprintf("%s  speed %.2f  heading %.0f°  pos (%.0f,%.0f)  tick %d  [%s]",
		status, f.Speed, f.Pose.Heading, f.Pose.X, f.Pose.Y, f.Tick, source)
	second := fmt.Sprintf("sensors %v  w/↑ throttle  s/↓ brake  a/← d/→ steer  r reset  q quit", f.Sensors)
	return []string{first, second}
}
