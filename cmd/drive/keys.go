package main

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

type control int

const (
	ctlThrottle control = iota
	ctlBrake
	ctlLeft
	ctlRight
	numControls
)

// DefaultHold covers the gap between a key press and the first terminal
// autorepeat on most systems.
const DefaultHold = 400 * time.Millisecond

// heldKeys emulates key-up events, which terminals do not report. A
// control counts as held until hold has passed since its last press.
type heldKeys struct {
	hold time.Duration
	last [numControls]time.Time
}

func newHeldKeys(hold time.Duration) *heldKeys {
	if hold <= 0 {
		hold = DefaultHold
	}
	return &heldKeys{hold: hold}
}

// press marks c as held and releases the opposing control.
func (h *heldKeys) press(c control, now time.Time) {
	h.last[c] = now
	switch c {
	case ctlThrottle:
		h.last[ctlBrake] = time.Time{}
	case ctlBrake:
		h.last[ctlThrottle] = time.Time{}
	case ctlLeft:
		h.last[ctlRight] = time.Time{}
	case ctlRight:
		h.last[ctlLeft] = time.Time{}
	}
}

func (h *heldKeys) releaseAll() {
	h.last = [numControls]time.Time{}
}

func (h *heldKeys) held(c control, now time.Time) bool {
	t := h.last[c]
	return !t.IsZero() && now.Sub(t) < h.hold
}

// input returns the controls held at now.
func (h *heldKeys) input(now time.Time) physics.Input {
	return physics.Input{
		Throttle:   h.held(ctlThrottle, now),
		Brake:      h.held(ctlBrake, now),
		SteerLeft:  h.held(ctlLeft, now),
		SteerRight: h.held(ctlRight, now),
	}
}

// controlForKey maps arrows and WASD to controls.
func controlForKey(key tcell.Key, r rune) (control, bool) {
	switch key {
	case tcell.KeyUp:
		return ctlThrottle, true
	case tcell.KeyDown:
		return ctlBrake, true
	case tcell.KeyLeft:
		return ctlLeft, true
	case tcell.KeyRight:
		return ctlRight, true
	case tcell.KeyRune:
		switch r {
		case 'w', 'W':
			return ctlThrottle, true
		case 's', 'S', ' ':
			return ctlBrake, true
		case 'a', 'A':
			return ctlLeft, true
		case 'd', 'D':
			return ctlRight, true
		}
	}
	return 0, false
}
