package main

import (
	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

// Pilot is a reactive driver. It reads nothing but the sensor distances
// and the car's velocity, steers toward the side with more room and
// throttles while the road ahead is longer than its stopping margin.
type Pilot struct {
	// Offsets are the sensor ray angles, matching the frame's Sensors.
	Offsets []float64
	// Bias favours the left side when positive, the right when negative.
	// Retries vary it so the car explores a different branch.
	Bias float64
	// Margin is the relative difference between sides below which the
	// pilot drives straight.
	Margin float64
	// MinGap is the free distance kept ahead when stopped; each unit of
	// speed adds Lookahead pixels.
	MinGap    float64
	Lookahead float64
	// ReverseTicks is how long to back out after getting stuck.
	ReverseTicks int

	reversing int
	steerBack physics.Input
}

// NewPilot returns a pilot with tuned defaults.
func NewPilot(offsets []float64, bias float64) *Pilot {
	return &Pilot{
		Offsets:      offsets,
		Bias:         bias,
		Margin:       0.15,
		MinGap:       30,
		Lookahead:    8,
		ReverseTicks: 30,
	}
}

// Reset clears the pilot's memory between attempts.
func (p *Pilot) Reset() {
	p.reversing = 0
	p.steerBack = physics.Input{}
}

// room returns the free distance ahead and the weighted room on either
// side. Rays with positive offsets point left.
func (p *Pilot) room(sensors []int) (front, left, right float64) {
	front = -1
	for i, d := range sensors {
		if i >= len(p.Offsets) {
			break
		}
		off := p.Offsets[i]
		switch {
		case off > 0:
			left += float64(d)
		case off < 0:
			right += float64(d)
		}
		if off >= -15 && off <= 15 && (front < 0 || float64(d) < front) {
			front = float64(d)
		}
	}
	if front < 0 {
		front = 0
	}
	return front, left * (1 + p.Bias), right * (1 - p.Bias)
}

// Decide returns the controls to hold for the next ticks.
func (p *Pilot) Decide(f *engine.Frame) physics.Input {
	if f == nil || f.Phase == engine.PhaseCountdown {
		return physics.Input{}
	}

	if p.reversing > 0 {
		p.reversing--
		return p.steerBack
	}

	front, left, right := p.room(f.Sensors)

	var in physics.Input
	switch {
	case left > right*(1+p.Margin):
		in.SteerLeft = true
	case right > left*(1+p.Margin):
		in.SteerRight = true
	}

	speed := f.Velocity
	if speed < 0 {
		speed = 0
	}
	if front > p.MinGap+p.Lookahead*speed {
		in.Throttle = true
	} else {
		in.Brake = true
	}

	// Nose against a wall: back out turning the other way so the nose
	// swings toward the open side.
	if (f.Collided || front < p.MinGap/2) && f.Velocity <= 0.1 {
		p.reversing = p.ReverseTicks
		p.steerBack = physics.Input{Brake: true, SteerLeft: in.SteerRight, SteerRight: in.SteerLeft}
		if !in.SteerLeft && !in.SteerRight {
			p.steerBack.SteerRight = p.Bias >= 0
			p.steerBack.SteerLeft = p.Bias < 0
		}
		return p.steerBack
	}
	return in
}
