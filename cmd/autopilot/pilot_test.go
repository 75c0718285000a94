package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/sensor"
)

func runningFrame(velocity float64, sensors ...int) *engine.Frame {
	return &engine.Frame{Phase: engine.PhaseRunning, Velocity: velocity, Sensors: sensors}
}

func TestPilotDecide(t *testing.T) {
	tests := []struct {
		name  string
		frame *engine.Frame
		want  physics.Input
	}{
		{
			name:  "countdown holds still",
			frame: &engine.Frame{Phase: engine.PhaseCountdown, Sensors: []int{1, 1, 1, 1, 1}},
			want:  physics.Input{},
		},
		{
			name:  "open road",
			frame: runningFrame(0, 100, 100, 200, 100, 100),
			want:  physics.Input{Throttle: true},
		},
		{
			name:  "more room on the left",
			frame: runningFrame(2, 40, 50, 200, 150, 200),
			want:  physics.Input{Throttle: true, SteerLeft: true},
		},
		{
			name:  "more room on the right",
			frame: runningFrame(2, 300, 250, 200, 60, 40),
			want:  physics.Input{Throttle: true, SteerRight: true},
		},
		{
			name:  "wall ahead at speed",
			frame: runningFrame(5, 100, 60, 50, 60, 100),
			want:  physics.Input{Brake: true},
		},
		{
			name:  "sides within margin",
			frame: runningFrame(1, 100, 100, 200, 105, 100),
			want:  physics.Input{Throttle: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPilot(sensor.DefaultOffsets, 0)
			assert.Equal(t, tt.want, p.Decide(tt.frame))
		})
	}
}

func TestPilotReversesWhenStuck(t *testing.T) {
	p := NewPilot(sensor.DefaultOffsets, 0)
	p.ReverseTicks = 2

	stuck := runningFrame(0, 10, 8, 5, 30, 60)
	first := p.Decide(stuck)
	assert.True(t, first.Brake)
	assert.True(t, first.SteerRight, "more room on the left, so back out steering right")

	// The manoeuvre is held regardless of what the sensors say
	open := runningFrame(0, 300, 300, 300, 300, 300)
	assert.Equal(t, first, p.Decide(open))
	assert.Equal(t, first, p.Decide(open))
	assert.Equal(t, physics.Input{Throttle: true}, p.Decide(open))

	p.Decide(stuck)
	p.Reset()
	assert.Equal(t, physics.Input{Throttle: true}, p.Decide(open))
}

func TestPilotBias(t *testing.T) {
	frame := runningFrame(1, 100, 100, 200, 100, 100)

	left := NewPilot(sensor.DefaultOffsets, 0.2)
	assert.True(t, left.Decide(frame).SteerLeft)

	right := NewPilot(sensor.DefaultOffsets, -0.2)
	assert.True(t, right.Decide(frame).SteerRight)
}

func TestAttemptBias(t *testing.T) {
	want := []float64{0, 0.1, -0.1, 0.2, -0.2}
	for i, w := range want {
		assert.InDelta(t, w, attemptBias(i+1), 1e-9, "attempt %d", i+1)
	}
}
