package engine

import (
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/sensor"
)

// Phase is the run timer state.
type Phase string

const (
	PhaseCountdown Phase = "countdown"
	PhaseRunning   Phase = "running"
	PhaseFinished  Phase = "finished"

	// Validation constants
	MinFieldSize        = 50
	MaxFieldSize        = 4000
	MinTickRate         = 1
	MaxTickRate         = 240
	MaxCountdown        = 30
	MaxSensorRays       = 32
	MaxStepTicks        = 600
	DefaultTickRate     = 60
	DefaultCountdown    = 3
	WebSocketBufferSize = 256
)

// StartPose is where the car is parked at the beginning of every run.
type StartPose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// CarSpec is the car footprint. Height is the length along the heading.
type CarSpec struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TrackConfig represents a track definition loaded from JSON
type TrackConfig struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Width            int             `json:"width"`
	Height           int             `json:"height"`
	Start            StartPose       `json:"start"`
	Car              CarSpec         `json:"car"`
	Obstacles        []geometry.Rect `json:"obstacles"`
	FinishZones      []geometry.Rect `json:"finish_zones"`
	Tuning           *physics.Tuning `json:"tuning,omitempty"`
	Sensors          *sensor.Array   `json:"sensors,omitempty"`
	TickRate         int             `json:"tick_rate,omitempty"`
	CountdownSeconds int             `json:"countdown_seconds,omitempty"`
}

// Field returns the play field extent.
func (c *TrackConfig) Field() geometry.Size {
	return geometry.Size{Width: c.Width, Height: c.Height}
}

// InitialPose returns the start position as a pose.
func (c *TrackConfig) InitialPose() geometry.Pose {
	return geometry.Pose{X: c.Start.X, Y: c.Start.Y, Heading: c.Start.Heading}
}

// Shape returns the car footprint.
func (c *TrackConfig) Shape() geometry.Shape {
	return geometry.Shape{Width: c.Car.Width, Height: c.Car.Height}
}

// EffectiveTuning returns the configured tuning or the defaults.
func (c *TrackConfig) EffectiveTuning() physics.Tuning {
	if c.Tuning != nil {
		return *c.Tuning
	}
	return physics.DefaultTuning()
}

// EffectiveSensors returns the configured sensor array or the defaults.
func (c *TrackConfig) EffectiveSensors() sensor.Array {
	if c.Sensors != nil {
		return *c.Sensors
	}
	return sensor.DefaultArray()
}

// EffectiveTickRate returns the tick rate in Hz.
func (c *TrackConfig) EffectiveTickRate() int {
	if c.TickRate > 0 {
		return c.TickRate
	}
	return DefaultTickRate
}

// EffectiveCountdown returns the countdown length in seconds.
func (c *TrackConfig) EffectiveCountdown() int {
	if c.CountdownSeconds > 0 {
		return c.CountdownSeconds
	}
	return DefaultCountdown
}

// Frame is everything a renderer needs after one tick.
type Frame struct {
	Tick           int64          `json:"tick" msgpack:"tick"`
	RunID          string         `json:"run_id" msgpack:"run_id"`
	Pose           geometry.Pose  `json:"pose" msgpack:"pose"`
	Velocity       float64        `json:"velocity" msgpack:"velocity"`
	Speed          float64        `json:"speed" msgpack:"speed"`
	Phase          Phase          `json:"phase" msgpack:"phase"`
	Countdown      int            `json:"countdown" msgpack:"countdown"`
	ElapsedSeconds float64        `json:"elapsed_seconds" msgpack:"elapsed_seconds"`
	TimerText      string         `json:"timer_text" msgpack:"timer_text"`
	Sensors        []int          `json:"sensors" msgpack:"sensors"`
	RayEnds        []geometry.Vec `json:"ray_ends" msgpack:"ray_ends"`
	Collided       bool           `json:"collided,omitempty" msgpack:"collided,omitempty"`
	Started        bool           `json:"started,omitempty" msgpack:"started,omitempty"`
	Finished       bool           `json:"finished,omitempty" msgpack:"finished,omitempty"`
	Reset          bool           `json:"reset,omitempty" msgpack:"reset,omitempty"`
}
