// Package physics integrates driver input into vehicle motion. The model is
// arcade style: a scalar speed along the heading, fixed acceleration rates
// and linear friction while coasting.
package physics

import (
	"errors"
	"fmt"

	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// Input is one tick's snapshot of the driver's controls.
type Input struct {
	SteerLeft  bool `json:"steer_left" msgpack:"steer_left"`
	SteerRight bool `json:"steer_right" msgpack:"steer_right"`
	Throttle   bool `json:"throttle" msgpack:"throttle"`
	Brake      bool `json:"brake" msgpack:"brake"`
	Reset      bool `json:"reset,omitempty" msgpack:"reset,omitempty"`
}

// State is the mutable part of a vehicle.
type State struct {
	geometry.Pose
	Velocity float64 `json:"velocity" msgpack:"velocity"`
}

// Tuning holds the per-tick rates. Accel is used both to speed up and to
// brake forward motion; ReverseAccel only applies when backing up.
type Tuning struct {
	SteerRate       float64 `json:"steer_rate"`
	Accel           float64 `json:"accel"`
	ReverseAccel    float64 `json:"reverse_accel"`
	MaxSpeed        float64 `json:"max_speed"`
	MaxReverseSpeed float64 `json:"max_reverse_speed"`
	Friction        float64 `json:"friction"`
}

var ErrInvalidTuning = errors.New("invalid tuning")

// DefaultTuning returns the stock handling values.
func DefaultTuning() Tuning {
	return Tuning{
		SteerRate:       3,
		Accel:           0.2,
		ReverseAccel:    0.1,
		MaxSpeed:        5.5,
		MaxReverseSpeed: -2,
		Friction:        0.15,
	}
}

// Validate checks that the rates are usable.
func (t Tuning) Validate() error {
	switch {
	case t.MaxSpeed <= 0:
		return fmt.Errorf("%w: max_speed must be positive, got %v", ErrInvalidTuning, t.MaxSpeed)
	case t.MaxReverseSpeed > 0:
		return fmt.Errorf("%w: max_reverse_speed must not be positive, got %v", ErrInvalidTuning, t.MaxReverseSpeed)
	case t.Accel <= 0:
		return fmt.Errorf("%w: accel must be positive, got %v", ErrInvalidTuning, t.Accel)
	case t.ReverseAccel < 0:
		return fmt.Errorf("%w: reverse_accel must not be negative, got %v", ErrInvalidTuning, t.ReverseAccel)
	case t.Friction < 0:
		return fmt.Errorf("%w: friction must not be negative, got %v", ErrInvalidTuning, t.Friction)
	case t.SteerRate < 0:
		return fmt.Errorf("%w: steer_rate must not be negative, got %v", ErrInvalidTuning, t.SteerRate)
	}
	return nil
}

// Step advances s by dt ticks under input and returns the new state. The
// result's velocity is always within [MaxReverseSpeed, MaxSpeed] and its
// heading within [0, 360).
func (t Tuning) Step(s State, in Input, dt float64) State {
	if in.SteerLeft {
		s.Heading += t.SteerRate * dt
	}
	if in.SteerRight {
		s.Heading -= t.SteerRate * dt
	}
	s.Heading = geometry.NormalizeHeading(s.Heading)

	v := s.Velocity
	switch {
	case in.Throttle:
		v = min(v+t.Accel*dt, t.MaxSpeed)
	case in.Brake:
		if v > 0 {
			v = max(v-t.Accel*dt, 0)
		} else {
			v = max(v-t.ReverseAccel*dt, t.MaxReverseSpeed)
		}
	default:
		if v > 0 {
			v = max(v-t.Friction*dt, 0)
		} else if v < 0 {
			v = min(v+t.Friction*dt, 0)
		}
	}
	s.Velocity = t.Clamp(v)

	d := geometry.Forward(s.Heading).Mul(s.Velocity * dt)
	s.X += d.X()
	s.Y += d.Y()
	return s
}

// Clamp limits v to the legal speed range.
func (t Tuning) Clamp(v float64) float64 {
	return min(max(v, t.MaxReverseSpeed), t.MaxSpeed)
}
