package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/mcp-training/lidardrive/game/collision"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// ErrInvalidTrack is wrapped by every track validation failure.
var ErrInvalidTrack = errors.New("invalid track")

// ValidateTrackConfig validates a track configuration
func ValidateTrackConfig(config *TrackConfig) error {
	if config == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrInvalidTrack)
	}

	if config.Name == "" {
		return fmt.Errorf("%w: config validation: name cannot be empty", ErrInvalidTrack)
	}

	if config.Width < MinFieldSize || config.Width > MaxFieldSize ||
		config.Height < MinFieldSize || config.Height > MaxFieldSize {
		return fmt.Errorf("%w: config validation: field %dx%d must be within %d-%d on both sides",
			ErrInvalidTrack, config.Width, config.Height, MinFieldSize, MaxFieldSize)
	}

	if !config.Shape().Valid() {
		return fmt.Errorf("%w: config validation: car size %vx%v must be positive",
			ErrInvalidTrack, config.Car.Width, config.Car.Height)
	}

	for i, r := range config.Obstacles {
		if !r.Valid() {
			return fmt.Errorf("%w: config validation: obstacle %d: %w", ErrInvalidTrack, i, geometry.ErrDegenerateRect)
		}
	}

	if len(config.FinishZones) == 0 {
		return fmt.Errorf("%w: config validation: at least one finish zone is required", ErrInvalidTrack)
	}
	for i, r := range config.FinishZones {
		if !r.Valid() {
			return fmt.Errorf("%w: config validation: finish zone %d: %w", ErrInvalidTrack, i, geometry.ErrDegenerateRect)
		}
	}

	if err := config.EffectiveTuning().Validate(); err != nil {
		return fmt.Errorf("%w: config validation: %w", ErrInvalidTrack, err)
	}

	sensors := config.EffectiveSensors()
	if len(sensors.Offsets) == 0 || len(sensors.Offsets) > MaxSensorRays {
		return fmt.Errorf("%w: config validation: sensor ray count must be between 1 and %d, got %d",
			ErrInvalidTrack, MaxSensorRays, len(sensors.Offsets))
	}
	if sensors.MaxDistance <= 0 {
		return fmt.Errorf("%w: config validation: sensor max_distance must be positive, got %d",
			ErrInvalidTrack, sensors.MaxDistance)
	}

	if config.TickRate != 0 && (config.TickRate < MinTickRate || config.TickRate > MaxTickRate) {
		return fmt.Errorf("%w: config validation: tick_rate must be between %d and %d, got %d",
			ErrInvalidTrack, MinTickRate, MaxTickRate, config.TickRate)
	}

	if config.CountdownSeconds < 0 || config.CountdownSeconds > MaxCountdown {
		return fmt.Errorf("%w: config validation: countdown_seconds must be between 0 and %d, got %d",
			ErrInvalidTrack, MaxCountdown, config.CountdownSeconds)
	}

	det := collision.NewDetector(config.Field(), config.Shape(), config.Obstacles, config.FinishZones)
	start := config.InitialPose()
	if det.Blocked(start) {
		return fmt.Errorf("%w: config validation: start pose (%.1f, %.1f) heading %.1f is blocked",
			ErrInvalidTrack, start.X, start.Y, start.Heading)
	}
	if det.InFinish(start) {
		return fmt.Errorf("%w: config validation: start pose is inside a finish zone", ErrInvalidTrack)
	}

	return nil
}

// LoadTrackConfig loads a track configuration from a JSON file
func LoadTrackConfig(filename string) (*TrackConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config TrackConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse track file '%s': %w", filepath.Base(filename), err)
	}

	if config.Name == "" {
		config.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	if err := ValidateTrackConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultTrackConfig returns the built-in "classic" track: a 1000x800 maze
// that winds from the top-left corner to a finish bay in the bottom-right.
func DefaultTrackConfig() *TrackConfig {
	return &TrackConfig{
		Name:        "classic",
		Description: "Winding maze from the top-left corner to the bottom-right bay",
		Width:       1000,
		Height:      800,
		Start:       StartPose{X: 83, Y: 66, Heading: 180},
		Car:         CarSpec{Width: 20, Height: 40},
		Obstacles: []geometry.Rect{
			{X: 0, Y: 0, Width: 10, Height: 800},
			{X: 0, Y: 300, Width: 200, Height: 10},
			{X: 200, Y: 300, Width: 10, Height: 200},
			{X: 200, Y: 500, Width: 400, Height: 10},
			{X: 600, Y: 160, Width: 10, Height: 350},
			{X: 600, Y: 160, Width: 250, Height: 10},
			{X: 600, Y: 500, Width: 250, Height: 10},
			{X: 0, Y: 0, Width: 1000, Height: 10},
			{X: 750, Y: 340, Width: 250, Height: 10},
			{X: 150, Y: 0, Width: 10, Height: 180},
			{X: 150, Y: 180, Width: 180, Height: 10},
			{X: 320, Y: 180, Width: 10, Height: 200},
			{X: 320, Y: 380, Width: 150, Height: 10},
			{X: 470, Y: 0, Width: 10, Height: 390},
			{X: 100, Y: 640, Width: 900, Height: 10},
			{X: 100, Y: 465, Width: 10, Height: 175},
			{X: 0, Y: 790, Width: 1000, Height: 10},
			{X: 1000, Y: 650, Width: 10, Height: 500},
			{X: 990, Y: 0, Width: 10, Height: 650},
		},
		FinishZones: []geometry.Rect{
			{X: 925, Y: 650, Width: 75, Height: 140},
		},
		TickRate:         DefaultTickRate,
		CountdownSeconds: DefaultCountdown,
	}
}
