package service

import (
	"time"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// SessionInfo provides information about a simulation session
type SessionInfo struct {
	ID             string              `json:"id"`
	TrackID        string              `json:"track_id"`
	TrackName      string              `json:"track_name"`
	CreatedAt      time.Time           `json:"created_at"`
	LastAccessedAt time.Time           `json:"last_accessed_at"`
	Realtime       bool                `json:"realtime"`
	Frame          *engine.Frame       `json:"frame"`
	Track          *engine.TrackConfig `json:"track,omitempty"`
}

// StepResult contains the result of advancing a session by one or more ticks
type StepResult struct {
	TicksExecuted  int           `json:"ticks_executed"`
	RequestedTicks int           `json:"requested_ticks"`
	Truncated      bool          `json:"truncated,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	Frame          *engine.Frame `json:"frame"`
	Events         []GameEvent   `json:"events"`
	Collisions     int           `json:"collisions"`
	StoppedReason  string        `json:"stopped_reason,omitempty"`   // Human-readable reason
	StopReasonCode string        `json:"stop_reason_code,omitempty"` // Machine-friendly code: finished|already_finished

	// Start/end snapshot
	StartPose geometry.Pose `json:"start_pose"`
	EndPose   geometry.Pose `json:"end_pose"`
	Distance  float64       `json:"distance"`
}

// GameEvent represents something notable that happened during a step
type GameEvent struct {
	Type      string    `json:"type"` // "reset", "start", "collision", "finish", "realtime_start", "realtime_stop"
	Message   string    `json:"message"`
	Tick      int64     `json:"tick,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProbeResult describes a single pixel of a session's track
type ProbeResult struct {
	X           int   `json:"x"`
	Y           int   `json:"y"`
	InField     bool  `json:"in_field"`
	Solid       bool  `json:"solid"`
	Obstacles   []int `json:"obstacles,omitempty"`    // indices of obstacles covering the pixel
	FinishZones []int `json:"finish_zones,omitempty"` // indices of finish zones covering the pixel
}

// TrackInfo provides information about a track definition
type TrackInfo struct {
	Filename    string `json:"filename"`
	TrackID     string `json:"track_id"` // The identifier to use for session creation
	Name        string `json:"name"`     // Display name
	Description string `json:"description"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Obstacles   int    `json:"obstacles"`
	FinishZones int    `json:"finish_zones"`
}
