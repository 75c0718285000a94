package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/loop"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTrackNotFound   = errors.New("track not found")
)

// GameService defines all simulation operations exposed to transports
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, trackID string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Simulation
	Step(ctx context.Context, sessionID string, input physics.Input, ticks int) (*StepResult, error)
	Reset(ctx context.Context, sessionID string) (*engine.Frame, error)
	GetFrame(ctx context.Context, sessionID string) (*engine.Frame, error)
	Probe(ctx context.Context, sessionID string, x, y int) (*ProbeResult, error)

	// Real-time play
	SetInput(ctx context.Context, sessionID string, input physics.Input) error
	StartRealtime(ctx context.Context, sessionID string) error
	StopRealtime(ctx context.Context, sessionID string) error

	// Tracks
	ListTracks(ctx context.Context) ([]*TrackInfo, error)
	LoadTrack(ctx context.Context, trackID string) (*engine.TrackConfig, error)
	SaveTrack(ctx context.Context, trackID string, track *engine.TrackConfig) error

	// Shutdown stops every real-time loop
	Shutdown(ctx context.Context) error
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id, trackID string, track *engine.TrackConfig) (*Session, error)
	Get(id string) (*Session, error)
	GetOrCreate(id, trackID string, track *engine.TrackConfig) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
	Save(id string) error
}

// ConfigManager handles track loading
type ConfigManager interface {
	LoadTrack(name string) (*engine.TrackConfig, error)
	ListTracks() ([]*TrackInfo, error)
	GetDefault() *engine.TrackConfig
	SaveTrack(name string, track *engine.TrackConfig) error
}

// FrameSink receives frames produced by real-time loops
type FrameSink interface {
	BroadcastFrame(sessionID string, frame *engine.Frame)
}

// Session represents an active simulation. The engine is only touched
// while holding the session lock.
type Session struct {
	ID             string
	TrackID        string
	Engine         *engine.SimEngine
	Track          *engine.TrackConfig
	CreatedAt      time.Time

	mu           sync.Mutex
	lastAccessed time.Time
	input        physics.Input
	loop         *loop.Loop
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.TouchAt(time.Now())
}

// TouchAt sets the last access time, e.g. when restoring a saved session.
func (s *Session) TouchAt(t time.Time) {
	s.mu.Lock()
	s.lastAccessed = t
	s.mu.Unlock()
}

// LastAccessed returns when the session was last used.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

// Do runs fn with exclusive access to the engine.
func (s *Session) Do(fn func(e *engine.SimEngine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.Engine)
}

// Snapshot captures the engine state under the session lock.
func (s *Session) Snapshot() engine.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Engine.Snapshot()
}

// Realtime reports whether a real-time loop is driving the session.
func (s *Session) Realtime() bool {
	s.mu.Lock()
	l := s.loop
	s.mu.Unlock()
	return l != nil && l.Running()
}

// StopRealtime stops the real-time loop if one is running and reports
// whether it did.
func (s *Session) StopRealtime() bool {
	s.mu.Lock()
	l := s.loop
	s.loop = nil
	s.mu.Unlock()
	if l == nil {
		return false
	}
	l.Stop()
	return true
}
