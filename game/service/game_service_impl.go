package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/loop"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

// Option configures the game service.
type Option func(*gameServiceImpl)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *gameServiceImpl) {
		s.logger = l
	}
}

// WithFrameSink sets where real-time frames are delivered.
func WithFrameSink(sink FrameSink) Option {
	return func(s *gameServiceImpl) {
		s.sink = sink
	}
}

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions SessionManager
	configs  ConfigManager
	sink     FrameSink
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, configs ConfigManager, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions: sessions,
		configs:  configs,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "service").Logger()
	return s
}

// CreateSession creates a new session on the named track, or the default
// track when trackID is empty
func (s *gameServiceImpl) CreateSession(ctx context.Context, trackID string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var track *engine.TrackConfig
	var err error
	if trackID != "" {
		track, err = s.configs.LoadTrack(trackID)
		if err != nil {
			if errors.Is(err, ErrTrackNotFound) {
				available, listErr := s.configs.ListTracks()
				if listErr == nil && len(available) > 0 {
					ids := make([]string, 0, len(available))
					for _, t := range available {
						ids = append(ids, t.TrackID)
					}
					return nil, fmt.Errorf("track '%s' not found. Available tracks: %v: %w", trackID, ids, err)
				}
				return nil, fmt.Errorf("track '%s' not found. Use /api/tracks to list available tracks: %w", trackID, err)
			}
			return nil, fmt.Errorf("failed to load track %s: %w", trackID, err)
		}
	} else {
		track = s.configs.GetDefault()
		trackID = track.Name
	}

	// Let session manager generate a proper 4-character ID
	sess, err := s.sessions.Create("", trackID, track)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().Str("session", sess.ID).Str("track", trackID).Msg("session created")
	return s.info(sess, true), nil
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.info(sess, true), nil
}

// ListSessions returns all active sessions
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.info(sess, false))
	}
	return result, nil
}

// DeleteSession stops any real-time loop and removes the session
func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, err := s.sessions.Get(sessionID); err == nil {
		sess.StopRealtime()
	}
	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	s.logger.Info().Str("session", sessionID).Msg("session deleted")
	return nil
}

// Step applies the same input for up to ticks ticks. It stops early when the
// run finishes.
func (s *gameServiceImpl) Step(ctx context.Context, sessionID string, input physics.Input, ticks int) (*StepResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	if ticks <= 0 {
		ticks = 1
	}
	result := &StepResult{
		RequestedTicks: ticks,
		Events:         make([]GameEvent, 0),
	}
	if ticks > engine.MaxStepTicks {
		result.Truncated = true
		result.Limit = engine.MaxStepTicks
		ticks = engine.MaxStepTicks
	}

	sess.Do(func(e *engine.SimEngine) {
		result.StartPose = e.State().Pose
		prev := result.StartPose
		wasColliding := false

		for i := 0; i < ticks; i++ {
			if ctx.Err() != nil {
				result.StoppedReason = "request cancelled"
				break
			}
			if e.Phase() == engine.PhaseFinished && !input.Reset {
				result.StoppedReason = "run already finished; reset to drive again"
				result.StopReasonCode = "already_finished"
				break
			}

			f := e.Tick(input)
			input.Reset = false
			result.TicksExecuted++
			result.Distance += f.Pose.Position().Sub(prev.Position()).Len()
			prev = f.Pose

			// Grinding along a wall reports one collision event, not one per tick.
			result.Events = append(result.Events, frameEvents(f, wasColliding)...)
			if f.Collided {
				result.Collisions++
			}
			wasColliding = f.Collided
			if f.Finished {
				result.StoppedReason = fmt.Sprintf("finished in %.2fs", f.ElapsedSeconds)
				result.StopReasonCode = "finished"
				break
			}
		}

		result.Frame = e.Frame()
		result.EndPose = result.Frame.Pose
	})

	s.touch(sessionID)
	s.persist(sessionID)
	return result, nil
}

// Reset starts a new run
func (s *gameServiceImpl) Reset(ctx context.Context, sessionID string) (*engine.Frame, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	var f *engine.Frame
	sess.Do(func(e *engine.SimEngine) {
		f = e.Reset()
	})

	s.touch(sessionID)
	s.persist(sessionID)
	return f, nil
}

// GetFrame returns the latest frame without advancing the simulation
func (s *gameServiceImpl) GetFrame(ctx context.Context, sessionID string) (*engine.Frame, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	var f *engine.Frame
	sess.Do(func(e *engine.SimEngine) {
		f = e.Frame()
	})
	s.touch(sessionID)
	return f, nil
}

// Probe describes what lies at pixel (x, y) of the session's track
func (s *gameServiceImpl) Probe(ctx context.Context, sessionID string, x, y int) (*ProbeResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	// The bitmap and rectangle lists never change after the engine is built.
	bm := sess.Engine.Bitmap()
	track := sess.Track
	result := &ProbeResult{
		X:       x,
		Y:       y,
		InField: bm.InBounds(x, y),
		Solid:   bm.Solid(x, y),
	}
	for i, r := range track.Obstacles {
		if r.Contains(x, y) {
			result.Obstacles = append(result.Obstacles, i)
		}
	}
	for i, r := range track.FinishZones {
		if r.Contains(x, y) {
			result.FinishZones = append(result.FinishZones, i)
		}
	}
	return result, nil
}

// SetInput replaces the held input used by the real-time loop. A reset in
// the input is applied once.
func (s *gameServiceImpl) SetInput(ctx context.Context, sessionID string, input physics.Input) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.input = input
	sess.mu.Unlock()
	s.touch(sessionID)
	return nil
}

// StartRealtime drives the session at its track's tick rate until stopped
func (s *gameServiceImpl) StartRealtime(ctx context.Context, sessionID string) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.loop != nil && sess.loop.Running() {
		return nil
	}

	id := sess.ID
	logger := s.logger.With().Str("session", id).Logger()
	sess.loop = loop.New(sess.Engine.TickRate(), func(ctx context.Context) bool {
		sess.mu.Lock()
		f := sess.Engine.Tick(sess.input)
		sess.input.Reset = false
		sess.mu.Unlock()

		if s.sink != nil {
			s.sink.BroadcastFrame(id, f)
		}
		return true
	}, logger)

	// The loop outlives the request that started it.
	sess.loop.Start(context.Background())
	logger.Info().Int("rate", sess.Engine.TickRate()).Msg("realtime started")
	return nil
}

// StopRealtime stops the session's real-time loop
func (s *gameServiceImpl) StopRealtime(ctx context.Context, sessionID string) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}

	if sess.StopRealtime() {
		s.logger.Info().Str("session", sessionID).Msg("realtime stopped")
		s.persist(sessionID)
	}
	s.touch(sessionID)
	return nil
}

// ListTracks returns the available tracks
func (s *gameServiceImpl) ListTracks(ctx context.Context) ([]*TrackInfo, error) {
	return s.configs.ListTracks()
}

// LoadTrack returns a track definition
func (s *gameServiceImpl) LoadTrack(ctx context.Context, trackID string) (*engine.TrackConfig, error) {
	return s.configs.LoadTrack(trackID)
}

// SaveTrack validates and stores a track definition
func (s *gameServiceImpl) SaveTrack(ctx context.Context, trackID string, track *engine.TrackConfig) error {
	return s.configs.SaveTrack(trackID, track)
}

// Shutdown stops every real-time loop
func (s *gameServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := 0
	for _, sess := range s.sessions.List() {
		if sess.StopRealtime() {
			stopped++
			s.persist(sess.ID)
		}
	}
	s.logger.Info().Int("stopped", stopped).Msg("realtime loops stopped")
	return ctx.Err()
}

// session looks up a session and wraps lookup failures.
func (s *gameServiceImpl) session(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (s *gameServiceImpl) touch(sessionID string) {
	s.sessions.UpdateLastAccessed(sessionID)
}

// persist saves the session, logging instead of failing the call.
func (s *gameServiceImpl) persist(sessionID string) {
	if err := s.sessions.Save(sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to persist session")
	}
}

func (s *gameServiceImpl) info(sess *Session, withTrack bool) *SessionInfo {
	info := &SessionInfo{
		ID:             sess.ID,
		TrackID:        sess.TrackID,
		TrackName:      sess.Track.Name,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessed(),
		Realtime:       sess.Realtime(),
	}
	sess.Do(func(e *engine.SimEngine) {
		info.Frame = e.Frame()
	})
	if withTrack {
		info.Track = sess.Track
	}
	return info
}

// frameEvents turns a frame's flags into events.
func frameEvents(f *engine.Frame, wasColliding bool) []GameEvent {
	var events []GameEvent
	now := time.Now()
	if f.Reset {
		events = append(events, GameEvent{Type: "reset", Message: "Run reset to the start line", Tick: f.Tick, Timestamp: now})
	}
	if f.Started {
		events = append(events, GameEvent{Type: "start", Message: "Countdown over, go!", Tick: f.Tick, Timestamp: now})
	}
	if f.Collided && !wasColliding {
		events = append(events, GameEvent{
			Type:      "collision",
			Message:   fmt.Sprintf("Hit a wall at (%.1f, %.1f)", f.Pose.X, f.Pose.Y),
			Tick:      f.Tick,
			Timestamp: now,
		})
	}
	if f.Finished {
		events = append(events, GameEvent{Type: "finish", Message: f.TimerText, Tick: f.Tick, Timestamp: now})
	}
	return events
}
