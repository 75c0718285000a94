package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
)

// MockSessionManager implements service.SessionManager for testing
type MockSessionManager struct {
	mu       sync.Mutex
	sessions map[string]*service.Session
	saves    int
}

func NewMockSessionManager() *MockSessionManager {
	return &MockSessionManager{
		sessions: make(map[string]*service.Session),
	}
}

func (m *MockSessionManager) Create(id, trackID string, track *engine.TrackConfig) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Generate ID if empty (mimics real session manager behavior)
	if id == "" {
		id = fmt.Sprintf("t%03d", len(m.sessions)+1)
	}

	if _, exists := m.sessions[id]; exists {
		return nil, errors.New("session already exists")
	}

	eng, err := engine.NewEngine(track)
	if err != nil {
		return nil, err
	}

	session := &service.Session{
		ID:        id,
		TrackID:   trackID,
		Engine:    eng,
		Track:     track,
		CreatedAt: time.Now(),
	}
	session.Touch()

	m.sessions[id] = session
	return session, nil
}

func (m *MockSessionManager) Get(id string) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, service.ErrSessionNotFound
	}
	return session, nil
}

func (m *MockSessionManager) GetOrCreate(id, trackID string, track *engine.TrackConfig) (*service.Session, error) {
	if session, err := m.Get(id); err == nil {
		return session, nil
	}
	return m.Create(id, trackID, track)
}

func (m *MockSessionManager) List() []*service.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*service.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

func (m *MockSessionManager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return service.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MockSessionManager) UpdateLastAccessed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, exists := m.sessions[id]; exists {
		session.Touch()
		return nil
	}
	return service.ErrSessionNotFound
}

func (m *MockSessionManager) Save(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return service.ErrSessionNotFound
	}
	m.saves++
	return nil
}

// MockConfigManager implements service.ConfigManager for testing
type MockConfigManager struct {
	tracks map[string]*engine.TrackConfig
}

// createTestTrack is an open 1000x800 field. The car starts at (500, 400)
// facing down the screen with a finish zone just ahead and a wall behind.
// Countdown is 10 ticks.
func createTestTrack() *engine.TrackConfig {
	return &engine.TrackConfig{
		Name:   "test",
		Width:  1000,
		Height: 800,
		Start:  engine.StartPose{X: 500, Y: 400, Heading: 180},
		Car:    engine.CarSpec{Width: 20, Height: 40},
		Obstacles: []geometry.Rect{
			{X: 480, Y: 300, Width: 40, Height: 10},
		},
		FinishZones: []geometry.Rect{
			{X: 450, Y: 440, Width: 100, Height: 60},
		},
		TickRate:         10,
		CountdownSeconds: 1,
	}
}

func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{
		tracks: map[string]*engine.TrackConfig{
			"test":    createTestTrack(),
			"classic": engine.DefaultTrackConfig(),
		},
	}
}

func (m *MockConfigManager) LoadTrack(name string) (*engine.TrackConfig, error) {
	track, ok := m.tracks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrTrackNotFound, name)
	}
	return track, nil
}

func (m *MockConfigManager) ListTracks() ([]*service.TrackInfo, error) {
	var infos []*service.TrackInfo
	for id, track := range m.tracks {
		infos = append(infos, &service.TrackInfo{
			Filename: id + ".json",
			TrackID:  id,
			Name:     track.Name,
			Width:    track.Width,
			Height:   track.Height,
		})
	}
	return infos, nil
}

func (m *MockConfigManager) GetDefault() *engine.TrackConfig {
	return m.tracks["test"]
}

func (m *MockConfigManager) SaveTrack(name string, track *engine.TrackConfig) error {
	if err := engine.ValidateTrackConfig(track); err != nil {
		return err
	}
	m.tracks[name] = track
	return nil
}

// recordingSink collects frames from real-time loops.
type recordingSink struct {
	mu     sync.Mutex
	frames map[string][]*engine.Frame
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: make(map[string][]*engine.Frame)}
}

func (s *recordingSink) BroadcastFrame(sessionID string, frame *engine.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[sessionID] = append(s.frames[sessionID], frame)
}

func (s *recordingSink) count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames[sessionID])
}

func (s *recordingSink) last(sessionID string) *engine.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.frames[sessionID]
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

func newTestService(opts ...service.Option) (service.GameService, *MockSessionManager) {
	sessions := NewMockSessionManager()
	return service.NewGameService(sessions, NewMockConfigManager(), opts...), sessions
}

// passCountdown steps with no input until the run has started.
func passCountdown(t *testing.T, svc service.GameService, id string) {
	t.Helper()
	res, err := svc.Step(context.Background(), id, physics.Input{}, 10)
	require.NoError(t, err)
	require.Equal(t, engine.PhaseRunning, res.Frame.Phase)
}

func hasEvent(events []service.GameEvent, typ string) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	t.Run("default track", func(t *testing.T) {
		info, err := svc.CreateSession(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "test", info.TrackID)
		assert.Equal(t, "test", info.TrackName)
		require.NotNil(t, info.Frame)
		assert.Equal(t, engine.PhaseCountdown, info.Frame.Phase)
		assert.Equal(t, 1, info.Frame.Countdown)
		assert.NotNil(t, info.Track)
		assert.False(t, info.Realtime)
	})

	t.Run("named track", func(t *testing.T) {
		info, err := svc.CreateSession(ctx, "classic")
		require.NoError(t, err)
		assert.Equal(t, "classic", info.TrackID)
		assert.Equal(t, 83.0, info.Frame.Pose.X)
		assert.Len(t, info.Frame.Sensors, 5)
	})

	t.Run("unknown track lists alternatives", func(t *testing.T) {
		_, err := svc.CreateSession(ctx, "nope")
		require.Error(t, err)
		assert.ErrorIs(t, err, service.ErrTrackNotFound)
		assert.Contains(t, err.Error(), "Available tracks")
		assert.Contains(t, err.Error(), "classic")
	})
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	info, err := svc.CreateSession(ctx, "")
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	list, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Track, "list entries omit the track body")

	require.NoError(t, svc.DeleteSession(ctx, info.ID))

	_, err = svc.GetSession(ctx, info.ID)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	err = svc.DeleteSession(ctx, info.ID)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestOperationsOnMissingSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Step(ctx, "zzzz", physics.Input{}, 1)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = svc.Reset(ctx, "zzzz")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = svc.GetFrame(ctx, "zzzz")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = svc.Probe(ctx, "zzzz", 1, 1)
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	assert.ErrorIs(t, svc.SetInput(ctx, "zzzz", physics.Input{}), service.ErrSessionNotFound)
	assert.ErrorIs(t, svc.StartRealtime(ctx, "zzzz"), service.ErrSessionNotFound)
	assert.ErrorIs(t, svc.StopRealtime(ctx, "zzzz"), service.ErrSessionNotFound)
}

func TestStep(t *testing.T) {
	ctx := context.Background()

	t.Run("zero ticks means one", func(t *testing.T) {
		svc, _ := newTestService()
		info, _ := svc.CreateSession(ctx, "")

		res, err := svc.Step(ctx, info.ID, physics.Input{}, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.TicksExecuted)
		assert.Equal(t, 1, res.RequestedTicks)
		assert.Equal(t, int64(1), res.Frame.Tick)
	})

	t.Run("countdown ends with a start event", func(t *testing.T) {
		svc, _ := newTestService()
		info, _ := svc.CreateSession(ctx, "")

		res, err := svc.Step(ctx, info.ID, physics.Input{Throttle: true}, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, res.TicksExecuted)
		assert.True(t, hasEvent(res.Events, "start"))
		assert.Equal(t, engine.PhaseRunning, res.Frame.Phase)
		assert.Equal(t, res.StartPose, res.EndPose, "controls are ignored during countdown")
		assert.Zero(t, res.Distance)
	})

	t.Run("large requests are truncated", func(t *testing.T) {
		svc, _ := newTestService()
		info, _ := svc.CreateSession(ctx, "")

		res, err := svc.Step(ctx, info.ID, physics.Input{}, 5000)
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.Equal(t, engine.MaxStepTicks, res.Limit)
		assert.Equal(t, 5000, res.RequestedTicks)
		assert.Equal(t, engine.MaxStepTicks, res.TicksExecuted)
	})

	t.Run("stops early on finish", func(t *testing.T) {
		svc, sessions := newTestService()
		info, _ := svc.CreateSession(ctx, "")
		passCountdown(t, svc, info.ID)

		res, err := svc.Step(ctx, info.ID, physics.Input{Throttle: true}, 100)
		require.NoError(t, err)
		assert.Less(t, res.TicksExecuted, 100)
		assert.Equal(t, "finished", res.StopReasonCode)
		assert.True(t, res.Frame.Finished)
		assert.Equal(t, engine.PhaseFinished, res.Frame.Phase)
		assert.True(t, hasEvent(res.Events, "finish"))
		assert.Greater(t, res.Distance, 0.0)
		assert.Greater(t, res.EndPose.Y, res.StartPose.Y)
		assert.Positive(t, sessions.saves)

		again, err := svc.Step(ctx, info.ID, physics.Input{Throttle: true}, 5)
		require.NoError(t, err)
		assert.Equal(t, 0, again.TicksExecuted)
		assert.Equal(t, "already_finished", again.StopReasonCode)
		assert.Equal(t, res.Frame.ElapsedSeconds, again.Frame.ElapsedSeconds)

		restarted, err := svc.Step(ctx, info.ID, physics.Input{Reset: true}, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, restarted.TicksExecuted)
		assert.True(t, hasEvent(restarted.Events, "reset"))
		assert.Equal(t, engine.PhaseCountdown, restarted.Frame.Phase)
		assert.NotEqual(t, res.Frame.RunID, restarted.Frame.RunID)
	})

	t.Run("reversing into the wall reports collisions", func(t *testing.T) {
		svc, _ := newTestService()
		info, _ := svc.CreateSession(ctx, "")
		passCountdown(t, svc, info.ID)

		res, err := svc.Step(ctx, info.ID, physics.Input{Brake: true}, 200)
		require.NoError(t, err)
		assert.Equal(t, 200, res.TicksExecuted)
		assert.Positive(t, res.Collisions)
		assert.True(t, hasEvent(res.Events, "collision"))

		collisionEvents := 0
		for _, e := range res.Events {
			if e.Type == "collision" {
				collisionEvents++
			}
		}
		assert.LessOrEqual(t, collisionEvents, res.Collisions)

		// The car never ends up inside the wall.
		assert.GreaterOrEqual(t, res.EndPose.Y-20, 310.0)
	})

	t.Run("cancelled context stops stepping", func(t *testing.T) {
		svc, _ := newTestService()
		info, _ := svc.CreateSession(ctx, "")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		res, err := svc.Step(cctx, info.ID, physics.Input{}, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, res.TicksExecuted)
		assert.Equal(t, "request cancelled", res.StoppedReason)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	info, _ := svc.CreateSession(ctx, "")
	passCountdown(t, svc, info.ID)
	_, err := svc.Step(ctx, info.ID, physics.Input{Throttle: true}, 5)
	require.NoError(t, err)

	before, err := svc.GetFrame(ctx, info.ID)
	require.NoError(t, err)

	f, err := svc.Reset(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, f.Reset)
	assert.Equal(t, before.Tick+1, f.Tick)
	assert.NotEqual(t, before.RunID, f.RunID)
	assert.Equal(t, engine.PhaseCountdown, f.Phase)
	assert.Equal(t, 500.0, f.Pose.X)
	assert.Equal(t, 400.0, f.Pose.Y)
	assert.Zero(t, f.Velocity)

	latest, err := svc.GetFrame(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, f, latest)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	info, _ := svc.CreateSession(ctx, "")

	tests := []struct {
		name       string
		x, y       int
		inField    bool
		solid      bool
		obstacles  []int
		finishZone []int
	}{
		{"open floor", 100, 100, true, false, nil, nil},
		{"obstacle", 490, 305, true, true, []int{0}, nil},
		{"finish zone", 460, 450, true, false, nil, []int{0}},
		{"outside field", -1, 5, false, true, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Probe(ctx, info.ID, tt.x, tt.y)
			require.NoError(t, err)
			assert.Equal(t, tt.inField, res.InField)
			assert.Equal(t, tt.solid, res.Solid)
			assert.Equal(t, tt.obstacles, res.Obstacles)
			assert.Equal(t, tt.finishZone, res.FinishZones)
		})
	}
}

func TestRealtime(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	svc, _ := newTestService(service.WithFrameSink(sink))

	info, err := svc.CreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, svc.SetInput(ctx, info.ID, physics.Input{Throttle: true}))
	require.NoError(t, svc.StartRealtime(ctx, info.ID))
	// Starting twice is harmless.
	require.NoError(t, svc.StartRealtime(ctx, info.ID))

	got, err := svc.GetSession(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, got.Realtime)

	require.Eventually(t, func() bool {
		return sink.count(info.ID) >= 12
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.StopRealtime(ctx, info.ID))
	stoppedAt := sink.count(info.ID)

	got, err = svc.GetSession(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, got.Realtime)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, stoppedAt, sink.count(info.ID), "no frames after stop")

	last := sink.last(info.ID)
	require.NotNil(t, last)
	assert.Equal(t, int64(stoppedAt), last.Tick, "every tick is broadcast exactly once")
	assert.Equal(t, engine.PhaseRunning, last.Phase)
	assert.Greater(t, last.Velocity, 0.0, "held throttle is applied every tick")
}

func TestRealtime_ResetInputAppliesOnce(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	svc, _ := newTestService(service.WithFrameSink(sink))

	info, _ := svc.CreateSession(ctx, "")
	require.NoError(t, svc.SetInput(ctx, info.ID, physics.Input{Reset: true}))
	require.NoError(t, svc.StartRealtime(ctx, info.ID))

	require.Eventually(t, func() bool {
		return sink.count(info.ID) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.StopRealtime(ctx, info.ID))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	resets := 0
	for _, f := range sink.frames[info.ID] {
		if f.Reset {
			resets++
		}
	}
	assert.Equal(t, 1, resets)
}

func TestShutdownStopsLoops(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	svc, _ := newTestService(service.WithFrameSink(sink))

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := svc.CreateSession(ctx, "")
		require.NoError(t, err)
		require.NoError(t, svc.StartRealtime(ctx, info.ID))
		ids = append(ids, info.ID)
	}

	require.NoError(t, svc.Shutdown(ctx))

	for _, id := range ids {
		info, err := svc.GetSession(ctx, id)
		require.NoError(t, err)
		assert.False(t, info.Realtime, "session %s still running", id)
	}
}

func TestDeleteSessionStopsLoop(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	svc, _ := newTestService(service.WithFrameSink(sink))

	info, _ := svc.CreateSession(ctx, "")
	require.NoError(t, svc.StartRealtime(ctx, info.ID))
	require.Eventually(t, func() bool {
		return sink.count(info.ID) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.DeleteSession(ctx, info.ID))
	stoppedAt := sink.count(info.ID)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, stoppedAt, sink.count(info.ID))
}

func TestTracks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	tracks, err := svc.ListTracks(ctx)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)

	track, err := svc.LoadTrack(ctx, "classic")
	require.NoError(t, err)
	assert.Len(t, track.Obstacles, 19)

	_, err = svc.LoadTrack(ctx, "missing")
	assert.ErrorIs(t, err, service.ErrTrackNotFound)

	custom := createTestTrack()
	custom.Name = "custom"
	require.NoError(t, svc.SaveTrack(ctx, "custom", custom))

	info, err := svc.CreateSession(ctx, "custom")
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(info.TrackName, "custom"))

	bad := createTestTrack()
	bad.FinishZones = nil
	assert.ErrorIs(t, svc.SaveTrack(ctx, "bad", bad), engine.ErrInvalidTrack)
}
