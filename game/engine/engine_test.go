package engine

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

// createTestTrack is a small open field with a left boundary wall and a
// finish zone in the bottom-right corner. Countdown is 10 ticks.
func createTestTrack() *TrackConfig {
	return &TrackConfig{
		Name:   "engine-test",
		Width:  1000,
		Height: 800,
		Start:  StartPose{X: 500, Y: 400, Heading: 0},
		Car:    CarSpec{Width: 20, Height: 40},
		Obstacles: []geometry.Rect{
			{X: 0, Y: 0, Width: 10, Height: 800},
		},
		FinishZones: []geometry.Rect{
			{X: 925, Y: 650, Width: 75, Height: 140},
		},
		TickRate:         10,
		CountdownSeconds: 1,
	}
}

func newTestEngine(t *testing.T, track *TrackConfig) *SimEngine {
	t.Helper()
	e, err := NewEngine(track)
	require.NoError(t, err)
	return e
}

// skipCountdown ticks with no input until the run starts.
func skipCountdown(t *testing.T, e *SimEngine) {
	t.Helper()
	for i := 0; i < 1000 && e.Phase() == PhaseCountdown; i++ {
		e.Tick(physics.Input{})
	}
	require.Equal(t, PhaseRunning, e.Phase())
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t, createTestTrack())

	assert.Equal(t, PhaseCountdown, e.Phase())
	assert.Equal(t, int64(0), e.TickCount())
	assert.Equal(t, 10, e.Remaining())
	assert.Contains(t, e.RunID(), "run_")

	f := e.Frame()
	require.NotNil(t, f)
	assert.Equal(t, PhaseCountdown, f.Phase)
	assert.Equal(t, 1, f.Countdown)
	assert.Len(t, f.Sensors, 5)
	assert.Len(t, f.RayEnds, 5)
	assert.Equal(t, "Time: 0.00s", f.TimerText)
	assert.Equal(t, geometry.Pose{X: 500, Y: 400, Heading: 0}, f.Pose)
}

func TestNewEngine_InvalidTrack(t *testing.T) {
	track := createTestTrack()
	track.Obstacles = append(track.Obstacles, geometry.Rect{X: 5, Y: 5, Width: 0, Height: 10})

	_, err := NewEngine(track)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTrack)
	assert.ErrorIs(t, err, geometry.ErrDegenerateRect)
}

func TestNewEngineWithDefaults(t *testing.T) {
	e := NewEngineWithDefaults()

	assert.Equal(t, "classic", e.Track().Name)
	assert.Equal(t, 180, e.Remaining())
	assert.Equal(t, 3, e.Frame().Countdown)
	assert.Equal(t, 60, e.TickRate())
}

func TestCountdown_ReachesRunningAfterKTicks(t *testing.T) {
	e := NewEngineWithDefaults()
	k := 3 * 60

	for i := 1; i < k; i++ {
		f := e.Tick(physics.Input{Throttle: true})
		require.Equal(t, PhaseCountdown, f.Phase, "tick %d", i)
		require.False(t, f.Started)
	}

	f := e.Tick(physics.Input{})
	assert.Equal(t, PhaseRunning, f.Phase)
	assert.True(t, f.Started)
	assert.Equal(t, 0, f.Countdown)
	assert.Equal(t, int64(k), f.Tick)
}

func TestCountdown_IgnoresControls(t *testing.T) {
	e := NewEngineWithDefaults()
	start := e.State()

	for i := 0; i < 100; i++ {
		e.Tick(physics.Input{Throttle: true, SteerLeft: true})
	}

	assert.Equal(t, start, e.State())
	assert.Equal(t, PhaseCountdown, e.Phase())
}

func TestCountdown_DisplayRoundsUp(t *testing.T) {
	e := NewEngineWithDefaults()

	tests := []struct {
		ticks    int
		expected int
	}{
		{1, 3},  // 179 left
		{59, 2}, // 120 left
		{1, 2},  // 119 left
		{60, 1}, // 59 left
		{58, 1}, // 1 left
		{1, 0},  // running
	}

	for _, tt := range tests {
		var f *Frame
		for i := 0; i < tt.ticks; i++ {
			f = e.Tick(physics.Input{})
		}
		assert.Equal(t, tt.expected, f.Countdown, "remaining %d", e.Remaining())
	}
}

func TestTick_ThrottleMovesForward(t *testing.T) {
	e := newTestEngine(t, createTestTrack())
	skipCountdown(t, e)

	var f *Frame
	for i := 0; i < 10; i++ {
		f = e.Tick(physics.Input{Throttle: true})
	}

	// Heading 0 drives toward negative y.
	assert.InDelta(t, 2.0, f.Velocity, 1e-9)
	assert.InDelta(t, 2.0, f.Speed, 1e-9)
	assert.InDelta(t, 500, f.Pose.X, 1e-9)
	assert.Less(t, f.Pose.Y, 400.0)
	assert.False(t, f.Collided)
}

func TestTick_LeftWallRevertsMove(t *testing.T) {
	track := createTestTrack()
	// Heading 90 points toward negative x; the body spans x 11..51.
	track.Start = StartPose{X: 31, Y: 400, Heading: 90}
	e := newTestEngine(t, track)
	skipCountdown(t, e)

	var collided *Frame
	prev := e.State()
	for i := 0; i < 100; i++ {
		f := e.Tick(physics.Input{Throttle: true})
		if f.Collided {
			collided = f
			break
		}
		prev = e.State()
	}

	require.NotNil(t, collided, "expected to reach the wall")
	assert.Equal(t, prev.Pose, collided.Pose)
	assert.Equal(t, 0.0, collided.Velocity)
	assert.Equal(t, 0.0, e.State().Velocity)
	assert.GreaterOrEqual(t, collided.Pose.X-20, 10.0)

	// A car parked against the wall keeps getting pushed back.
	for i := 0; i < 5; i++ {
		f := e.Tick(physics.Input{Throttle: true})
		assert.GreaterOrEqual(t, f.Pose.X-20, 10.0)
	}
}

func TestDetector_BlocksPoseInsideLeftWall(t *testing.T) {
	e := newTestEngine(t, createTestTrack())

	assert.True(t, e.Detector().Blocked(geometry.Pose{X: 5, Y: 400, Heading: 90}))
	assert.True(t, e.Detector().Blocked(geometry.Pose{X: 5, Y: 400, Heading: 0}))
}

func TestTick_FieldEdgeRevertsMove(t *testing.T) {
	track := createTestTrack()
	track.Start = StartPose{X: 500, Y: 30, Heading: 0}
	e := newTestEngine(t, track)
	skipCountdown(t, e)

	sawCollision := false
	for i := 0; i < 100; i++ {
		f := e.Tick(physics.Input{Throttle: true})
		if f.Collided {
			sawCollision = true
		}
		require.GreaterOrEqual(t, f.Pose.Y-20, 0.0)
	}
	assert.True(t, sawCollision)
}

func TestTick_FinishZoneFreezesElapsed(t *testing.T) {
	track := createTestTrack()
	// Heading 180 drives toward positive y; the nose is 30px above the zone.
	track.Start = StartPose{X: 960, Y: 600, Heading: 180}
	e := newTestEngine(t, track)
	skipCountdown(t, e)

	var finished *Frame
	for i := 0; i < 200; i++ {
		f := e.Tick(physics.Input{Throttle: true})
		if f.Finished {
			finished = f
			break
		}
		require.Equal(t, PhaseRunning, f.Phase)
	}

	require.NotNil(t, finished)
	assert.Equal(t, PhaseFinished, finished.Phase)
	assert.Greater(t, finished.ElapsedSeconds, 0.0)

	frozen := finished.ElapsedSeconds
	for i := 0; i < 50; i++ {
		f := e.Tick(physics.Input{Brake: true})
		assert.Equal(t, PhaseFinished, f.Phase)
		assert.Equal(t, frozen, f.ElapsedSeconds)
		assert.False(t, f.Finished)
	}
}

func TestTick_RunningNeverTimesOut(t *testing.T) {
	e := newTestEngine(t, createTestTrack())
	skipCountdown(t, e)

	var f *Frame
	for i := 0; i < 5000; i++ {
		f = e.Tick(physics.Input{})
	}
	assert.Equal(t, PhaseRunning, f.Phase)
	assert.InDelta(t, 500.0, f.ElapsedSeconds, 1e-9)
	assert.Equal(t, "Time: 500.00s", f.TimerText)
}

func TestTick_ResetInput(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *SimEngine)
	}{
		{"during countdown", func(e *SimEngine) { e.Tick(physics.Input{}) }},
		{"while running", func(e *SimEngine) {
			for e.Phase() == PhaseCountdown {
				e.Tick(physics.Input{})
			}
			for i := 0; i < 20; i++ {
				e.Tick(physics.Input{Throttle: true, SteerLeft: true})
			}
		}},
		{"after finish", func(e *SimEngine) {
			for e.Phase() == PhaseCountdown {
				e.Tick(physics.Input{})
			}
			for i := 0; i < 200 && e.Phase() != PhaseFinished; i++ {
				e.Tick(physics.Input{Throttle: true})
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track := createTestTrack()
			track.Start = StartPose{X: 960, Y: 600, Heading: 180}
			e := newTestEngine(t, track)
			tt.setup(e)
			oldRun := e.RunID()

			f := e.Tick(physics.Input{Reset: true, Throttle: true})

			assert.True(t, f.Reset)
			assert.Equal(t, PhaseCountdown, f.Phase)
			assert.Equal(t, 10, e.Remaining())
			assert.Equal(t, track.InitialPose(), f.Pose)
			assert.Equal(t, 0.0, f.Velocity)
			assert.Equal(t, 0.0, f.ElapsedSeconds)
			assert.NotEqual(t, oldRun, f.RunID)
		})
	}
}

func TestReset_MatchesResetInput(t *testing.T) {
	e := newTestEngine(t, createTestTrack())
	skipCountdown(t, e)
	e.Tick(physics.Input{Throttle: true})

	before := e.TickCount()
	f := e.Reset()

	assert.Equal(t, before+1, f.Tick)
	assert.True(t, f.Reset)
	assert.Equal(t, PhaseCountdown, e.Phase())
	assert.Equal(t, 10, e.Remaining())
	assert.Same(t, f, e.Frame())
}

func TestTick_VelocityAlwaysClamped(t *testing.T) {
	e := NewEngineWithDefaults()
	skipCountdown(t, e)
	rng := rand.New(rand.NewSource(7))
	tuning := e.Track().EffectiveTuning()

	for i := 0; i < 5000; i++ {
		in := physics.Input{
			SteerLeft:  rng.Intn(3) == 0,
			SteerRight: rng.Intn(3) == 0,
			Throttle:   rng.Intn(2) == 0,
			Brake:      rng.Intn(3) == 0,
		}
		f := e.Tick(in)
		require.GreaterOrEqual(t, f.Velocity, tuning.MaxReverseSpeed)
		require.LessOrEqual(t, f.Velocity, tuning.MaxSpeed)
		require.GreaterOrEqual(t, f.Pose.Heading, 0.0)
		require.Less(t, f.Pose.Heading, 360.0)
		for _, d := range f.Sensors {
			require.GreaterOrEqual(t, d, 0)
			require.LessOrEqual(t, d, e.Sensors().MaxDistance)
		}
		require.False(t, e.Detector().Blocked(f.Pose), "committed pose must be clear at tick %d", f.Tick)
	}
}

func TestTick_SensorsMatchCommittedPose(t *testing.T) {
	e := NewEngineWithDefaults()
	f := e.Tick(physics.Input{})

	again := e.Sensors().Cast(e.Bitmap(), f.Pose)
	assert.Equal(t, again, f.Sensors)
	// The classic start faces down a corridor between two walls.
	assert.Less(t, f.Sensors[2], e.Sensors().MaxDistance)
}

func TestEngineInterface(t *testing.T) {
	var _ Engine = (*SimEngine)(nil)
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t, createTestTrack())
	skipCountdown(t, e)
	for i := 0; i < 15; i++ {
		e.Tick(physics.Input{Throttle: true, SteerRight: i%2 == 0})
	}
	snap := e.Snapshot()

	restored := newTestEngine(t, createTestTrack())
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, e.State(), restored.State())
	assert.Equal(t, e.RunID(), restored.RunID())
	assert.Equal(t, e.Frame().ElapsedSeconds, restored.Frame().ElapsedSeconds)
	assert.Equal(t, e.Frame().Sensors, restored.Frame().Sensors)

	// Both engines continue identically.
	in := physics.Input{Throttle: true, SteerLeft: true}
	assert.Equal(t, e.Tick(in).Pose, restored.Tick(in).Pose)
}

func TestRestore_RejectsBadSnapshots(t *testing.T) {
	e := newTestEngine(t, createTestTrack())
	good := e.Snapshot()

	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"unknown phase", func(s *Snapshot) { s.Phase = "paused" }},
		{"countdown too long", func(s *Snapshot) { s.Remaining = 1000 }},
		{"countdown empty", func(s *Snapshot) { s.Remaining = 0 }},
		{"start after tick", func(s *Snapshot) { s.Phase = PhaseRunning; s.StartTick = 5; s.Tick = 1 }},
		{"too fast", func(s *Snapshot) { s.State.Velocity = 100 }},
		{"inside wall", func(s *Snapshot) { s.State.X = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := good
			tt.mutate(&snap)
			assert.Error(t, e.Restore(snap))
			assert.Equal(t, good, e.Snapshot())
		})
	}
}

func TestVerboseLogsSensors(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	quiet, err := NewEngine(createTestTrack(), WithLogger(logger))
	require.NoError(t, err)
	quiet.Tick(physics.Input{})
	assert.NotContains(t, buf.String(), `"message":"sensors"`)

	loud, err := NewEngine(createTestTrack(), WithLogger(logger), WithVerbose(true))
	require.NoError(t, err)
	loud.Tick(physics.Input{})
	assert.Contains(t, buf.String(), `"message":"sensors"`)
	assert.Contains(t, buf.String(), `"sensors":[`)
}
