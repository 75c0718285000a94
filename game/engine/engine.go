package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/wricardo/mcp-training/lidardrive/game/collision"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/sensor"
)

// Engine provides the main interface for simulation operations
type Engine interface {
	// Tick advances the simulation by one fixed step
	Tick(in physics.Input) *Frame
	// Reset starts a new run from the start pose
	Reset() *Frame
	// Frame returns the most recent frame
	Frame() *Frame

	// State accessors
	State() physics.State
	Phase() Phase
	TickCount() int64
	RunID() string

	// Track data
	Track() *TrackConfig
	Bitmap() *geometry.Bitmap
	Detector() *collision.Detector
	Sensors() sensor.Array
	TickRate() int
}

// Option configures a SimEngine.
type Option func(*SimEngine)

// WithLogger sets the logger used for run transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(e *SimEngine) {
		e.logger = l
	}
}

// WithMeterProvider records engine counters on mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *SimEngine) {
		e.meterProvider = mp
	}
}

// WithVerbose logs every sensor reading at debug level.
func WithVerbose(v bool) Option {
	return func(e *SimEngine) {
		e.verbose = v
	}
}

// SimEngine implements the Engine interface. It is not safe for concurrent
// use; callers serialize access.
type SimEngine struct {
	track    *TrackConfig
	bitmap   *geometry.Bitmap
	detector *collision.Detector
	sensors  sensor.Array
	tuning   physics.Tuning
	tickRate int

	countdownTicks int

	state        physics.State
	phase        Phase
	remaining    int
	startTick    int64
	elapsedTicks int64
	tick         int64
	runID        string
	last         *Frame

	logger        zerolog.Logger
	verbose       bool
	meterProvider metric.MeterProvider
	metrics       *engineMetrics
}

// NewEngine creates a new simulation for the provided track
func NewEngine(track *TrackConfig, opts ...Option) (*SimEngine, error) {
	if err := ValidateTrackConfig(track); err != nil {
		return nil, err
	}

	bm, err := geometry.Build(track.Field(), track.Obstacles)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrack, err)
	}

	e := &SimEngine{
		track:    track,
		bitmap:   bm,
		detector: collision.NewDetector(track.Field(), track.Shape(), track.Obstacles, track.FinishZones),
		sensors:  track.EffectiveSensors(),
		tuning:   track.EffectiveTuning(),
		tickRate: track.EffectiveTickRate(),
		logger:   zerolog.Nop(),
	}
	e.countdownTicks = track.EffectiveCountdown() * e.tickRate

	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "engine").Str("track", track.Name).Logger()

	if e.meterProvider == nil {
		e.meterProvider = otel.GetMeterProvider()
	}
	if e.metrics, err = newEngineMetrics(e.meterProvider, track.Name); err != nil {
		return nil, err
	}

	e.restart()
	e.last = e.buildFrame(false, false, false, true)
	return e, nil
}

// NewEngineWithDefaults creates a simulation on the built-in classic track
func NewEngineWithDefaults(opts ...Option) *SimEngine {
	e, err := NewEngine(DefaultTrackConfig(), opts...)
	if err != nil {
		// The built-in track is validated by tests.
		panic(err)
	}
	return e
}

// restart puts vehicle and timer back to their initial values under a new run ID.
func (e *SimEngine) restart() {
	e.state = physics.State{Pose: e.track.InitialPose()}
	e.phase = PhaseCountdown
	e.remaining = e.countdownTicks
	e.startTick = 0
	e.elapsedTicks = 0
	e.runID = "run_" + uuid.NewString()
}

// Tick advances the simulation by one step.
func (e *SimEngine) Tick(in physics.Input) *Frame {
	e.tick++

	if in.Reset {
		return e.emit(e.resetFrame())
	}

	prev := e.state
	if e.phase != PhaseCountdown {
		e.state = e.tuning.Step(e.state, in, 1)
	}

	collided := e.detector.Blocked(e.state.Pose)
	if collided {
		e.state = physics.State{Pose: prev.Pose}
	}

	started := false
	if e.phase == PhaseCountdown {
		e.remaining--
		if e.remaining <= 0 {
			e.remaining = 0
			e.phase = PhaseRunning
			e.startTick = e.tick
			started = true
			e.logger.Info().Str("run", e.runID).Int64("tick", e.tick).Msg("run started")
		}
	}

	finished := false
	if e.phase == PhaseRunning && e.detector.InFinish(e.state.Pose) {
		e.phase = PhaseFinished
		e.elapsedTicks = e.tick - e.startTick
		finished = true
		e.logger.Info().
			Str("run", e.runID).
			Float64("elapsed", e.elapsedSeconds()).
			Msg("run finished")
	}

	return e.emit(e.buildFrame(collided, started, finished, false))
}

// Reset starts a new run and returns its first frame. It consumes a tick.
func (e *SimEngine) Reset() *Frame {
	e.tick++
	return e.emit(e.resetFrame())
}

func (e *SimEngine) resetFrame() *Frame {
	prevRun := e.runID
	e.restart()
	e.logger.Info().Str("previous_run", prevRun).Str("run", e.runID).Msg("run reset")
	return e.buildFrame(false, false, false, true)
}

func (e *SimEngine) emit(f *Frame) *Frame {
	e.last = f
	e.metrics.record(f)
	if e.verbose {
		e.logger.Debug().
			Int64("tick", f.Tick).
			Ints("sensors", f.Sensors).
			Float64("x", f.Pose.X).
			Float64("y", f.Pose.Y).
			Float64("heading", f.Pose.Heading).
			Msg("sensors")
	}
	return f
}

func (e *SimEngine) buildFrame(collided, started, finished, reset bool) *Frame {
	pose := e.state.Pose
	distances := e.sensors.Cast(e.bitmap, pose)
	elapsed := e.elapsedSeconds()

	return &Frame{
		Tick:           e.tick,
		RunID:          e.runID,
		Pose:           pose,
		Velocity:       e.state.Velocity,
		Speed:          math.Abs(e.state.Velocity),
		Phase:          e.phase,
		Countdown:      e.countdownDisplay(),
		ElapsedSeconds: elapsed,
		TimerText:      fmt.Sprintf("Time: %.2fs", elapsed),
		Sensors:        distances,
		RayEnds:        e.sensors.Endpoints(pose, distances),
		Collided:       collided,
		Started:        started,
		Finished:       finished,
		Reset:          reset,
	}
}

// countdownDisplay is the whole seconds left, rounded up, or 0 once running.
func (e *SimEngine) countdownDisplay() int {
	if e.phase != PhaseCountdown {
		return 0
	}
	return (e.remaining + e.tickRate - 1) / e.tickRate
}

func (e *SimEngine) elapsedSeconds() float64 {
	switch e.phase {
	case PhaseRunning:
		return float64(e.tick-e.startTick) / float64(e.tickRate)
	case PhaseFinished:
		return float64(e.elapsedTicks) / float64(e.tickRate)
	default:
		return 0
	}
}

// Frame returns the most recent frame
func (e *SimEngine) Frame() *Frame {
	return e.last
}

// State returns the vehicle state
func (e *SimEngine) State() physics.State {
	return e.state
}

// Phase returns the run phase
func (e *SimEngine) Phase() Phase {
	return e.phase
}

// TickCount returns the number of ticks processed since creation
func (e *SimEngine) TickCount() int64 {
	return e.tick
}

// RunID returns the identifier of the current run
func (e *SimEngine) RunID() string {
	return e.runID
}

// Remaining returns the countdown ticks left
func (e *SimEngine) Remaining() int {
	return e.remaining
}

// Track returns the track configuration
func (e *SimEngine) Track() *TrackConfig {
	return e.track
}

// Bitmap returns the occupancy bitmap
func (e *SimEngine) Bitmap() *geometry.Bitmap {
	return e.bitmap
}

// Detector returns the collision detector
func (e *SimEngine) Detector() *collision.Detector {
	return e.detector
}

// Sensors returns the sensor array
func (e *SimEngine) Sensors() sensor.Array {
	return e.sensors
}

// TickRate returns the simulation rate in Hz
func (e *SimEngine) TickRate() int {
	return e.tickRate
}

// Snapshot is the restorable part of an engine: everything except the track.
type Snapshot struct {
	RunID        string        `json:"run_id"`
	State        physics.State `json:"state"`
	Phase        Phase         `json:"phase"`
	Remaining    int           `json:"remaining"`
	StartTick    int64         `json:"start_tick"`
	ElapsedTicks int64         `json:"elapsed_ticks"`
	Tick         int64         `json:"tick"`
}

// Snapshot captures the current run.
func (e *SimEngine) Snapshot() Snapshot {
	return Snapshot{
		RunID:        e.runID,
		State:        e.state,
		Phase:        e.phase,
		Remaining:    e.remaining,
		StartTick:    e.startTick,
		ElapsedTicks: e.elapsedTicks,
		Tick:         e.tick,
	}
}

// Restore replaces the current run with a snapshot taken on the same track.
func (e *SimEngine) Restore(s Snapshot) error {
	switch s.Phase {
	case PhaseCountdown:
		if s.Remaining <= 0 || s.Remaining > e.countdownTicks {
			return fmt.Errorf("snapshot countdown %d out of range 1-%d", s.Remaining, e.countdownTicks)
		}
	case PhaseRunning, PhaseFinished:
		if s.StartTick > s.Tick {
			return fmt.Errorf("snapshot start tick %d is after tick %d", s.StartTick, s.Tick)
		}
	default:
		return fmt.Errorf("snapshot has unknown phase %q", s.Phase)
	}
	if s.State.Velocity != e.tuning.Clamp(s.State.Velocity) {
		return fmt.Errorf("snapshot velocity %v out of range", s.State.Velocity)
	}
	if e.detector.Blocked(s.State.Pose) {
		return fmt.Errorf("snapshot pose (%.1f, %.1f) is blocked", s.State.X, s.State.Y)
	}

	e.runID = s.RunID
	e.state = s.State
	e.state.Heading = geometry.NormalizeHeading(e.state.Heading)
	e.phase = s.Phase
	e.remaining = s.Remaining
	e.startTick = s.StartTick
	e.elapsedTicks = s.ElapsedTicks
	e.tick = s.Tick
	if e.phase != PhaseCountdown {
		e.remaining = 0
	}
	e.last = e.buildFrame(false, false, false, false)
	return nil
}
