package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

// sprintTrack parks the car 5px in front of a low wall with a finish zone
// straight ahead.
func sprintTrack() *TrackConfig {
	return &TrackConfig{
		Name:   "sprint",
		Width:  200,
		Height: 300,
		Start:  StartPose{X: 100, Y: 150, Heading: 0},
		Car:    CarSpec{Width: 20, Height: 40},
		Obstacles: []geometry.Rect{
			{X: 60, Y: 175, Width: 80, Height: 10},
		},
		FinishZones: []geometry.Rect{
			{X: 60, Y: 0, Width: 80, Height: 40},
		},
		TickRate:         10,
		CountdownSeconds: 1,
	}
}

// counterTotals sums every int64 counter collected by reader, by name.
func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestEngineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	e, err := NewEngine(sprintTrack(), WithMeterProvider(provider))
	require.NoError(t, err)

	calls := 0
	tick := func(in physics.Input) *Frame {
		calls++
		return e.Tick(in)
	}

	for e.Phase() == PhaseCountdown {
		tick(physics.Input{})
	}
	assert.Empty(t, counterTotals(t, reader)["engine.collisions"])

	// Back into the wall once
	var f *Frame
	for i := 0; i < 50; i++ {
		if f = tick(physics.Input{Brake: true}); f.Collided {
			break
		}
	}
	require.True(t, f.Collided, "car never reached the wall")
	assert.Equal(t, int64(1), counterTotals(t, reader)["engine.collisions"])

	for i := 0; i < 200 && e.Phase() != PhaseFinished; i++ {
		tick(physics.Input{Throttle: true})
	}
	require.Equal(t, PhaseFinished, e.Phase())

	e.Reset()
	calls++

	totals := counterTotals(t, reader)
	assert.Equal(t, int64(1), totals["engine.collisions"])
	assert.Equal(t, int64(1), totals["engine.finishes"])
	assert.Equal(t, int64(1), totals["engine.resets"])
	assert.Equal(t, int64(calls), totals["engine.ticks"])
}

func TestEngineMetrics_ResetInputCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	e, err := NewEngine(sprintTrack(), WithMeterProvider(provider))
	require.NoError(t, err)

	e.Tick(physics.Input{})
	e.Tick(physics.Input{Reset: true})

	totals := counterTotals(t, reader)
	assert.Equal(t, int64(2), totals["engine.ticks"])
	assert.Equal(t, int64(1), totals["engine.resets"])
	assert.Zero(t, totals["engine.finishes"])
}
