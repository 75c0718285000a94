package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/wricardo/mcp-training/lidardrive/game/engine"

// engineMetrics counts ticks and run events per track. Until a provider is
// installed (see the telemetry package) the global one is a no-op.
type engineMetrics struct {
	ticks      metric.Int64Counter
	collisions metric.Int64Counter
	finishes   metric.Int64Counter
	resets     metric.Int64Counter
	track      attribute.KeyValue
}

func newEngineMetrics(mp metric.MeterProvider, track string) (*engineMetrics, error) {
	m := mp.Meter(instrumentationName)
	em := &engineMetrics{track: attribute.String("track", track)}

	var err error
	em.ticks, err = m.Int64Counter(
		"engine.ticks",
		metric.WithDescription("Total simulation ticks processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}

	em.collisions, err = m.Int64Counter(
		"engine.collisions",
		metric.WithDescription("Ticks whose move was reverted by a wall or the field edge"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating collisions counter: %w", err)
	}

	em.finishes, err = m.Int64Counter(
		"engine.finishes",
		metric.WithDescription("Runs that reached a finish zone"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating finishes counter: %w", err)
	}

	em.resets, err = m.Int64Counter(
		"engine.resets",
		metric.WithDescription("Runs restarted by a reset"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resets counter: %w", err)
	}

	return em, nil
}

func (m *engineMetrics) record(f *Frame) {
	ctx := context.Background()
	attrs := metric.WithAttributes(m.track)
	m.ticks.Add(ctx, 1, attrs)
	if f.Collided {
		m.collisions.Add(ctx, 1, attrs)
	}
	if f.Finished {
		m.finishes.Add(ctx, 1, attrs)
	}
	if f.Reset {
		m.resets.Add(ctx, 1, attrs)
	}
}
