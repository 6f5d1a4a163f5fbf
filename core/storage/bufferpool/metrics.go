package bufferpool

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// poolMetrics wraps the OpenTelemetry instruments this package
// publishes through pkg/telemetry's Meter. Every field is optional:
// when meter is nil (telemetry disabled, or a test harness that builds
// a pool without a Meter) the no-op instruments it falls back to are
// safe no-ops, same as pkg/telemetry's own noop.NewMeterProvider path.
type poolMetrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	rounds    metric.Int64Counter
	swizzles  metric.Int64Counter
}

func newPoolMetrics(meter metric.Meter) *poolMetrics {
	if meter == nil {
		return &poolMetrics{}
	}
	pm := &poolMetrics{}
	pm.hits, _ = meter.Int64Counter("bufferpool.fix.hits")
	pm.misses, _ = meter.Int64Counter("bufferpool.fix.misses")
	pm.evictions, _ = meter.Int64Counter("bufferpool.eviction.frames_evicted")
	pm.rounds, _ = meter.Int64Counter("bufferpool.eviction.rounds")
	pm.swizzles, _ = meter.Int64Counter("bufferpool.swizzle.installed")
	return pm
}

func (pm *poolMetrics) hit() {
	if pm == nil || pm.hits == nil {
		return
	}
	pm.hits.Add(context.Background(), 1)
}

func (pm *poolMetrics) miss() {
	if pm == nil || pm.misses == nil {
		return
	}
	pm.misses.Add(context.Background(), 1)
}

func (pm *poolMetrics) evicted(n int64) {
	if pm == nil || pm.evictions == nil || n == 0 {
		return
	}
	pm.evictions.Add(context.Background(), n)
}

func (pm *poolMetrics) round() {
	if pm == nil || pm.rounds == nil {
		return
	}
	pm.rounds.Add(context.Background(), 1)
}

func (pm *poolMetrics) swizzled() {
	if pm == nil || pm.swizzles == nil {
		return
	}
	pm.swizzles.Add(context.Background(), 1)
}
