package carray

import (
	"sync/atomic"
	"time"
)

// carrayMetrics is a minimal counters holder kept dependency-free at
// this layer; the caller wiring a CArray into a metric.Meter (as
// bufferpool.Config does for the buffer pool) can read these via
// Snapshot and republish them however it likes.
type carrayMetrics struct {
	joins          atomic.Int64
	totalReserveNs atomic.Int64
	reserveCalls   atomic.Int64
}

func newCArrayMetrics() *carrayMetrics { return &carrayMetrics{} }

func (m *carrayMetrics) joined() { m.joins.Add(1) }

func (m *carrayMetrics) reserveLatency(d time.Duration) {
	m.reserveCalls.Add(1)
	m.totalReserveNs.Add(int64(d))
}

// Snapshot reports cumulative join count, reservation count, and mean
// reservation latency.
func (m *carrayMetrics) Snapshot() (joins, reserves int64, meanReserve time.Duration) {
	joins = m.joins.Load()
	reserves = m.reserveCalls.Load()
	if reserves == 0 {
		return joins, reserves, 0
	}
	return joins, reserves, time.Duration(m.totalReserveNs.Load() / reserves)
}
