package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	deltasApplied atomic.Uint64
	fillsObserved atomic.Uint64
	ordersCreated atomic.Uint64
	ordersAmended atomic.Uint64
	ordersDropped atomic.Uint64
	restRetries   atomic.Uint64
	errorsTotal   atomic.Uint64

	// Gauges
	wsConnected atomic.Int32 // 1 = live, 0 = down
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordDelta records one applied streaming delta.
func (m *Metrics) RecordDelta() { m.deltasApplied.Add(1) }

// RecordFill records an observed execution against one of our orders.
func (m *Metrics) RecordFill() { m.fillsObserved.Add(1) }

// RecordOrders records the outcome of one convergence tick.
func (m *Metrics) RecordOrders(created, amended, canceled int) {
	m.ordersCreated.Add(uint64(created))
	m.ordersAmended.Add(uint64(amended))
	m.ordersDropped.Add(uint64(canceled))
}

// RecordRestRetry records a retried REST request (rate limit or downtime).
func (m *Metrics) RecordRestRetry() { m.restRetries.Add(1) }

// RecordError records an error occurrence.
func (m *Metrics) RecordError() { m.errorsTotal.Add(1) }

// SetWSConnected sets the streaming-connection gauge.
func (m *Metrics) SetWSConnected(up bool) {
	if up {
		m.wsConnected.Store(1)
	} else {
		m.wsConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	DeltasApplied  uint64
	FillsObserved  uint64
	OrdersCreated  uint64
	OrdersAmended  uint64
	OrdersCanceled uint64
	RestRetries    uint64
	ErrorsTotal    uint64
	WSConnected    bool
	Timestamp      time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DeltasApplied:  m.deltasApplied.Load(),
		FillsObserved:  m.fillsObserved.Load(),
		OrdersCreated:  m.ordersCreated.Load(),
		OrdersAmended:  m.ordersAmended.Load(),
		OrdersCanceled: m.ordersDropped.Load(),
		RestRetries:    m.restRetries.Load(),
		ErrorsTotal:    m.errorsTotal.Load(),
		WSConnected:    m.wsConnected.Load() == 1,
		Timestamp:      time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.deltasApplied.Store(0)
	m.fillsObserved.Store(0)
	m.ordersCreated.Store(0)
	m.ordersAmended.Store(0)
	m.ordersDropped.Store(0)
	m.restRetries.Store(0)
	m.errorsTotal.Store(0)
	m.wsConnected.Store(0)
}
