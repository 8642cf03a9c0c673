/*
Obs collects lightweight engine counters and latency stats.

# Module
  - Metrics: atomic counters and logon latency aggregation

# Source
  - bus events observed by the engine's metrics consumer

# Produce
  - point-in-time snapshots for the admin surface and logs

# Sharded
  - one metrics container per engine
*/
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	messagesIn    uint64
	messagesOut   uint64
	logons        uint64
	disconnects   uint64
	sessionErrors uint64
	orderUpdates  uint64
	busDrops      uint64

	logonLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	MessagesIn    uint64 `json:"messages_in"`
	MessagesOut   uint64 `json:"messages_out"`
	Logons        uint64 `json:"logons"`
	Disconnects   uint64 `json:"disconnects"`
	SessionErrors uint64 `json:"session_errors"`
	OrderUpdates  uint64 `json:"order_updates"`
	BusDrops      uint64 `json:"bus_drops"`

	LogonLatency LatencySnapshot `json:"-"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncInbound counts one message received from a counterparty.
func (m *Metrics) IncInbound() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesIn, 1)
}

// IncOutbound counts one message sent to a counterparty.
func (m *Metrics) IncOutbound() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesOut, 1)
}

// IncLogon counts a completed logon.
func (m *Metrics) IncLogon() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.logons, 1)
}

// IncDisconnect counts a session reaching Disconnected.
func (m *Metrics) IncDisconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.disconnects, 1)
}

// IncSessionError counts a disconnect caused by a failure.
func (m *Metrics) IncSessionError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sessionErrors, 1)
}

// IncOrderUpdate counts one order state change.
func (m *Metrics) IncOrderUpdate() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.orderUpdates, 1)
}

// AddBusDrops folds in the dispatcher's loss counters.
func (m *Metrics) AddBusDrops(n uint64) {
	if m == nil || n == 0 {
		return
	}
	atomic.AddUint64(&m.busDrops, n)
}

// ObserveLogon measures connect-to-logged-on latency.
func (m *Metrics) ObserveLogon(d time.Duration) {
	if m == nil {
		return
	}
	m.logonLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		MessagesIn:    atomic.LoadUint64(&m.messagesIn),
		MessagesOut:   atomic.LoadUint64(&m.messagesOut),
		Logons:        atomic.LoadUint64(&m.logons),
		Disconnects:   atomic.LoadUint64(&m.disconnects),
		SessionErrors: atomic.LoadUint64(&m.sessionErrors),
		OrderUpdates:  atomic.LoadUint64(&m.orderUpdates),
		BusDrops:      atomic.LoadUint64(&m.busDrops),
		LogonLatency:  m.logonLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
