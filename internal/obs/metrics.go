package obs

import (
	"sync/atomic"
	"time"

	"execcore/pkg/exception"
)

// sessionStates covers session.State values Created..Terminated.
const sessionStates = 5

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	rejections  [exception.KindCount]uint64
	transitions [sessionStates]uint64
	orders      uint64
	clamps      uint64
	reconnects  uint64
	eventDrops  uint64
	venueErrors uint64

	tickLatency     LatencyStats
	dispatchLatency LatencyStats
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
	Rejections      map[exception.Kind]uint64
	Transitions     map[uint8]uint64
	Orders          uint64
	Clamps          uint64
	Reconnects      uint64
	EventDrops      uint64
	VenueErrors     uint64
	TickLatency     LatencySnapshot
	DispatchLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncRejection counts a rejected proposal by kind.
func (m *Metrics) IncRejection(kind exception.Kind) {
	if m == nil {
		return
	}
	if idx := int(kind); idx >= 0 && idx < len(m.rejections) {
		atomic.AddUint64(&m.rejections[idx], 1)
	}
}

// IncTransition counts a session entering state.
func (m *Metrics) IncTransition(state uint8) {
	if m == nil {
		return
	}
	if idx := int(state); idx < len(m.transitions) {
		atomic.AddUint64(&m.transitions[idx], 1)
	}
}

// IncOrder records a dispatched order; clamped marks a reduced quantity.
func (m *Metrics) IncOrder(clamped bool) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.orders, 1)
	if clamped {
		atomic.AddUint64(&m.clamps, 1)
	}
}

// IncReconnect records a new session attempt after a failure.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// SetEventDrops records the event queue drop total.
func (m *Metrics) SetEventDrops(n uint64) {
	if m == nil {
		return
	}
	atomic.StoreUint64(&m.eventDrops, n)
}

// IncVenueError records a failed venue adapter submission.
func (m *Metrics) IncVenueError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.venueErrors, 1)
}

// ObserveTick measures one orchestrator tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(d)
}

// ObserveDispatch measures signal-to-send latency.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	rejections := make(map[exception.Kind]uint64)
	for i := range m.rejections {
		if v := atomic.LoadUint64(&m.rejections[i]); v > 0 {
			rejections[exception.Kind(i)] = v
		}
	}
	transitions := make(map[uint8]uint64)
	for i := range m.transitions {
		if v := atomic.LoadUint64(&m.transitions[i]); v > 0 {
			transitions[uint8(i)] = v
		}
	}
	return Snapshot{
		Rejections:      rejections,
		Transitions:     transitions,
		Orders:          atomic.LoadUint64(&m.orders),
		Clamps:          atomic.LoadUint64(&m.clamps),
		Reconnects:      atomic.LoadUint64(&m.reconnects),
		EventDrops:      atomic.LoadUint64(&m.eventDrops),
		VenueErrors:     atomic.LoadUint64(&m.venueErrors),
		TickLatency:     m.tickLatency.Snapshot(),
		DispatchLatency: m.dispatchLatency.Snapshot(),
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
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
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
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
