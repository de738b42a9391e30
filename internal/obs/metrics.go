package obs

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the signal
// path.
type Metrics struct {
	mu             sync.Mutex
	accepted       uint64
	rejected       map[string]uint64
	records        uint64
	queueDrops     uint64
	poisoned       uint64
	venueLatency   LatencyStats
	submitLatency  LatencyStats
	riskEvalCounts map[string]uint64
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
	Accepted      uint64
	Rejected      map[string]uint64
	Records       uint64
	QueueDrops    uint64
	Poisoned      uint64
	RiskEvals     map[string]uint64
	VenueLatency  LatencySnapshot
	SubmitLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{
		rejected:       make(map[string]uint64),
		riskEvalCounts: make(map[string]uint64),
	}
}

// IncAccepted records a committed signal and its record count.
func (m *Metrics) IncAccepted(records int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.accepted, 1)
	atomic.AddUint64(&m.records, uint64(records))
}

// IncRejected records a rejection by reason.
func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rejected[reason]++
	m.mu.Unlock()
}

// IncRiskEval records a risk gate outcome by action name.
func (m *Metrics) IncRiskEval(action string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.riskEvalCounts[action]++
	m.mu.Unlock()
}

// IncQueueDrop records a rejected intake publish.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncPoisoned records an instrument refused after a consistency failure.
func (m *Metrics) IncPoisoned() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.poisoned, 1)
}

// ObserveVenue measures one venue round trip.
func (m *Metrics) ObserveVenue(d time.Duration) {
	if m == nil {
		return
	}
	m.venueLatency.Observe(d)
}

// ObserveSubmit measures one full submit, lock to commit.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	rejected := make(map[string]uint64, len(m.rejected))
	for reason, count := range m.rejected {
		rejected[reason] = count
	}
	riskEvals := make(map[string]uint64, len(m.riskEvalCounts))
	for action, count := range m.riskEvalCounts {
		riskEvals[action] = count
	}
	m.mu.Unlock()

	return Snapshot{
		Accepted:      atomic.LoadUint64(&m.accepted),
		Rejected:      rejected,
		Records:       atomic.LoadUint64(&m.records),
		QueueDrops:    atomic.LoadUint64(&m.queueDrops),
		Poisoned:      atomic.LoadUint64(&m.poisoned),
		RiskEvals:     riskEvals,
		VenueLatency:  m.venueLatency.Snapshot(),
		SubmitLatency: m.submitLatency.Snapshot(),
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
