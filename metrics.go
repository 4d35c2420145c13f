package authcore

import "sync/atomic"

// MetricID identifies one in-process counter.
type MetricID uint8

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricBackupCodeUsed
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricSessionCreated
	MetricSessionRevoked
	MetricPasswordChanged
	MetricPasswordReuseRejected
	MetricPasswordResetRequested
	MetricPasswordResetCompleted
	MetricAPIKeyVerified
	MetricAPIKeyRejected

	metricCount
)

// Metrics is a fixed set of lock-free counters. Snapshot is the only read
// path; there is no exporter surface.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func newMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments one counter. Nil-safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}

func (s *Service) metricInc(id MetricID) {
	if s == nil {
		return
	}
	s.metrics.Inc(id)
}

// MetricsSnapshot returns the Service's counter values.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return s.metrics.Snapshot()
}
