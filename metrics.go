package tabauth

import "sync/atomic"

// MetricID identifies one coordinator counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts registry logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginRejected counts logins rejected for missing identity fields.
	MetricLoginRejected
	// MetricLogoutSuccess counts local logouts with a live session.
	MetricLogoutSuccess
	// MetricLogoutNoSession counts logout calls that found nothing to log out.
	MetricLogoutNoSession
	// MetricLogoutAll counts registry-wide logouts.
	MetricLogoutAll
	// MetricLogoutSyncApplied counts local logouts forced by a broadcast.
	MetricLogoutSyncApplied
	// MetricSessionsEvicted counts registry entries removed by cleanup sweeps.
	MetricSessionsEvicted
	// MetricAccessDenied counts guard denials.
	MetricAccessDenied
	// MetricActivityUpdates counts persisted last-active stamps.
	MetricActivityUpdates
	// MetricLegacyMigrations counts legacy-record migrations performed.
	MetricLegacyMigrations
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed table of lock-free counters. A nil *Metrics is a
// valid no-op receiver.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every non-zero counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates an empty counter table.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add adds n to the counter.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every non-zero counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: map[MetricID]uint64{}}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if v := atomic.LoadUint64(&m.counters[id].value); v > 0 {
			snap.Counters[id] = v
		}
	}
	return snap
}

// MetricName returns the Prometheus-style name for id, or "" for an
// unknown ID.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "tabauth_login_total"
	case MetricLoginRejected:
		return "tabauth_login_rejected_total"
	case MetricLogoutSuccess:
		return "tabauth_logout_total"
	case MetricLogoutNoSession:
		return "tabauth_logout_no_session_total"
	case MetricLogoutAll:
		return "tabauth_logout_all_total"
	case MetricLogoutSyncApplied:
		return "tabauth_logout_sync_applied_total"
	case MetricSessionsEvicted:
		return "tabauth_sessions_evicted_total"
	case MetricAccessDenied:
		return "tabauth_access_denied_total"
	case MetricActivityUpdates:
		return "tabauth_activity_updates_total"
	case MetricLegacyMigrations:
		return "tabauth_legacy_migrations_total"
	}
	return ""
}
