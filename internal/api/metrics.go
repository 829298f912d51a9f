package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime         time.Time
	requests          atomic.Int64
	serverErrors      atomic.Int64
	clientErrors      atomic.Int64
	eventsRecorded    atomic.Int64
	syncSessions      atomic.Int64
	conflictsResolved atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Requests          int64   `json:"requests"`
	ServerErrors      int64   `json:"server_errors"`
	ClientErrors      int64   `json:"client_errors"`
	EventsRecorded    int64   `json:"events_recorded"`
	SyncSessions      int64   `json:"sync_sessions"`
	ConflictsResolved int64   `json:"conflicts_resolved"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordEvents adds n to the recorded events counter.
func (m *Metrics) RecordEvents(n int64) {
	m.eventsRecorded.Add(n)
}

// RecordSyncSession increments the initiated sync session counter.
func (m *Metrics) RecordSyncSession() {
	m.syncSessions.Add(1)
}

// RecordConflictResolved increments the resolved conflict counter.
func (m *Metrics) RecordConflictResolved() {
	m.conflictsResolved.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
		Requests:          m.requests.Load(),
		ServerErrors:      m.serverErrors.Load(),
		ClientErrors:      m.clientErrors.Load(),
		EventsRecorded:    m.eventsRecorded.Load(),
		SyncSessions:      m.syncSessions.Load(),
		ConflictsResolved: m.conflictsResolved.Load(),
	}
}
