package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime real-time connections accepted
	ActiveConnections atomic.Int64 // current active real-time connections
	FailedAuths       atomic.Int64 // rejected handshakes
	SuccessfulAuths   atomic.Int64 // accepted handshakes
	TotalDisconnects  atomic.Int64 // disconnects of authenticated connections

	// Delivery counters
	EventsDelivered atomic.Int64 // frames written to endpoints
	EventsDropped   atomic.Int64 // frames that failed to reach an endpoint

	// Ledger counters
	LedgerMutations atomic.Int64 // committed point deltas
	LedgerFailures  atomic.Int64 // refused or failed point deltas

	// Daily counter resets
	CounterResets       atomic.Int64
	CounterResetFailure atomic.Int64

	// Chat counters
	ChatMessagesSent atomic.Int64 // total chat messages relayed

	// HTTP API counters
	Registrations atomic.Int64
	Logins        atomic.Int64
	FailedLogins  atomic.Int64
	HTTPRequests  atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// CounterReset records an applied daily counter reset.
func (m *Metrics) CounterReset() { m.CounterResets.Add(1) }

// CounterResetFailed records a failed daily counter reset.
func (m *Metrics) CounterResetFailed() { m.CounterResetFailure.Add(1) }

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	EventsDelivered int64 `json:"events_delivered"`
	EventsDropped   int64 `json:"events_dropped"`

	LedgerMutations int64 `json:"ledger_mutations"`
	LedgerFailures  int64 `json:"ledger_failures"`

	CounterResets        int64 `json:"counter_resets"`
	CounterResetFailures int64 `json:"counter_reset_failures"`

	ChatMessagesSent int64 `json:"chat_messages_sent"`

	Registrations int64 `json:"registrations"`
	Logins        int64 `json:"logins"`
	FailedLogins  int64 `json:"failed_logins"`
	HTTPRequests  int64 `json:"http_requests"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:               uptime.Truncate(time.Second).String(),
		UptimeSeconds:        int64(uptime.Seconds()),
		ActiveConnections:    m.ActiveConnections.Load(),
		TotalConnections:     m.TotalConnections.Load(),
		SuccessfulAuths:      m.SuccessfulAuths.Load(),
		FailedAuths:          m.FailedAuths.Load(),
		TotalDisconnects:     m.TotalDisconnects.Load(),
		EventsDelivered:      m.EventsDelivered.Load(),
		EventsDropped:        m.EventsDropped.Load(),
		LedgerMutations:      m.LedgerMutations.Load(),
		LedgerFailures:       m.LedgerFailures.Load(),
		CounterResets:        m.CounterResets.Load(),
		CounterResetFailures: m.CounterResetFailure.Load(),
		ChatMessagesSent:     m.ChatMessagesSent.Load(),
		Registrations:        m.Registrations.Load(),
		Logins:               m.Logins.Load(),
		FailedLogins:         m.FailedLogins.Load(),
		HTTPRequests:         m.HTTPRequests.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"ledger_mutations", s.LedgerMutations,
		"ledger_failures", s.LedgerFailures,
		"events_dropped", s.EventsDropped,
		"chat_msgs", s.ChatMessagesSent,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
