package server

import (
	"fmt"
	"net/http"
	"time"
)

// handleMetrics writes all metrics in Prometheus text exposition format,
// or as a JSON snapshot when ?format=json is given.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintln(w, m.JSON())
		return
	}
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("forgeph_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("forgeph_connections_active", "Current active real-time connections.", "gauge",
		m.ActiveConnections.Load())
	write("forgeph_connections_total", "Lifetime real-time connections accepted.", "counter",
		m.TotalConnections.Load())
	write("forgeph_disconnects_total", "Disconnects of authenticated connections.", "counter",
		m.TotalDisconnects.Load())
	write("forgeph_registry_endpoints", "Endpoints currently joined to the registry.", "gauge",
		int64(s.registry.Count()))

	write("forgeph_auth_success_total", "Accepted handshakes.", "counter",
		m.SuccessfulAuths.Load())
	write("forgeph_auth_failed_total", "Rejected handshakes.", "counter",
		m.FailedAuths.Load())

	write("forgeph_events_delivered_total", "Frames delivered to endpoints.", "counter",
		m.EventsDelivered.Load())
	write("forgeph_events_dropped_total", "Frames that failed to reach an endpoint.", "counter",
		m.EventsDropped.Load())

	write("forgeph_ledger_mutations_total", "Committed point deltas.", "counter",
		m.LedgerMutations.Load())
	write("forgeph_ledger_failures_total", "Refused or failed point deltas.", "counter",
		m.LedgerFailures.Load())

	write("forgeph_counter_resets_total", "Daily counter resets applied.", "counter",
		m.CounterResets.Load())
	write("forgeph_counter_reset_failures_total", "Daily counter resets that failed.", "counter",
		m.CounterResetFailure.Load())

	write("forgeph_chat_messages_total", "Total chat messages relayed.", "counter",
		m.ChatMessagesSent.Load())

	write("forgeph_registrations_total", "Accounts registered.", "counter",
		m.Registrations.Load())
	write("forgeph_logins_total", "Successful logins.", "counter",
		m.Logins.Load())
	write("forgeph_logins_failed_total", "Failed logins.", "counter",
		m.FailedLogins.Load())
	write("forgeph_http_requests_total", "HTTP API requests served.", "counter",
		m.HTTPRequests.Load())
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
