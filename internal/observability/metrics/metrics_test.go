package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSchedulingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)
	m.ObserveBooking("created")
	m.ObserveBooking("rejected_conflict")
	m.ObserveRequest("reschedule")
	m.ObserveResolution("reschedule", "approved")
	m.ObserveRequestLatency("/api/appointments", "POST", 0.042)
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("created")
	m.ObserveRequest("cancel")
	m.ObserveResolution("cancel", "rejected")
	m.ObserveRequestLatency("/health", "GET", 0.001)
}
