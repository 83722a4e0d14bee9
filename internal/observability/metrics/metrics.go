// Package metrics exposes Prometheus collectors for the scheduling flows.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the appointment
// lifecycle. All methods are nil-safe so callers never guard.
type SchedulingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
}

// NewSchedulingMetrics registers the scheduling collectors.
func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novadental",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novadental",
			Subsystem: "scheduling",
			Name:      "change_requests_total",
			Help:      "Reschedule/cancel requests filed",
		}, []string{"kind"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novadental",
			Subsystem: "scheduling",
			Name:      "change_resolutions_total",
			Help:      "Change request resolutions by kind and outcome",
		}, []string{"kind", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "novadental",
			Subsystem: "http",
			Name:      "request_latency_seconds",
			Help:      "Latency of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.requestsTotal, m.resolutionsTotal, m.requestLatency)
	return m
}

// ObserveBooking counts one booking attempt outcome
// (created, rejected_conflict, rejected_availability, rejected_policy, error).
func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest counts one filed change request (reschedule, cancel).
func (m *SchedulingMetrics) ObserveRequest(kind string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(kind).Inc()
}

// ObserveResolution counts one change request resolution.
func (m *SchedulingMetrics) ObserveResolution(kind, outcome string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRequestLatency records one API request's duration.
func (m *SchedulingMetrics) ObserveRequestLatency(route, method string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(route, method).Observe(seconds)
}
