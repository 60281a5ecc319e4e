package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the service.
type Metrics struct {
	Bookings           *prometheus.CounterVec
	BookingFailures    *prometheus.CounterVec
	Settlements        *prometheus.CounterVec
	TrackingTransition *prometheus.CounterVec
	TicketUpdates      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg. Passing a fresh registry keeps tests
// independent of the global default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Bookings created, by payment method and resulting status",
		}, []string{"method", "status"}),
		BookingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_failures_total",
			Help:      "Rejected booking attempts, by error kind",
		}, []string{"kind"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_settlements_total",
			Help:      "Wallet settlement runs, by result",
		}, []string{"result"}),
		TrackingTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_transitions_total",
			Help:      "Tracking status changes, by reference type and whether the move was forced",
		}, []string{"reference_type", "forced"}),
		TicketUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_updates_total",
			Help:      "Ticket field changes, by field",
		}, []string{"field"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Bookings,
			m.BookingFailures,
			m.Settlements,
			m.TrackingTransition,
			m.TicketUpdates,
			m.RequestDuration,
		)
	}

	return m
}

// NewNop returns unregistered collectors, handy for tests.
func NewNop() *Metrics {
	return New("test", nil)
}
