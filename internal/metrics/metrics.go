package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locamove",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locamove",
			Name:      "bookings_created_total",
			Help:      "Bookings created by catalog kind.",
		},
		[]string{"catalog_kind"},
	)

	pricingRecomputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locamove",
			Name:      "pricing_recomputes_total",
			Help:      "Pricing recomputations by trigger.",
		},
		[]string{"trigger"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locamove",
			Name:      "cancellations_total",
			Help:      "Cancellations by refund tier.",
		},
		[]string{"refund_tier"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingsCreated, pricingRecomputes, cancellations)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBookingCreated increments the created counter for a catalog kind.
func IncBookingCreated(catalogKind string) {
	bookingsCreated.WithLabelValues(catalogKind).Inc()
}

// IncRecompute increments the recompute counter for a trigger label.
func IncRecompute(trigger string) {
	pricingRecomputes.WithLabelValues(trigger).Inc()
}

// IncCancellation increments the cancellation counter for a refund tier.
func IncCancellation(tier string) {
	cancellations.WithLabelValues(tier).Inc()
}
