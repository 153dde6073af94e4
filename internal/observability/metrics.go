package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_requested_total", Help: "Total ride requests accepted into dispatch"})

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status transitions applied"},
		[]string{"from", "to"},
	)

	RejectedTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_rejected_total", Help: "Ride status transitions refused by the state machine"},
		[]string{"from", "to"},
	)

	OffersCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_created_total", Help: "Offers sent to drivers"})

	OffersResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_resolved_total", Help: "Offers that left pending, by outcome"},
		[]string{"outcome"},
	)

	DispatchRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_rounds_total", Help: "Dispatch rounds run, by round number"},
		[]string{"round"},
	)

	DispatchExhausted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_exhausted_total", Help: "Rides cancelled because no driver accepted"})

	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Time from ride request to driver acceptance",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one expiry sweep",
		Buckets:   prometheus.DefBuckets,
	})

	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_errors_total", Help: "Rides the sweeper failed to process"})

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notifications that could not be delivered"},
		[]string{"kind"},
	)

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Notifications discarded because the delivery queue was full"})

	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "archive_failures_total", Help: "Terminal rides that could not be archived"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// PoolStats is what the driver gauges read on every scrape
type PoolStats func() (online, busy, available int)

// RegisterPoolGauges exposes driver pool counts. Call once per process.
func RegisterPoolGauges(reg prometheus.Registerer, stats PoolStats) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers currently online"}, func() float64 {
		online, _, _ := stats()
		return float64(online)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_busy", Help: "Drivers currently serving a ride"}, func() float64 {
		_, busy, _ := stats()
		return float64(busy)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_available", Help: "Drivers that can receive offers"}, func() float64 {
		_, _, available := stats()
		return float64(available)
	})
}

// RegisterActiveRides exposes the number of rides that are not yet terminal
func RegisterActiveRides(reg prometheus.Registerer, active func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: "rides_active", Help: "Rides not yet completed or cancelled"}, func() float64 {
		return float64(active())
	})
}
