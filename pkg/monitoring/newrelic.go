package monitoring

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

// NewRelicApp wraps the New Relic application. A disabled app is safe to call;
// every recorder becomes a no-op.
type NewRelicApp struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*NewRelicApp, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return Disabled(), nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &NewRelicApp{app, true}, nil
}

// Disabled returns an app that records nothing
func Disabled() *NewRelicApp {
	return &NewRelicApp{nil, false}
}

// RecordCustomEvent records a custom event
func (nr *NewRelicApp) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if nr == nil || !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomEvent(eventType, params)
}

// RecordCustomMetric records a custom metric
func (nr *NewRelicApp) RecordCustomMetric(name string, value float64) {
	if nr == nil || !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomMetric(name, value)
}

// Shutdown gracefully shuts down the New Relic application
func (nr *NewRelicApp) Shutdown(timeout time.Duration) {
	if nr == nil || !nr.enabled || nr.Application == nil {
		return
	}
	nr.Application.Shutdown(timeout)
}

// IsEnabled returns whether New Relic is enabled
func (nr *NewRelicApp) IsEnabled() bool {
	return nr != nil && nr.enabled
}

// RecordRideRequested records a new ride request
func (nr *NewRelicApp) RecordRideRequested(rideID, vehicleType string, estimatedFare float64) {
	nr.RecordCustomEvent("RideRequested", map[string]interface{}{
		"ride_id":        rideID,
		"vehicle_type":   vehicleType,
		"estimated_fare": estimatedFare,
	})
}

// RecordDispatchRound records how many offers a dispatch round produced
func (nr *NewRelicApp) RecordDispatchRound(round, offers int) {
	nr.RecordCustomMetric("custom/dispatch/offers_per_round", float64(offers))
	nr.RecordCustomMetric(fmt.Sprintf("custom/dispatch/round/%d", round), 1)
}

// RecordMatchingLatency records the time between request and acceptance
func (nr *NewRelicApp) RecordMatchingLatency(latency time.Duration) {
	nr.RecordCustomMetric("custom/ride/matching_latency_ms", float64(latency.Milliseconds()))
}

// RecordRideCompleted records ride completion
func (nr *NewRelicApp) RecordRideCompleted(rideID string, fare, distance float64, duration int) {
	nr.RecordCustomEvent("RideCompleted", map[string]interface{}{
		"ride_id":  rideID,
		"fare":     fare,
		"distance": distance,
		"duration": duration,
	})
}

// RecordRideCancelled records a cancellation and who caused it
func (nr *NewRelicApp) RecordRideCancelled(rideID, cancelledBy, reason string) {
	nr.RecordCustomEvent("RideCancelled", map[string]interface{}{
		"ride_id":      rideID,
		"cancelled_by": cancelledBy,
		"reason":       reason,
	})
}

// RecordSurgeMultiplier records surge pricing multiplier
func (nr *NewRelicApp) RecordSurgeMultiplier(region string, multiplier float64) {
	nr.RecordCustomMetric(fmt.Sprintf("custom/pricing/surge_multiplier/%s", region), multiplier)
}

// RecordDatabasePoolStats records database connection pool statistics
func (nr *NewRelicApp) RecordDatabasePoolStats(stats map[string]interface{}) {
	if totalConns, ok := stats["total_connections"].(int32); ok {
		nr.RecordCustomMetric("custom/db/total_connections", float64(totalConns))
	}
	if idleConns, ok := stats["idle_connections"].(int32); ok {
		nr.RecordCustomMetric("custom/db/idle_connections", float64(idleConns))
	}
	if acquiredConns, ok := stats["acquired_connections"].(int32); ok {
		nr.RecordCustomMetric("custom/db/acquired_connections", float64(acquiredConns))
	}
}

// RecordRedisPoolStats records Redis pool statistics
func (nr *NewRelicApp) RecordRedisPoolStats(stats map[string]interface{}) {
	if hits, ok := stats["hits"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_hits", float64(hits))
	}
	if misses, ok := stats["misses"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_misses", float64(misses))
	}
	if timeouts, ok := stats["timeouts"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/timeouts", float64(timeouts))
	}
}
