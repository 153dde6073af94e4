package availability

import (
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/geo"
)

// Scorer ranks a driver for a pickup. Lower is better.
type Scorer func(pickup geo.Point, a *driver.Availability) float64

// DistanceScorer ranks by straight-line distance in kilometers
func DistanceScorer(pickup geo.Point, a *driver.Availability) float64 {
	return geo.DistanceKM(pickup, a.Location)
}

// ratingPenaltySeconds is added per rating point below five
const ratingPenaltySeconds = 30.0

// ETAScorer ranks by estimated seconds to pickup at an average speed, with a
// penalty for lower rated drivers so a slightly farther 5.0 driver can beat
// a nearby 3.0 one.
func ETAScorer(speedKMH float64) Scorer {
	if speedKMH <= 0 {
		speedKMH = 30
	}
	return func(pickup geo.Point, a *driver.Availability) float64 {
		eta := geo.DistanceKM(pickup, a.Location) / speedKMH * 3600
		penalty := 0.0
		if a.Rating > 0 && a.Rating < 5 {
			penalty = ratingPenaltySeconds * (5 - a.Rating)
		}
		return eta + penalty
	}
}
