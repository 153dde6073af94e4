// Package geo holds the coordinate types and distance math shared by the
// availability pool, the pricing estimator and the API layer.
package geo

import "math"

const earthRadiusKM = 6371.0

// Point is a WGS84 coordinate
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point lies within the WGS84 bounds
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// DistanceKM calculates the haversine distance between two points in kilometers
func DistanceKM(a, b Point) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKM * c
}

// TravelMinutes converts a distance into whole minutes at the given average
// speed, never less than one minute for a non-zero trip.
func TravelMinutes(distanceKM, speedKMH float64) int {
	if distanceKM <= 0 || speedKMH <= 0 {
		return 0
	}
	minutes := int(math.Ceil(distanceKM * 60 / speedKMH))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
