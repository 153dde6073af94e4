package pricing

import (
	"context"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/pkg/cache"
)

// Service estimates fares before a ride is requested. It is the pluggable
// estimator the API uses when a client does not send its own estimate.
type Service struct {
	redis  *redis.Client
	config Config
	demand DemandFunc
}

// Config holds pricing configuration
type Config struct {
	BaseFare           map[driver.VehicleType]float64
	PerKMRate          map[driver.VehicleType]float64
	PerMinuteRate      map[driver.VehicleType]float64
	MinimumFare        float64
	MaxSurgeMultiplier float64
	MinSurgeMultiplier float64
	AverageSpeedKMH    float64
}

// DefaultConfig returns the standard tariff
func DefaultConfig() Config {
	return Config{
		BaseFare: map[driver.VehicleType]float64{
			driver.VehicleEconomy: 50.0,
			driver.VehiclePremium: 100.0,
			driver.VehicleLuxury:  200.0,
		},
		PerKMRate: map[driver.VehicleType]float64{
			driver.VehicleEconomy: 10.0,
			driver.VehiclePremium: 15.0,
			driver.VehicleLuxury:  25.0,
		},
		PerMinuteRate: map[driver.VehicleType]float64{
			driver.VehicleEconomy: 2.0,
			driver.VehiclePremium: 3.0,
			driver.VehicleLuxury:  5.0,
		},
		MinimumFare:        50.0,
		MaxSurgeMultiplier: 3.0,
		MinSurgeMultiplier: 1.0,
		AverageSpeedKMH:    30.0,
	}
}

// DemandFunc reports current demand and supply for surge pricing
type DemandFunc func() (activeRides, availableDrivers int)

// FareBreakdown represents the breakdown of a fare
type FareBreakdown struct {
	BaseFare        float64 `json:"base_fare"`
	DistanceFare    float64 `json:"distance_fare"`
	TimeFare        float64 `json:"time_fare"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	Subtotal        float64 `json:"subtotal"`
	Total           float64 `json:"total"`
}

// Estimate is a quote for a trip between two points
type Estimate struct {
	VehicleType     driver.VehicleType `json:"vehicle_type"`
	DistanceKM      float64            `json:"distance_km"`
	DurationMinutes int                `json:"duration_minutes"`
	Region          string             `json:"region"`
	Fare            FareBreakdown      `json:"fare"`
}

// NewService creates a new pricing service. redis may be nil, in which case
// only demand based surge applies.
func NewService(redis *redis.Client, config Config, demand DemandFunc) *Service {
	return &Service{
		redis:  redis,
		config: config,
		demand: demand,
	}
}

// Estimate quotes a trip using straight-line distance and the configured
// average speed
func (s *Service) Estimate(ctx context.Context, vehicleType driver.VehicleType, pickup, destination geo.Point) (*Estimate, error) {
	if !vehicleType.IsValid() {
		return nil, driver.ErrInvalidVehicleType
	}

	distance := round2(geo.DistanceKM(pickup, destination))
	minutes := geo.TravelMinutes(distance, s.config.AverageSpeedKMH)
	region := Region(pickup)

	fare, err := s.CalculateFare(ctx, vehicleType, distance, minutes, region)
	if err != nil {
		return nil, err
	}

	return &Estimate{
		VehicleType:     vehicleType,
		DistanceKM:      distance,
		DurationMinutes: minutes,
		Region:          region,
		Fare:            *fare,
	}, nil
}

// CalculateFare calculates the total fare for a trip
func (s *Service) CalculateFare(ctx context.Context, vehicleType driver.VehicleType, distanceKM float64, durationMinutes int, region string) (*FareBreakdown, error) {
	if distanceKM < 0 || durationMinutes < 0 {
		return nil, fmt.Errorf("invalid trip: distance %.2f km, duration %d min", distanceKM, durationMinutes)
	}

	baseFare := s.config.BaseFare[vehicleType]
	distanceFare := distanceKM * s.config.PerKMRate[vehicleType]
	timeFare := float64(durationMinutes) * s.config.PerMinuteRate[vehicleType]
	subtotal := baseFare + distanceFare + timeFare

	surgeMultiplier := s.surge(ctx, region)

	total := subtotal * surgeMultiplier
	if total < s.config.MinimumFare {
		total = s.config.MinimumFare
	}

	return &FareBreakdown{
		BaseFare:        round2(baseFare),
		DistanceFare:    round2(distanceFare),
		TimeFare:        round2(timeFare),
		SurgeMultiplier: surgeMultiplier,
		Subtotal:        round2(subtotal),
		Total:           round2(total),
	}, nil
}

// EstimateFare estimates fare before trip starts, without surge
func (s *Service) EstimateFare(vehicleType driver.VehicleType, distanceKM float64, estimatedMinutes int) float64 {
	baseFare := s.config.BaseFare[vehicleType]
	perKM := s.config.PerKMRate[vehicleType]
	perMinute := s.config.PerMinuteRate[vehicleType]

	return baseFare + (distanceKM * perKM) + (float64(estimatedMinutes) * perMinute)
}

// surge takes the higher of the manual regional multiplier and the demand
// based one
func (s *Service) surge(ctx context.Context, region string) float64 {
	multiplier := s.GetSurgeMultiplier(ctx, region)
	if s.demand != nil {
		active, available := s.demand()
		if d := s.CalculateSurgeBasedOnDemand(active, available); d > multiplier {
			multiplier = d
		}
	}
	return math.Round(multiplier*100) / 100
}

// GetSurgeMultiplier gets the current surge multiplier for a region
func (s *Service) GetSurgeMultiplier(ctx context.Context, region string) float64 {
	if s.redis == nil {
		return 1.0
	}
	val, err := s.redis.Get(ctx, cache.SurgeKey(region)).Float64()
	if err != nil {
		return 1.0
	}

	if val > s.config.MaxSurgeMultiplier {
		return s.config.MaxSurgeMultiplier
	}
	if val < s.config.MinSurgeMultiplier {
		return s.config.MinSurgeMultiplier
	}

	return val
}

// SetSurgeMultiplier sets the surge multiplier for a region
func (s *Service) SetSurgeMultiplier(ctx context.Context, region string, multiplier float64) error {
	if s.redis == nil {
		return fmt.Errorf("surge storage not configured")
	}
	if multiplier > s.config.MaxSurgeMultiplier {
		multiplier = s.config.MaxSurgeMultiplier
	}
	if multiplier < s.config.MinSurgeMultiplier {
		multiplier = s.config.MinSurgeMultiplier
	}

	return s.redis.Set(ctx, cache.SurgeKey(region), multiplier, 0).Err()
}

// CalculateSurgeBasedOnDemand calculates surge based on demand/supply ratio
func (s *Service) CalculateSurgeBasedOnDemand(activeRides, availableDrivers int) float64 {
	if availableDrivers == 0 {
		if activeRides == 0 {
			return 1.0
		}
		return s.config.MaxSurgeMultiplier
	}

	ratio := float64(activeRides) / float64(availableDrivers)

	// ratio < 0.5 -> 1.0x
	// ratio 0.5-1.0 -> 1.0-1.5x
	// ratio 1.0-2.0 -> 1.5-2.5x
	// ratio > 2.0 -> 2.5-3.0x
	switch {
	case ratio < 0.5:
		return 1.0
	case ratio < 1.0:
		return 1.0 + (ratio * 0.5)
	case ratio < 2.0:
		return 1.5 + ((ratio - 1.0) * 1.0)
	default:
		multiplier := 2.5 + ((ratio - 2.0) * 0.25)
		if multiplier > s.config.MaxSurgeMultiplier {
			return s.config.MaxSurgeMultiplier
		}
		return multiplier
	}
}

// Region buckets a point into a roughly 11km grid cell used as the surge key
func Region(p geo.Point) string {
	return fmt.Sprintf("%.1f:%.1f", p.Latitude, p.Longitude)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
