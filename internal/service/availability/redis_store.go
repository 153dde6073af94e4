package availability

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/pkg/cache"
)

// RedisStore mirrors the pool into Redis: positions in a geo set, selectable
// drivers in a set and the ride each busy driver serves in a plain key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveLocation(ctx context.Context, driverID string, location geo.Point) error {
	err := s.client.GeoAdd(ctx, cache.KeyDriverLocations, &redis.GeoLocation{
		Name:      driverID,
		Longitude: location.Longitude,
		Latitude:  location.Latitude,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save driver location: %w", err)
	}
	return nil
}

func (s *RedisStore) SetAvailable(ctx context.Context, driverID string, available bool) error {
	var err error
	if available {
		err = s.client.SAdd(ctx, cache.KeyDriversAvailable, driverID).Err()
	} else {
		err = s.client.SRem(ctx, cache.KeyDriversAvailable, driverID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update available drivers: %w", err)
	}
	return nil
}

func (s *RedisStore) SetCurrentRide(ctx context.Context, driverID, rideID string) error {
	key := cache.DriverRideKey(driverID)
	var err error
	if rideID == "" {
		err = s.client.Del(ctx, key).Err()
	} else {
		err = s.client.Set(ctx, key, rideID, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update driver ride: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, driverID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, cache.KeyDriverLocations, driverID)
		pipe.SRem(ctx, cache.KeyDriversAvailable, driverID)
		pipe.Del(ctx, cache.DriverRideKey(driverID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove driver: %w", err)
	}
	return nil
}
