package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// ContactSource resolves contact cards
type ContactSource interface {
	GetRiderContact(ctx context.Context, riderID string) (rider.Contact, error)
	GetDriverContact(ctx context.Context, driverID string) (driver.Contact, error)
}

const (
	roleRider  = "rider"
	roleDriver = "driver"
)

// CachedDirectory keeps contact cards in Redis in front of a slower source.
// Redis failures fall through to the source; lookup misses are not cached.
type CachedDirectory struct {
	next   ContactSource
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedDirectory wraps next with a Redis read-through cache
func NewCachedDirectory(next ContactSource, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{next: next, client: client, ttl: ttl, logger: log}
}

// GetRiderContact returns a rider card, from cache when possible
func (d *CachedDirectory) GetRiderContact(ctx context.Context, riderID string) (rider.Contact, error) {
	return readThrough(ctx, d, cache.DirectoryKey(roleRider, riderID), func() (rider.Contact, error) {
		return d.next.GetRiderContact(ctx, riderID)
	})
}

// GetDriverContact returns a driver card, from cache when possible
func (d *CachedDirectory) GetDriverContact(ctx context.Context, driverID string) (driver.Contact, error) {
	return readThrough(ctx, d, cache.DirectoryKey(roleDriver, driverID), func() (driver.Contact, error) {
		return d.next.GetDriverContact(ctx, driverID)
	})
}

// InvalidateDriver drops a cached driver card
func (d *CachedDirectory) InvalidateDriver(ctx context.Context, driverID string) error {
	return d.client.Del(ctx, cache.DirectoryKey(roleDriver, driverID)).Err()
}

func readThrough[T any](ctx context.Context, d *CachedDirectory, key string, load func() (T, error)) (T, error) {
	var v T
	data, err := d.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		d.logger.Warn("Discarding unreadable cached contact", logger.String("key", key))
	case !errors.Is(err, redis.Nil):
		d.logger.Warn("Contact cache unavailable", logger.String("key", key), logger.Err(err))
	}

	v, err = load()
	if err != nil {
		return v, err
	}

	if data, err := json.Marshal(v); err == nil {
		if err := d.client.Set(ctx, key, data, d.ttl).Err(); err != nil {
			d.logger.Warn("Failed to cache contact", logger.String("key", key), logger.Err(err))
		}
	}
	return v, nil
}
