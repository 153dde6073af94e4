package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys shared by every process reading dispatch state out of Redis.
const (
	KeyDriverLocations  = "drivers:locations"
	KeyDriversAvailable = "drivers:available"
	keyDriverRide       = "driver:%s:current_ride"
	keySurge            = "surge:%s"
	keyDirectory        = "directory:%s:%s"
)

// DriverRideKey is the key holding the ride a driver is serving.
func DriverRideKey(driverID string) string {
	return fmt.Sprintf(keyDriverRide, driverID)
}

// SurgeKey is the key holding the manual surge multiplier for a region.
func SurgeKey(region string) string {
	return fmt.Sprintf(keySurge, region)
}

// DirectoryKey is the key caching a rider or driver contact card.
func DirectoryKey(role, id string) string {
	return fmt.Sprintf(keyDirectory, role, id)
}

// Config holds Redis configuration
type Config struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// NewRedisClient creates a new Redis client and verifies the connection
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConn,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Close gracefully closes the Redis client
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// GetClientStats returns Redis client statistics
func GetClientStats(client *redis.Client) map[string]interface{} {
	stats := client.PoolStats()
	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
