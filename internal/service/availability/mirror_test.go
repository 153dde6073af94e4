package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

type recordingStore struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.err
}

func (s *recordingStore) SaveLocation(_ context.Context, id string, _ geo.Point) error {
	return s.record("location:" + id)
}

func (s *recordingStore) SetAvailable(_ context.Context, id string, available bool) error {
	if available {
		return s.record("available:" + id)
	}
	return s.record("unavailable:" + id)
}

func (s *recordingStore) SetCurrentRide(_ context.Context, id, rideID string) error {
	return s.record("ride:" + id + ":" + rideID)
}

func (s *recordingStore) Remove(_ context.Context, id string) error {
	return s.record("remove:" + id)
}

func (s *recordingStore) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestMirror_AppliesInOrder(t *testing.T) {
	store := &recordingStore{}
	mirror := NewMirror(store, 16, logger.NewNop())
	pool := newTestPool(t, WithMirror(mirror))

	pool.SetOnline(profile("d1", driver.VehicleEconomy, 5), offset(1))
	require.NoError(t, pool.MarkBusy("d1", "ride-1"))
	pool.MarkFree("d1", "ride-1")
	require.NoError(t, pool.SetOffline("d1"))

	// flushing on a cancelled context applies everything queued so far
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mirror.Run(ctx)

	assert.Equal(t, []string{
		"location:d1",
		"available:d1",
		"ride:d1:ride-1",
		"unavailable:d1",
		"ride:d1:",
		"available:d1",
		"remove:d1",
	}, store.snapshot())
}

func TestMirror_DropsWhenFull(t *testing.T) {
	store := &recordingStore{}
	mirror := NewMirror(store, 1, logger.NewNop())
	pool := newTestPool(t, WithMirror(mirror))

	pool.SetOnline(profile("d1", driver.VehicleEconomy, 5), offset(1))
	require.NoError(t, pool.UpdateLocation("d1", offset(2)))

	assert.Equal(t, int64(2), mirror.Dropped())
}

func TestMirror_CountsStoreFailures(t *testing.T) {
	store := &recordingStore{err: errors.New("boom")}
	mirror := NewMirror(store, 16, logger.NewNop())
	pool := newTestPool(t, WithMirror(mirror))

	pool.SetOnline(profile("d1", driver.VehicleEconomy, 5), offset(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mirror.Run(ctx)

	assert.Equal(t, int64(2), mirror.Failed())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client)
	mirror := NewMirror(store, 64, logger.NewNop())
	pool := newTestPool(t, WithMirror(mirror))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mirror.Run(ctx)
		close(done)
	}()

	pool.SetOnline(profile("d1", driver.VehicleEconomy, 5), offset(1))
	pool.SetOnline(profile("d2", driver.VehicleEconomy, 5), offset(2))
	require.NoError(t, pool.MarkBusy("d2", "ride-9"))

	require.Eventually(t, func() bool {
		ok, _ := mr.SIsMember(cache.KeyDriversAvailable, "d1")
		ride, _ := mr.Get(cache.DriverRideKey("d2"))
		return ok && ride == "ride-9"
	}, 2*time.Second, 10*time.Millisecond)

	busy, _ := mr.SIsMember(cache.KeyDriversAvailable, "d2")
	assert.False(t, busy)

	positions, err := client.GeoPos(context.Background(), cache.KeyDriverLocations, "d1").Result()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0])
	assert.InDelta(t, offset(1).Latitude, positions[0].Latitude, 0.001)

	require.NoError(t, pool.SetOffline("d1"))
	require.Eventually(t, func() bool {
		ok, _ := mr.SIsMember(cache.KeyDriversAvailable, "d1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
