package availability

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Store receives a best-effort copy of pool changes so other processes can
// read driver positions and availability.
type Store interface {
	SaveLocation(ctx context.Context, driverID string, location geo.Point) error
	SetAvailable(ctx context.Context, driverID string, available bool) error
	SetCurrentRide(ctx context.Context, driverID, rideID string) error
	Remove(ctx context.Context, driverID string) error
}

type updateKind int

const (
	updateLocation updateKind = iota
	updateAvailable
	updateRide
	updateRemove
)

type update struct {
	kind      updateKind
	driverID  string
	point     geo.Point
	available bool
	rideID    string
}

// Mirror drains pool changes into a Store on its own goroutine. The pool
// never waits on the store: when the buffer is full the change is dropped
// and counted.
type Mirror struct {
	store   Store
	updates chan update
	timeout time.Duration
	dropped atomic.Int64
	failed  atomic.Int64
	logger  *logger.Logger
}

// NewMirror creates a mirror with the given buffer size
func NewMirror(store Store, buffer int, log *logger.Logger) *Mirror {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Mirror{
		store:   store,
		updates: make(chan update, buffer),
		timeout: 2 * time.Second,
		logger:  log,
	}
}

func (m *Mirror) enqueue(u update) {
	if m == nil {
		return
	}
	select {
	case m.updates <- u:
	default:
		m.dropped.Add(1)
	}
}

// Run applies queued changes until ctx is done, then flushes what is left
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case u := <-m.updates:
			m.apply(u)
		}
	}
}

func (m *Mirror) drain() {
	for {
		select {
		case u := <-m.updates:
			m.apply(u)
		default:
			return
		}
	}
}

func (m *Mirror) apply(u update) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var err error
	switch u.kind {
	case updateLocation:
		err = m.store.SaveLocation(ctx, u.driverID, u.point)
	case updateAvailable:
		err = m.store.SetAvailable(ctx, u.driverID, u.available)
	case updateRide:
		err = m.store.SetCurrentRide(ctx, u.driverID, u.rideID)
		if err == nil && u.rideID != "" {
			err = m.store.SetAvailable(ctx, u.driverID, false)
		}
	case updateRemove:
		err = m.store.Remove(ctx, u.driverID)
	}

	if err != nil {
		m.failed.Add(1)
		m.logger.Warn("Failed to mirror driver availability",
			logger.DriverID(u.driverID),
			logger.Err(err),
		)
	}
}

// Dropped returns how many changes were discarded because the buffer was full
func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Failed returns how many changes the store rejected
func (m *Mirror) Failed() int64 {
	return m.failed.Load()
}
