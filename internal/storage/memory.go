package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/earnings"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
)

// MemoryDirectory is an in-process directory for local runs without Postgres
type MemoryDirectory struct {
	mu      sync.RWMutex
	riders  map[string]rider.Contact
	drivers map[string]driver.Contact
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		riders:  make(map[string]rider.Contact),
		drivers: make(map[string]driver.Contact),
	}
}

// PutRider adds or replaces a rider card
func (m *MemoryDirectory) PutRider(c rider.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[c.ID] = c
}

// PutDriver adds or replaces a driver card
func (m *MemoryDirectory) PutDriver(c driver.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[c.ID] = c
}

// Fixtures is the file format LoadFixtures reads
type Fixtures struct {
	Riders  []rider.Contact  `json:"riders"`
	Drivers []driver.Contact `json:"drivers"`
}

// LoadFixtures adds every card in a JSON fixtures document and returns how
// many were loaded
func (m *MemoryDirectory) LoadFixtures(r io.Reader) (int, error) {
	var f Fixtures
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return 0, fmt.Errorf("decode fixtures: %w", err)
	}
	for _, d := range f.Drivers {
		if !d.VehicleType.IsValid() {
			return 0, fmt.Errorf("driver %s: %w", d.ID, driver.ErrInvalidVehicleType)
		}
	}
	for _, c := range f.Riders {
		m.PutRider(c)
	}
	for _, d := range f.Drivers {
		m.PutDriver(d)
	}
	return len(f.Riders) + len(f.Drivers), nil
}

func (m *MemoryDirectory) GetRiderContact(_ context.Context, riderID string) (rider.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.riders[riderID]
	if !ok {
		return rider.Contact{}, fmt.Errorf("%w: %s", rider.ErrRiderNotFound, riderID)
	}
	return c, nil
}

func (m *MemoryDirectory) GetDriverContact(_ context.Context, driverID string) (driver.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.drivers[driverID]
	if !ok {
		return driver.Contact{}, fmt.Errorf("%w: %s", driver.ErrDriverNotFound, driverID)
	}
	return c, nil
}

// MemoryArchive keeps archived rides and earnings in process
type MemoryArchive struct {
	mu       sync.Mutex
	rides    map[string]*ride.Ride
	earnings map[string]earnings.Breakdown
}

// NewMemoryArchive creates an empty archive
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		rides:    make(map[string]*ride.Ride),
		earnings: make(map[string]earnings.Breakdown),
	}
}

func (m *MemoryArchive) ArchiveRide(_ context.Context, r *ride.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		m.rides[r.ID] = r.Clone()
	}
	return nil
}

func (m *MemoryArchive) RecordEarnings(_ context.Context, _, rideID string, split earnings.Breakdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.earnings[rideID]; !ok {
		m.earnings[rideID] = split
	}
	return nil
}

// Ride returns an archived ride
func (m *MemoryArchive) Ride(rideID string) (*ride.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Earnings returns the split recorded for a ride
func (m *MemoryArchive) Earnings(rideID string) (earnings.Breakdown, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.earnings[rideID]
	return b, ok
}
