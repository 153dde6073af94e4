// Package availability keeps the authoritative in-process view of which
// drivers are online, where they are and whether they are serving a ride.
package availability

import (
	"sort"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Config holds pool configuration
type Config struct {
	// MaxRadiusKM drops candidates farther than this from the pickup. Zero disables the limit.
	MaxRadiusKM float64
}

// Candidate is a selectable driver ranked for a pickup
type Candidate struct {
	driver.Availability
	DistanceKM float64 `json:"distance_km"`
	Score      float64 `json:"score"`
}

// Stats is a point-in-time count of the pool
type Stats struct {
	Online    int `json:"online"`
	Busy      int `json:"busy"`
	Available int `json:"available"`
}

// Pool tracks driver availability. MarkBusy is the only way a driver becomes
// busy and it is a compare-and-set, so two rides can never claim the same driver.
type Pool struct {
	mu      sync.RWMutex
	drivers map[string]*driver.Availability
	config  Config
	scorer  Scorer
	mirror  *Mirror
	now     func() time.Time
	logger  *logger.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithScorer replaces the default distance ranking
func WithScorer(s Scorer) Option {
	return func(p *Pool) { p.scorer = s }
}

// WithMirror copies every change to an external store
func WithMirror(m *Mirror) Option {
	return func(p *Pool) { p.mirror = m }
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool creates an empty pool
func NewPool(log *logger.Logger, config Config, opts ...Option) *Pool {
	p := &Pool{
		drivers: make(map[string]*driver.Availability),
		config:  config,
		scorer:  DistanceScorer,
		now:     time.Now,
		logger:  log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetOnline registers or refreshes a driver as online at a location. A driver
// that reconnects mid-ride keeps its busy state.
func (p *Pool) SetOnline(profile driver.Contact, location geo.Point) driver.Availability {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.drivers[profile.ID]
	if !ok {
		a = &driver.Availability{DriverID: profile.ID}
		p.drivers[profile.ID] = a
	}
	a.Online = true
	a.Verified = profile.Verified
	a.VehicleType = profile.VehicleType
	a.Rating = profile.Rating
	a.Location = location
	a.UpdatedAt = p.now()

	p.mirror.enqueue(update{kind: updateLocation, driverID: a.DriverID, point: location})
	p.mirror.enqueue(update{kind: updateAvailable, driverID: a.DriverID, available: a.Selectable()})

	p.logger.Debug("Driver online",
		logger.DriverID(profile.ID),
		logger.String("vehicle_type", string(profile.VehicleType)),
	)
	return *a
}

// SetOffline takes a free driver out of dispatch. Busy drivers must finish
// or cancel their ride first.
func (p *Pool) SetOffline(driverID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	if a.Busy {
		return driver.ErrDriverAlreadyBusy
	}
	delete(p.drivers, driverID)

	p.mirror.enqueue(update{kind: updateRemove, driverID: driverID})
	return nil
}

// UpdateLocation moves a known driver
func (p *Pool) UpdateLocation(driverID string, location geo.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	a.Location = location
	a.UpdatedAt = p.now()

	p.mirror.enqueue(update{kind: updateLocation, driverID: driverID, point: location})
	return nil
}

// MarkBusy atomically claims a driver for a ride
func (p *Pool) MarkBusy(driverID, rideID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.drivers[driverID]
	if !ok {
		return driver.ErrDriverNotFound
	}
	if !a.Online {
		return driver.ErrDriverOffline
	}
	if a.Busy {
		return driver.ErrDriverAlreadyBusy
	}
	a.Busy = true
	a.CurrentRideID = rideID
	a.UpdatedAt = p.now()

	p.mirror.enqueue(update{kind: updateRide, driverID: driverID, rideID: rideID})
	return nil
}

// MarkFree releases a driver. When rideID is set the driver is only released
// from that ride, so a late release from an old ride cannot free a driver
// already serving a new one. Unknown drivers are ignored.
func (p *Pool) MarkFree(driverID, rideID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.drivers[driverID]
	if !ok || !a.Busy {
		return
	}
	if rideID != "" && a.CurrentRideID != rideID {
		p.logger.Warn("Ignoring release from a ride the driver is not serving",
			logger.DriverID(driverID),
			logger.RideID(rideID),
			logger.String("current_ride_id", a.CurrentRideID),
		)
		return
	}
	a.Busy = false
	a.CurrentRideID = ""
	a.UpdatedAt = p.now()

	p.mirror.enqueue(update{kind: updateRide, driverID: driverID})
	p.mirror.enqueue(update{kind: updateAvailable, driverID: driverID, available: a.Selectable()})
}

// Get returns a copy of a driver's record
func (p *Pool) Get(driverID string) (driver.Availability, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.drivers[driverID]
	if !ok {
		return driver.Availability{}, driver.ErrDriverNotFound
	}
	return *a, nil
}

// Candidates returns up to maxCount selectable drivers for a pickup, best
// first. An empty vehicle type matches every vehicle. Ties are broken by
// rating descending then driver id ascending.
func (p *Pool) Candidates(pickup geo.Point, vehicleType driver.VehicleType, maxCount int, exclude ...string) []Candidate {
	if maxCount <= 0 {
		return nil
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	p.mu.RLock()
	candidates := make([]Candidate, 0, len(p.drivers))
	for id, a := range p.drivers {
		if !a.Selectable() {
			continue
		}
		if vehicleType != "" && a.VehicleType != vehicleType {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		dist := geo.DistanceKM(pickup, a.Location)
		if p.config.MaxRadiusKM > 0 && dist > p.config.MaxRadiusKM {
			continue
		}
		candidates = append(candidates, Candidate{
			Availability: *a,
			DistanceKM:   dist,
			Score:        p.scorer(pickup, a),
		})
	}
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.Score != cj.Score {
			return ci.Score < cj.Score
		}
		if ci.Rating != cj.Rating {
			return ci.Rating > cj.Rating
		}
		return ci.DriverID < cj.DriverID
	})

	if len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}
	return candidates
}

// Stats counts online, busy and selectable drivers
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var s Stats
	for _, a := range p.drivers {
		if a.Online {
			s.Online++
		}
		if a.Busy {
			s.Busy++
		}
		if a.Selectable() {
			s.Available++
		}
	}
	return s
}
