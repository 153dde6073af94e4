package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
)

// entry owns one ride and its offers. Every read or write of either goes
// through mu. Lock order is entry.mu before Registry.mu, never the reverse.
type entry struct {
	mu      sync.Mutex
	ride    *ride.Ride
	offers  []*offer.Offer
	offered map[string]struct{} // drivers offered in any round

	removed  bool
	archived bool
	earned   bool
	busy     bool // archive handoff in flight
}

func (e *entry) findOffer(offerID string) *offer.Offer {
	for _, o := range e.offers {
		if o.ID == offerID {
			return o
		}
	}
	return nil
}

func (e *entry) pendingOffers() []*offer.Offer {
	var pending []*offer.Offer
	for _, o := range e.offers {
		if o.IsPending() {
			pending = append(pending, o)
		}
	}
	return pending
}

// expirePending expires every pending offer, optionally sparing one, and
// returns copies of the offers it touched
func (e *entry) expirePending(except string, at time.Time) []*offer.Offer {
	var expired []*offer.Offer
	for _, o := range e.offers {
		if o.ID == except || !o.IsPending() {
			continue
		}
		o.Resolve(offer.StatusExpired, at)
		expired = append(expired, o.Clone())
	}
	return expired
}

// Registry holds every live ride plus recently finished ones. The maps are
// guarded by mu; ride state is guarded by each entry's own lock.
type Registry struct {
	mu             sync.RWMutex
	rides          map[string]*entry
	activeByRider  map[string]string
	activeByDriver map[string]string
	offerIndex     map[string]string
	driverOffers   map[string]map[string]struct{}

	machine *StateMachine
}

// NewRegistry creates an empty registry whose transitions go through machine
func NewRegistry(machine *StateMachine) *Registry {
	return &Registry{
		rides:          make(map[string]*entry),
		activeByRider:  make(map[string]string),
		activeByDriver: make(map[string]string),
		offerIndex:     make(map[string]string),
		driverOffers:   make(map[string]map[string]struct{}),
		machine:        machine,
	}
}

// Create stores a new requested ride. The rider conflict check and the insert
// happen under one lock, so two concurrent requests cannot both succeed.
func (r *Registry) Create(rd *ride.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.activeByRider[rd.RiderID]; ok {
		return fmt.Errorf("%w: rider %s has ride %s", ride.ErrActiveRideExists, rd.RiderID, existing)
	}
	r.rides[rd.ID] = &entry{ride: rd, offered: make(map[string]struct{})}
	r.activeByRider[rd.RiderID] = rd.ID
	return nil
}

// Get returns a copy of a ride
func (r *Registry) Get(rideID string) (*ride.Ride, error) {
	var out *ride.Ride
	err := r.withRide(rideID, func(e *entry) error {
		out = e.ride.Clone()
		return nil
	})
	return out, err
}

// Transition applies a status change under the ride's lock
func (r *Registry) Transition(rideID string, t Transition) (*ride.Ride, error) {
	var out *ride.Ride
	err := r.withRide(rideID, func(e *entry) error {
		if err := r.applyLocked(e, t); err != nil {
			return err
		}
		out = e.ride.Clone()
		return nil
	})
	return out, err
}

// applyLocked runs the state machine and keeps the active indices in step.
// Callers hold e.mu.
func (r *Registry) applyLocked(e *entry, t Transition) error {
	if err := r.machine.Apply(e.ride, t); err != nil {
		return err
	}

	switch {
	case e.ride.Status == ride.StatusAccepted:
		r.mu.Lock()
		r.activeByDriver[e.ride.DriverID] = e.ride.ID
		r.mu.Unlock()
	case e.ride.Status.IsTerminal():
		r.release(e.ride)
	}
	return nil
}

// release drops a terminal ride from the active indices. The entry itself
// stays readable until pruned.
func (r *Registry) release(rd *ride.Ride) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeByRider[rd.RiderID] == rd.ID {
		delete(r.activeByRider, rd.RiderID)
	}
	if rd.DriverID != "" && r.activeByDriver[rd.DriverID] == rd.ID {
		delete(r.activeByDriver, rd.DriverID)
	}
}

func (r *Registry) lookup(rideID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rides[rideID]
	return e, ok
}

// withRide runs fn holding the ride's lock
func (r *Registry) withRide(rideID string, fn func(e *entry) error) error {
	e, ok := r.lookup(rideID)
	if !ok {
		return fmt.Errorf("%w: %s", ride.ErrRideNotFound, rideID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return fmt.Errorf("%w: %s", ride.ErrRideNotFound, rideID)
	}
	return fn(e)
}

// withOffer runs fn holding the lock of the ride the offer belongs to
func (r *Registry) withOffer(offerID string, fn func(e *entry, o *offer.Offer) error) error {
	r.mu.RLock()
	rideID, ok := r.offerIndex[offerID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", offer.ErrOfferNotFound, offerID)
	}

	err := r.withRide(rideID, func(e *entry) error {
		o := e.findOffer(offerID)
		if o == nil {
			return fmt.Errorf("%w: %s", offer.ErrOfferNotFound, offerID)
		}
		return fn(e, o)
	})
	if err != nil && errors.Is(err, ride.ErrRideNotFound) {
		return fmt.Errorf("%w: %s", offer.ErrOfferNotFound, offerID)
	}
	return err
}

// indexOffers makes new offers reachable by id and by driver. Callers hold e.mu.
func (r *Registry) indexOffers(offers []*offer.Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range offers {
		r.offerIndex[o.ID] = o.RideID
		byDriver, ok := r.driverOffers[o.DriverID]
		if !ok {
			byDriver = make(map[string]struct{})
			r.driverOffers[o.DriverID] = byDriver
		}
		byDriver[o.ID] = struct{}{}
	}
}

// ActiveRideForRider returns the id of the rider's non-terminal ride
func (r *Registry) ActiveRideForRider(riderID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.activeByRider[riderID]
	return id, ok
}

// ActiveRideForDriver returns the id of the ride the driver is serving
func (r *Registry) ActiveRideForDriver(driverID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.activeByDriver[driverID]
	return id, ok
}

// offerIDsForDriver returns every indexed offer id sent to a driver
func (r *Registry) offerIDsForDriver(driverID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.driverOffers[driverID]))
	for id := range r.driverOffers[driverID] {
		ids = append(ids, id)
	}
	return ids
}

// rideIDs snapshots every ride id for the sweeper
func (r *Registry) rideIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rides))
	for id := range r.rides {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns how many rides are not terminal
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeByRider)
}

// RequestedCount returns how many rides are still waiting for a driver
func (r *Registry) RequestedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeByRider) - len(r.activeByDriver)
}

// prune forgets a terminal ride and its offers. Callers hold e.mu.
func (r *Registry) prune(e *entry) {
	e.removed = true

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rides, e.ride.ID)
	for _, o := range e.offers {
		delete(r.offerIndex, o.ID)
		if byDriver, ok := r.driverOffers[o.DriverID]; ok {
			delete(byDriver, o.ID)
			if len(byDriver) == 0 {
				delete(r.driverOffers, o.DriverID)
			}
		}
	}
}
