package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Matcher fans a requested ride out to the best candidate drivers and
// resolves their answers. First accept wins; the other offers of the ride
// expire in the same critical section.
type Matcher struct {
	registry *Registry
	pool     Availability
	config   Config
	now      func() time.Time
	logger   *logger.Logger
}

// NewMatcher creates a matcher
func NewMatcher(registry *Registry, pool Availability, config Config, now func() time.Time, log *logger.Logger) *Matcher {
	if now == nil {
		now = time.Now
	}
	config, _ = config.withDefaults()
	return &Matcher{registry: registry, pool: pool, config: config, now: now, logger: log}
}

// DispatchResult describes one dispatch round
type DispatchResult struct {
	Ride   *ride.Ride
	Round  int
	Offers []*offer.Offer

	// Pending is set when the ride still had open offers and nothing was sent
	Pending bool
}

// errRoundsExhausted is returned when a ride already used every round
var errRoundsExhausted = errors.New("dispatch rounds exhausted")

// Dispatch creates offers for up to MaxCandidates drivers that have not been
// offered this ride before. A round that finds nobody does not count against
// the round budget. The ride must be requested.
func (m *Matcher) Dispatch(_ context.Context, rideID string) (*DispatchResult, error) {
	var result *DispatchResult
	err := m.registry.withRide(rideID, func(e *entry) error {
		r := e.ride
		if r.Status != ride.StatusRequested {
			return fmt.Errorf("%w: dispatch in status %s", ride.ErrInvalidTransition, r.Status)
		}
		if len(e.pendingOffers()) > 0 {
			result = &DispatchResult{Ride: r.Clone(), Round: r.DispatchRound, Pending: true}
			return nil
		}
		if r.DispatchRound >= m.config.MaxRounds {
			return errRoundsExhausted
		}

		exclude := make([]string, 0, len(e.offered))
		for id := range e.offered {
			exclude = append(exclude, id)
		}
		candidates := m.pool.Candidates(r.Pickup.Point(), r.VehicleType, m.config.MaxCandidates, exclude...)

		result = &DispatchResult{Round: r.DispatchRound}
		if len(candidates) == 0 {
			result.Ride = r.Clone()
			return nil
		}

		now := m.now()
		round := r.DispatchRound + 1
		created := make([]*offer.Offer, 0, len(candidates))
		for _, c := range candidates {
			o := &offer.Offer{
				ID:               "offer-" + uuid.NewString(),
				RideID:           r.ID,
				DriverID:         c.DriverID,
				Round:            round,
				EstimatedFare:    r.EstimatedFare,
				PickupDistanceKM: roundKM(c.DistanceKM),
				Status:           offer.StatusPending,
				ExpiresAt:        now.Add(m.config.OfferTTL),
				CreatedAt:        now,
			}
			e.offers = append(e.offers, o)
			e.offered[c.DriverID] = struct{}{}
			created = append(created, o)
			result.Offers = append(result.Offers, o.Clone())
		}
		m.registry.indexOffers(created)

		r.DispatchRound = round
		r.UpdatedAt = now
		result.Round = round
		result.Ride = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if n := len(result.Offers); n > 0 {
		observability.OffersCreated.Add(float64(n))
		observability.DispatchRounds.WithLabelValues(strconv.Itoa(result.Round)).Inc()
		m.logger.Info("Ride dispatched",
			logger.RideID(rideID),
			logger.Int("round", result.Round),
			logger.Int("offers", n),
		)
	} else if !result.Pending {
		m.logger.Debug("No candidates for ride", logger.RideID(rideID), logger.Int("round", result.Round))
	}
	return result, nil
}

// AcceptResult carries what the caller needs to notify after the lock is released
type AcceptResult struct {
	Ride      *ride.Ride
	Offer     *offer.Offer
	Withdrawn []*offer.Offer
}

// ResolveAccept hands the ride to the offer's driver. Exactly one accept per
// ride can succeed.
func (m *Matcher) ResolveAccept(offerID, driverID string) (*AcceptResult, error) {
	var result *AcceptResult
	err := m.registry.withOffer(offerID, func(e *entry, o *offer.Offer) error {
		if err := m.checkAnswerable(e, o, driverID); err != nil {
			return err
		}

		if err := m.registry.applyLocked(e, Transition{To: ride.StatusAccepted, DriverID: driverID}); err != nil {
			return err
		}

		now := m.now()
		o.Resolve(offer.StatusAccepted, now)
		result = &AcceptResult{
			Ride:      e.ride.Clone(),
			Offer:     o.Clone(),
			Withdrawn: e.expirePending(o.ID, now),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.OffersResolved.WithLabelValues(string(offer.StatusAccepted)).Inc()
	observability.OffersResolved.WithLabelValues(string(offer.StatusExpired)).Add(float64(len(result.Withdrawn)))
	observability.MatchLatency.Observe(result.Ride.AcceptedAt.Sub(result.Ride.CreatedAt).Seconds())
	return result, nil
}

// ResolveDecline records a driver's refusal. The ride stays requested; the
// sweeper re-dispatches once no offer is pending.
func (m *Matcher) ResolveDecline(offerID, driverID string) (*offer.Offer, error) {
	var declined *offer.Offer
	err := m.registry.withOffer(offerID, func(e *entry, o *offer.Offer) error {
		if err := m.checkAnswerable(e, o, driverID); err != nil {
			return err
		}
		o.Resolve(offer.StatusDeclined, m.now())
		declined = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.OffersResolved.WithLabelValues(string(offer.StatusDeclined)).Inc()
	m.logger.Info("Offer declined", logger.OfferID(offerID), logger.DriverID(driverID), logger.RideID(declined.RideID))
	return declined, nil
}

// checkAnswerable validates that a driver may answer an offer now. An
// overdue pending offer is expired on the spot. Callers hold e.mu.
func (m *Matcher) checkAnswerable(e *entry, o *offer.Offer, driverID string) error {
	if o.DriverID != driverID {
		return fmt.Errorf("%w: %s", offer.ErrOfferNotFound, o.ID)
	}

	now := m.now()
	switch o.Status {
	case offer.StatusPending:
		if o.IsExpired(now) {
			o.Resolve(offer.StatusExpired, now)
			observability.OffersResolved.WithLabelValues(string(offer.StatusExpired)).Inc()
			return fmt.Errorf("%w: %s", offer.ErrOfferExpired, o.ID)
		}
	case offer.StatusExpired:
		return fmt.Errorf("%w: %s", offer.ErrOfferExpired, o.ID)
	default:
		return fmt.Errorf("%w: %s is %s", offer.ErrOfferAlreadyResolved, o.ID, o.Status)
	}

	if e.ride.Status != ride.StatusRequested {
		m.logger.Error("Pending offer on a ride that is no longer requested",
			logger.RideID(e.ride.ID),
			logger.OfferID(o.ID),
			logger.String("status", string(e.ride.Status)),
		)
		return fmt.Errorf("%w: ride %s is %s", offer.ErrOfferAlreadyResolved, e.ride.ID, e.ride.Status)
	}
	return nil
}

func roundKM(v float64) float64 {
	return math.Round(v*100) / 100
}
