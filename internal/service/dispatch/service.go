package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/earnings"
	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/internal/notify"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/monitoring"
)

// Service is the inbound surface of the dispatch engine. It owns the
// registry, state machine and matcher, and does every directory lookup,
// notification and archive call outside the ride lock.
type Service struct {
	config    Config
	registry  *Registry
	machine   *StateMachine
	matcher   *Matcher
	pool      Availability
	directory Directory
	archive   Archive
	notifier  notify.Notifier
	monitor   *monitoring.NewRelicApp
	now       func() time.Time
	newOTP    func() (string, error)
	logger    *logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOTPGenerator overrides the pickup code generator, for tests
func WithOTPGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newOTP = gen }
}

// WithNotifier sets where lifecycle events go
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithArchive sets where finished rides and earnings go
func WithArchive(a Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithMonitor sets the APM recorder
func WithMonitor(m *monitoring.NewRelicApp) Option {
	return func(s *Service) { s.monitor = m }
}

// NewService wires a dispatch engine around a driver pool and a directory
func NewService(config Config, pool Availability, directory Directory, log *logger.Logger, opts ...Option) *Service {
	config, replaced := config.withDefaults()
	for _, field := range replaced {
		log.Warn("Dispatch setting out of range, using default", logger.String("setting", field))
	}
	s := &Service{
		config:    config,
		pool:      pool,
		directory: directory,
		archive:   nopArchive{},
		notifier:  notify.Nop{},
		monitor:   monitoring.Disabled(),
		now:       time.Now,
		newOTP:    ride.NewOTP,
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.machine = NewStateMachine(pool, s.config.RequirePickupOTP, s.now, log)
	s.registry = NewRegistry(s.machine)
	s.matcher = NewMatcher(s.registry, pool, s.config, s.now, log)
	return s
}

// Registry exposes the ride registry
func (s *Service) Registry() *Registry { return s.registry }

// RideRequest is the input of RequestRide
type RideRequest struct {
	RiderID       string
	Pickup        ride.Location
	Destination   ride.Location
	VehicleType   driver.VehicleType
	EstimatedFare float64
	PaymentMethod ride.PaymentMethod
}

func (req *RideRequest) validate() error {
	if req.RiderID == "" {
		return fmt.Errorf("%w: rider id is required", ride.ErrInvalidRequest)
	}
	if !req.Pickup.Point().Valid() || !req.Destination.Point().Valid() {
		return ride.ErrInvalidLocation
	}
	if req.VehicleType == "" {
		req.VehicleType = driver.VehicleEconomy
	}
	if !req.VehicleType.IsValid() {
		return ride.ErrInvalidVehicleType
	}
	if req.EstimatedFare < 0 {
		return ride.ErrInvalidFare
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = ride.PaymentCash
	}
	if !req.PaymentMethod.IsValid() {
		return fmt.Errorf("%w: payment method %q", ride.ErrInvalidRequest, req.PaymentMethod)
	}
	return nil
}

// RequestRide creates a ride and runs the first dispatch round. The returned
// ride carries the pickup OTP for the rider.
func (s *Service) RequestRide(ctx context.Context, req RideRequest) (*ride.Ride, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	contact, err := s.directory.GetRiderContact(ctx, req.RiderID)
	if err != nil {
		return nil, fmt.Errorf("lookup rider %s: %w", req.RiderID, err)
	}

	otp, err := s.newOTP()
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &ride.Ride{
		ID:            "ride-" + uuid.NewString(),
		RiderID:       req.RiderID,
		Status:        ride.StatusRequested,
		VehicleType:   req.VehicleType,
		Pickup:        req.Pickup,
		Destination:   req.Destination,
		OTP:           otp,
		EstimatedFare: req.EstimatedFare,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.registry.Create(r); err != nil {
		return nil, err
	}

	observability.RidesRequested.Inc()
	s.monitor.RecordRideRequested(r.ID, string(r.VehicleType), r.EstimatedFare)
	s.logger.Info("Ride requested",
		logger.RideID(r.ID),
		logger.RiderID(r.RiderID),
		logger.String("vehicle_type", string(r.VehicleType)),
	)

	result, err := s.matcher.Dispatch(ctx, r.ID)
	if err != nil {
		// the ride exists; the sweeper retries dispatch
		s.logger.Warn("Initial dispatch failed", logger.RideID(r.ID), logger.Err(err))
		return s.registry.Get(r.ID)
	}
	s.announceOffers(context.WithoutCancel(ctx), result, &contact)
	return result.Ride, nil
}

// AcceptOutcome is returned to the driver who won the ride
type AcceptOutcome struct {
	Ride  *ride.Ride     `json:"ride"`
	Offer *offer.Offer   `json:"offer"`
	Rider *rider.Contact `json:"rider,omitempty"`
}

// AcceptOffer lets a driver take a ride. Concurrent accepts for one ride
// serialize on its lock; all but the first fail.
func (s *Service) AcceptOffer(ctx context.Context, offerID, driverID string) (*AcceptOutcome, error) {
	contact, err := s.directory.GetDriverContact(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("lookup driver %s: %w", driverID, err)
	}

	result, err := s.matcher.ResolveAccept(offerID, driverID)
	if err != nil {
		s.logger.Info("Offer accept rejected",
			logger.OfferID(offerID),
			logger.DriverID(driverID),
			logger.Err(err),
		)
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	s.logger.Info("Offer accepted",
		logger.RideID(result.Ride.ID),
		logger.OfferID(offerID),
		logger.DriverID(driverID),
		logger.Int("withdrawn", len(result.Withdrawn)),
	)
	s.monitor.RecordMatchingLatency(result.Ride.AcceptedAt.Sub(result.Ride.CreatedAt))

	s.send(ctx, notify.Rider(result.Ride.RiderID), notify.KindRideAccepted, result.Ride.ID, AcceptedPayload{
		Ride:   result.Ride,
		Driver: &contact,
	})
	s.withdrawOffers(ctx, result.Withdrawn)

	outcome := &AcceptOutcome{Ride: result.Ride.Redacted(), Offer: result.Offer}
	if rc, err := s.directory.GetRiderContact(ctx, result.Ride.RiderID); err == nil {
		outcome.Rider = &rc
	} else {
		s.logger.Warn("Failed to load rider contact", logger.RideID(result.Ride.ID), logger.Err(err))
	}
	return outcome, nil
}

// DeclineOffer records a driver's refusal
func (s *Service) DeclineOffer(_ context.Context, offerID, driverID string) (*offer.Offer, error) {
	return s.matcher.ResolveDecline(offerID, driverID)
}

// ReportDriverStatus moves an accepted ride forward on behalf of its driver.
// Only driver_on_way and rider_picked_up can be reported; the OTP is checked
// on pickup.
func (s *Service) ReportDriverStatus(ctx context.Context, rideID, driverID string, status ride.Status, otp string) (*ride.Ride, error) {
	var kind notify.Kind
	switch status {
	case ride.StatusDriverOnWay:
		kind = notify.KindDriverOnWay
	case ride.StatusRiderPickedUp:
		kind = notify.KindRiderPickedUp
	default:
		return nil, fmt.Errorf("%w: drivers cannot report %q", ride.ErrInvalidTransition, status)
	}

	var out *ride.Ride
	err := s.registry.withRide(rideID, func(e *entry) error {
		if !e.ride.IsParticipant(ride.ActorDriver, driverID) {
			return fmt.Errorf("%w: driver %s on ride %s", ride.ErrNotParticipant, driverID, rideID)
		}
		if err := s.registry.applyLocked(e, Transition{To: status, OTP: otp}); err != nil {
			return err
		}
		out = e.ride.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.send(context.WithoutCancel(ctx), notify.Rider(out.RiderID), kind, out.ID, out)
	return out, nil
}

// Completion is the optional trip data a driver reports when finishing
type Completion struct {
	FinalFare       *float64
	DistanceKM      *float64
	DurationMinutes *int
}

// CompletionOutcome is returned to the driver
type CompletionOutcome struct {
	Ride     *ride.Ride         `json:"ride"`
	Earnings earnings.Breakdown `json:"earnings"`
}

// CompleteRide finishes a ride in rider_picked_up. A second call fails with
// ErrInvalidTransition because the ride is already completed.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID string, c Completion) (*CompletionOutcome, error) {
	if c.FinalFare != nil && *c.FinalFare < 0 {
		return nil, ride.ErrInvalidFare
	}

	var out *ride.Ride
	err := s.registry.withRide(rideID, func(e *entry) error {
		if !e.ride.IsParticipant(ride.ActorDriver, driverID) {
			return fmt.Errorf("%w: driver %s on ride %s", ride.ErrNotParticipant, driverID, rideID)
		}
		err := s.registry.applyLocked(e, Transition{
			To:              ride.StatusCompleted,
			FinalFare:       c.FinalFare,
			DistanceKM:      c.DistanceKM,
			DurationMinutes: c.DurationMinutes,
		})
		if err != nil {
			return err
		}
		out = e.ride.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	split := earnings.Split(*out.FinalFare, s.config.CommissionRate)

	distance, duration := 0.0, 0
	if out.DistanceKM != nil {
		distance = *out.DistanceKM
	}
	if out.DurationMinutes != nil {
		duration = *out.DurationMinutes
	}
	s.monitor.RecordRideCompleted(out.ID, split.Gross, distance, duration)

	s.send(ctx, notify.Rider(out.RiderID), notify.KindRideCompleted, out.ID, out)
	s.finalize(ctx, out.ID)

	return &CompletionOutcome{Ride: out, Earnings: split}, nil
}

// CancelRide cancels a ride that has not picked up its rider yet. Riders may
// cancel their own rides, drivers the rides they serve; the system may cancel
// anything.
func (s *Service) CancelRide(ctx context.Context, rideID, actorID string, by ride.Actor, reason string) (*ride.Ride, error) {
	if !by.IsValid() {
		return nil, fmt.Errorf("%w: unknown actor %q", ride.ErrNotParticipant, by)
	}

	var (
		out       *ride.Ride
		withdrawn []*offer.Offer
	)
	err := s.registry.withRide(rideID, func(e *entry) error {
		if !e.ride.Status.Cancellable() {
			return fmt.Errorf("%w: ride %s is %s", ride.ErrInvalidTransition, rideID, e.ride.Status)
		}
		if !e.ride.IsParticipant(by, actorID) {
			return fmt.Errorf("%w: %s %s on ride %s", ride.ErrNotParticipant, by, actorID, rideID)
		}

		err := s.registry.applyLocked(e, Transition{To: ride.StatusCancelled, By: by, Reason: reason})
		if err != nil {
			return err
		}
		withdrawn = e.expirePending("", s.now())
		out = e.ride.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	observability.OffersResolved.WithLabelValues(string(offer.StatusExpired)).Add(float64(len(withdrawn)))
	s.logger.Info("Ride cancelled",
		logger.RideID(out.ID),
		logger.String("cancelled_by", string(out.CancelledBy)),
		logger.String("reason", out.CancellationReason),
	)

	s.announceCancellation(ctx, out)
	s.withdrawOffers(ctx, withdrawn)
	s.finalize(ctx, out.ID)
	return out, nil
}

// UpdateRideLocation records the assigned driver's position and ETA while
// the ride is underway and relays it to the rider
func (s *Service) UpdateRideLocation(ctx context.Context, rideID, driverID string, location geo.Point, etaMinutes *int) (*ride.Ride, error) {
	if !location.Valid() {
		return nil, ride.ErrInvalidLocation
	}

	var out *ride.Ride
	err := s.registry.withRide(rideID, func(e *entry) error {
		if !e.ride.IsParticipant(ride.ActorDriver, driverID) {
			return fmt.Errorf("%w: driver %s on ride %s", ride.ErrNotParticipant, driverID, rideID)
		}
		if !e.ride.Status.HasDriver() {
			return fmt.Errorf("%w: location update in status %s", ride.ErrInvalidTransition, e.ride.Status)
		}
		now := s.now()
		e.ride.CurrentLocation = &ride.Location{Latitude: location.Latitude, Longitude: location.Longitude}
		if etaMinutes != nil {
			eta := *etaMinutes
			e.ride.EstimatedETA = &eta
		}
		e.ride.LastLocationUpdate = &now
		e.ride.UpdatedAt = now
		out = e.ride.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.pool.UpdateLocation(driverID, location); err != nil && !errors.Is(err, driver.ErrDriverNotFound) {
		s.logger.Warn("Failed to move driver in pool", logger.DriverID(driverID), logger.Err(err))
	}

	s.send(context.WithoutCancel(ctx), notify.Rider(out.RiderID), notify.KindDriverLocation, out.ID, LocationPayload{
		Latitude:     location.Latitude,
		Longitude:    location.Longitude,
		EstimatedETA: out.EstimatedETA,
		At:           *out.LastLocationUpdate,
	})
	return out, nil
}

// GetRide returns a ride without its OTP
func (s *Service) GetRide(_ context.Context, rideID string) (*ride.Ride, error) {
	r, err := s.registry.Get(rideID)
	if err != nil {
		return nil, err
	}
	return r.Redacted(), nil
}

// CurrentRideForRider returns the rider's ride from request until pickup
// completes, OTP included
func (s *Service) CurrentRideForRider(_ context.Context, riderID string) (*ride.Ride, error) {
	rideID, ok := s.registry.ActiveRideForRider(riderID)
	if !ok {
		return nil, fmt.Errorf("%w: no active ride for rider %s", ride.ErrRideNotFound, riderID)
	}
	r, err := s.registry.Get(rideID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: no active ride for rider %s", ride.ErrRideNotFound, riderID)
	}
	return r, nil
}

// CurrentRideForDriver returns the ride the driver is serving
func (s *Service) CurrentRideForDriver(_ context.Context, driverID string) (*ride.Ride, error) {
	rideID, ok := s.registry.ActiveRideForDriver(driverID)
	if !ok {
		return nil, fmt.Errorf("%w: no active ride for driver %s", ride.ErrRideNotFound, driverID)
	}
	r, err := s.registry.Get(rideID)
	if err != nil {
		return nil, err
	}
	if !r.Status.HasDriver() {
		return nil, fmt.Errorf("%w: no active ride for driver %s", ride.ErrRideNotFound, driverID)
	}
	return r.Redacted(), nil
}

// PendingOffer is an offer a driver can still answer, with its ride summary
type PendingOffer struct {
	Offer       *offer.Offer       `json:"offer"`
	Pickup      ride.Location      `json:"pickup"`
	Destination ride.Location      `json:"destination"`
	VehicleType driver.VehicleType `json:"vehicle_type"`
}

// PendingOffers lists the driver's unanswered, unexpired offers, newest first
func (s *Service) PendingOffers(_ context.Context, driverID string) []PendingOffer {
	now := s.now()
	var out []PendingOffer
	for _, id := range s.registry.offerIDsForDriver(driverID) {
		_ = s.registry.withOffer(id, func(e *entry, o *offer.Offer) error {
			if o.DriverID != driverID || !o.IsPending() || o.IsExpired(now) || e.ride.Status != ride.StatusRequested {
				return nil
			}
			out = append(out, PendingOffer{
				Offer:       o.Clone(),
				Pickup:      e.ride.Pickup,
				Destination: e.ride.Destination,
				VehicleType: e.ride.VehicleType,
			})
			return nil
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Offer.CreatedAt.After(out[j].Offer.CreatedAt)
	})
	return out
}

// GoOnline makes a verified driver available for offers
func (s *Service) GoOnline(ctx context.Context, driverID string, location geo.Point) (driver.Availability, error) {
	if !location.Valid() {
		return driver.Availability{}, ride.ErrInvalidLocation
	}
	contact, err := s.directory.GetDriverContact(ctx, driverID)
	if err != nil {
		return driver.Availability{}, fmt.Errorf("lookup driver %s: %w", driverID, err)
	}
	if !contact.Verified {
		contact, err = s.refreshDriverCard(ctx, driverID)
		if err != nil {
			return driver.Availability{}, err
		}
	}
	contact.ID = driverID
	return s.pool.SetOnline(contact, location), nil
}

// refreshDriverCard rereads a card that may have been cached before the
// driver was verified
func (s *Service) refreshDriverCard(ctx context.Context, driverID string) (driver.Contact, error) {
	refresher, ok := s.directory.(driverCardRefresher)
	if !ok {
		return driver.Contact{}, driver.ErrDriverNotVerified
	}
	if err := refresher.InvalidateDriver(ctx, driverID); err != nil {
		s.logger.Warn("Failed to drop cached driver card", logger.DriverID(driverID), logger.Err(err))
		return driver.Contact{}, driver.ErrDriverNotVerified
	}
	contact, err := s.directory.GetDriverContact(ctx, driverID)
	if err != nil {
		return driver.Contact{}, fmt.Errorf("lookup driver %s: %w", driverID, err)
	}
	if !contact.Verified {
		return driver.Contact{}, driver.ErrDriverNotVerified
	}
	return contact, nil
}

// GoOffline takes a free driver out of dispatch
func (s *Service) GoOffline(_ context.Context, driverID string) error {
	return s.pool.SetOffline(driverID)
}

// UpdateDriverLocation moves an online driver
func (s *Service) UpdateDriverLocation(_ context.Context, driverID string, location geo.Point) error {
	if !location.Valid() {
		return ride.ErrInvalidLocation
	}
	return s.pool.UpdateLocation(driverID, location)
}

// DriverAvailability returns the pool record of a driver
func (s *Service) DriverAvailability(_ context.Context, driverID string) (driver.Availability, error) {
	return s.pool.Get(driverID)
}

// Demand reports rides waiting for a driver against drivers able to take
// them. Pricing uses it for demand surge.
func (s *Service) Demand() (waitingRides, availableDrivers int) {
	return s.registry.RequestedCount(), s.pool.Stats().Available
}

// ActiveRides returns how many rides are not terminal
func (s *Service) ActiveRides() int {
	return s.registry.ActiveCount()
}

var errNothingToFinalize = errors.New("nothing to finalize")

// finalize hands a terminal ride to the archive and, for completed rides,
// records driver earnings. Each handoff succeeds at most once per ride; the
// sweeper retries what failed.
func (s *Service) finalize(ctx context.Context, rideID string) {
	var (
		snapshot     *ride.Ride
		needArchive  bool
		needEarnings bool
	)
	err := s.registry.withRide(rideID, func(e *entry) error {
		if !e.ride.Status.IsTerminal() || e.busy {
			return errNothingToFinalize
		}
		needArchive = !e.archived
		needEarnings = e.ride.Status == ride.StatusCompleted && !e.earned
		if !needArchive && !needEarnings {
			return errNothingToFinalize
		}
		e.busy = true
		snapshot = e.ride.Clone()
		return nil
	})
	if err != nil {
		return
	}

	earned := false
	if needEarnings {
		split := earnings.Split(*snapshot.FinalFare, s.config.CommissionRate)
		earned = s.retry(ctx, snapshot.ID, "record earnings", func(ctx context.Context) error {
			return s.archive.RecordEarnings(ctx, snapshot.DriverID, snapshot.ID, split)
		})
	}
	archived := false
	if needArchive {
		archived = s.retry(ctx, snapshot.ID, "archive ride", func(ctx context.Context) error {
			return s.archive.ArchiveRide(ctx, snapshot)
		})
	}

	_ = s.registry.withRide(rideID, func(e *entry) error {
		e.busy = false
		e.archived = e.archived || archived
		e.earned = e.earned || earned
		return nil
	})
}

func (s *Service) retry(ctx context.Context, rideID, what string, fn func(context.Context) error) bool {
	backoff := s.config.ArchiveBackoff
	for attempt := 1; attempt <= s.config.ArchiveRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return true
		}
		s.logger.Warn("Archive handoff failed",
			logger.RideID(rideID),
			logger.String("operation", what),
			logger.Int("attempt", attempt),
			logger.Err(err),
		)
		if attempt == s.config.ArchiveRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	observability.ArchiveFailures.Inc()
	return false
}

type nopArchive struct{}

func (nopArchive) ArchiveRide(context.Context, *ride.Ride) error { return nil }

func (nopArchive) RecordEarnings(context.Context, string, string, earnings.Breakdown) error {
	return nil
}
