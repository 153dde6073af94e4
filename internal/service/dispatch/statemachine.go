package dispatch

import (
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Transition describes a requested status change and the data it carries
type Transition struct {
	To       ride.Status
	DriverID string // accepted
	OTP      string // rider_picked_up

	Reason string     // cancelled
	By     ride.Actor // cancelled

	FinalFare       *float64 // completed
	DistanceKM      *float64 // completed
	DurationMinutes *int     // completed
}

// driverClaims is the part of the pool the state machine drives
type driverClaims interface {
	MarkBusy(driverID, rideID string) error
	MarkFree(driverID, rideID string)
}

// StateMachine is the only writer of Ride.Status. Apply must be called with
// the ride's lock held; it never performs network I/O.
type StateMachine struct {
	pool       driverClaims
	requireOTP bool
	now        func() time.Time
	logger     *logger.Logger
}

// NewStateMachine creates a state machine that claims and releases drivers in pool
func NewStateMachine(pool driverClaims, requireOTP bool, now func() time.Time, log *logger.Logger) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{pool: pool, requireOTP: requireOTP, now: now, logger: log}
}

// Apply validates and performs a transition. On error the ride is unchanged.
func (sm *StateMachine) Apply(r *ride.Ride, t Transition) error {
	from := r.Status
	if !ride.CanTransition(from, t.To) {
		observability.RejectedTransitions.WithLabelValues(string(from), string(t.To)).Inc()
		return fmt.Errorf("%w: %s -> %s", ride.ErrInvalidTransition, from, t.To)
	}

	now := sm.now()
	var err error
	switch t.To {
	case ride.StatusAccepted:
		err = sm.accept(r, t, now)
	case ride.StatusDriverOnWay:
		r.DriverOnWayAt = &now
	case ride.StatusRiderPickedUp:
		err = sm.pickUp(r, t, now)
	case ride.StatusCompleted:
		sm.complete(r, t, now)
	case ride.StatusCancelled:
		sm.cancel(r, t, now)
	}
	if err != nil {
		sm.logger.Warn("Ride transition refused",
			logger.RideID(r.ID),
			logger.String("from", string(from)),
			logger.String("to", string(t.To)),
			logger.Err(err),
		)
		return err
	}

	r.Status = t.To
	r.UpdatedAt = now
	observability.RideTransitions.WithLabelValues(string(from), string(t.To)).Inc()

	sm.logger.Info("Ride transitioned",
		logger.RideID(r.ID),
		logger.DriverID(r.DriverID),
		logger.String("from", string(from)),
		logger.String("to", string(t.To)),
	)
	return nil
}

func (sm *StateMachine) accept(r *ride.Ride, t Transition, now time.Time) error {
	if t.DriverID == "" {
		return fmt.Errorf("%w: accept without driver", ride.ErrInvalidTransition)
	}
	if err := sm.pool.MarkBusy(t.DriverID, r.ID); err != nil {
		return fmt.Errorf("claim driver %s: %w", t.DriverID, err)
	}
	r.DriverID = t.DriverID
	r.AcceptedAt = &now
	return nil
}

func (sm *StateMachine) pickUp(r *ride.Ride, t Transition, now time.Time) error {
	if t.OTP == "" && sm.requireOTP {
		return fmt.Errorf("%w: otp required", ride.ErrOTPMismatch)
	}
	if t.OTP != "" && t.OTP != r.OTP {
		return ride.ErrOTPMismatch
	}
	r.PickedUpAt = &now
	r.StartedAt = &now
	return nil
}

func (sm *StateMachine) complete(r *ride.Ride, t Transition, now time.Time) {
	fare := r.EstimatedFare
	if t.FinalFare != nil {
		fare = *t.FinalFare
	}
	r.FinalFare = &fare
	if t.DistanceKM != nil {
		d := *t.DistanceKM
		r.DistanceKM = &d
	}
	if t.DurationMinutes != nil {
		m := *t.DurationMinutes
		r.DurationMinutes = &m
	}
	r.CompletedAt = &now
	sm.pool.MarkFree(r.DriverID, r.ID)
}

func (sm *StateMachine) cancel(r *ride.Ride, t Transition, now time.Time) {
	by := t.By
	if !by.IsValid() {
		by = ride.ActorSystem
	}
	reason := t.Reason
	if reason == "" {
		reason = fmt.Sprintf("Cancelled by %s", by)
	}
	r.CancelledAt = &now
	r.CancelledBy = by
	r.CancellationReason = reason
	if r.DriverID != "" {
		sm.pool.MarkFree(r.DriverID, r.ID)
	}
}
