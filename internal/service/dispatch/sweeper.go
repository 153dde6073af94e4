package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

const (
	reasonRequestTimedOut = "request timed out"
	reasonNoDrivers       = "no drivers available"
)

// SweepResult counts what one sweep did
type SweepResult struct {
	OffersExpired     int `json:"offers_expired"`
	RidesTimedOut     int `json:"rides_timed_out"`
	RidesExhausted    int `json:"rides_exhausted"`
	RidesRedispatched int `json:"rides_redispatched"`
	RidesFinalized    int `json:"rides_finalized"`
	RidesPruned       int `json:"rides_pruned"`
	Errors            int `json:"errors"`
}

func (r SweepResult) empty() bool {
	return r == SweepResult{}
}

// Sweeper expires overdue offers, times out stale requests, re-dispatches
// rides whose offers all went unanswered and forgets finished rides once
// they are archived and past retention.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *logger.Logger
}

// NewSweeper creates a sweeper for the service
func NewSweeper(svc *Service, log *logger.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: svc.config.SweepInterval, logger: log}
}

// Run sweeps every interval until ctx is done
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("Sweeper started", logger.Duration("interval", sw.interval))
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			sw.SweepOnce(ctx)
		}
	}
}

// SweepOnce processes every ride once. Rides are handled one at a time under
// their own lock; a failure on one ride is logged and the sweep moves on.
func (sw *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	start := time.Now()
	var result SweepResult

	for _, id := range sw.svc.registry.rideIDs() {
		if ctx.Err() != nil {
			break
		}
		sw.sweepRide(ctx, id, &result)
	}

	observability.SweepDuration.Observe(time.Since(start).Seconds())
	if !result.empty() {
		sw.logger.Info("Sweep finished",
			logger.Int("offers_expired", result.OffersExpired),
			logger.Int("rides_timed_out", result.RidesTimedOut),
			logger.Int("rides_exhausted", result.RidesExhausted),
			logger.Int("rides_redispatched", result.RidesRedispatched),
			logger.Int("rides_finalized", result.RidesFinalized),
			logger.Int("rides_pruned", result.RidesPruned),
			logger.Int("errors", result.Errors),
			logger.Duration("duration", time.Since(start)),
		)
	}
	return result
}

type sweepAction int

const (
	actionNone sweepAction = iota
	actionRedispatch
	actionCancelled
	actionFinalize
)

func (sw *Sweeper) sweepRide(ctx context.Context, rideID string, result *SweepResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result.Errors++
			observability.SweepErrors.Inc()
			sw.logger.Error("Sweep panicked on ride",
				logger.RideID(rideID),
				logger.Any("panic", rec),
			)
		}
	}()

	var (
		action    sweepAction
		expired   []*offer.Offer
		cancelled *ride.Ride
	)
	err := sw.svc.registry.withRide(rideID, func(e *entry) error {
		now := sw.svc.now()
		r := e.ride

		if r.Status.IsTerminal() {
			pendingHandoff := !e.archived || (r.Status == ride.StatusCompleted && !e.earned)
			switch {
			case e.busy:
			case pendingHandoff:
				action = actionFinalize
			default:
				if at, ok := r.TerminalAt(); ok && now.Sub(at) >= sw.svc.config.TerminalRetention {
					sw.svc.registry.prune(e)
					result.RidesPruned++
				}
			}
			return nil
		}

		if r.Status != ride.StatusRequested {
			return nil
		}

		for _, o := range e.offers {
			if o.IsPending() && o.IsExpired(now) {
				o.Resolve(offer.StatusExpired, now)
				expired = append(expired, o.Clone())
			}
		}
		if len(e.pendingOffers()) > 0 {
			return nil
		}

		var reason string
		switch {
		case now.Sub(r.CreatedAt) >= sw.svc.config.RequestTimeout:
			reason = reasonRequestTimedOut
		case r.DispatchRound >= sw.svc.config.MaxRounds:
			reason = reasonNoDrivers
		default:
			action = actionRedispatch
			return nil
		}

		if err := sw.svc.registry.applyLocked(e, Transition{To: ride.StatusCancelled, By: ride.ActorSystem, Reason: reason}); err != nil {
			return fmt.Errorf("cancel stale ride: %w", err)
		}
		if reason == reasonRequestTimedOut {
			result.RidesTimedOut++
		} else {
			result.RidesExhausted++
			observability.DispatchExhausted.Inc()
		}
		action = actionCancelled
		cancelled = r.Redacted()
		return nil
	})

	result.OffersExpired += len(expired)
	observability.OffersResolved.WithLabelValues(string(offer.StatusExpired)).Add(float64(len(expired)))
	sw.svc.withdrawOffers(ctx, expired)

	if err != nil {
		if !errors.Is(err, ride.ErrRideNotFound) {
			result.Errors++
			observability.SweepErrors.Inc()
			sw.logger.Error("Sweep failed on ride", logger.RideID(rideID), logger.Err(err))
		}
		return
	}

	switch action {
	case actionRedispatch:
		dispatched, err := sw.svc.matcher.Dispatch(ctx, rideID)
		if err != nil {
			if !errors.Is(err, errRoundsExhausted) && !errors.Is(err, ride.ErrInvalidTransition) {
				result.Errors++
				sw.logger.Warn("Re-dispatch failed", logger.RideID(rideID), logger.Err(err))
			}
			return
		}
		if len(dispatched.Offers) > 0 {
			result.RidesRedispatched++
			sw.svc.announceOffers(ctx, dispatched, nil)
		}

	case actionCancelled:
		sw.logger.Info("Ride cancelled by sweeper",
			logger.RideID(cancelled.ID),
			logger.String("reason", cancelled.CancellationReason),
			logger.Int("rounds", cancelled.DispatchRound),
		)
		sw.svc.announceCancellation(ctx, cancelled)
		sw.svc.finalize(ctx, rideID)
		result.RidesFinalized++

	case actionFinalize:
		sw.svc.finalize(ctx, rideID)
		result.RidesFinalized++
	}
}
