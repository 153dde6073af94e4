package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/internal/notify"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

func TestRequestRide_DispatchesNearestDrivers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCandidates = 2
	h := newHarness(t, cfg)
	h.onlineDriver("far", 4)
	h.onlineDriver("near", 1)
	h.onlineDriver("mid", 2)

	r := h.request("rider-1")

	assert.Equal(t, ride.StatusRequested, r.Status)
	assert.Equal(t, "4321", r.OTP)
	assert.Equal(t, 1, r.DispatchRound)

	offers := h.offers(r.ID)
	require.Len(t, offers, 2)
	got := []string{offers[0].DriverID, offers[1].DriverID}
	assert.ElementsMatch(t, []string{"near", "mid"}, got)
	for _, o := range offers {
		assert.Equal(t, offer.StatusPending, o.Status)
		assert.Equal(t, 1, o.Round)
		assert.Equal(t, 150.0, o.EstimatedFare)
		assert.Equal(t, h.clock.Now().Add(5*time.Minute), o.ExpiresAt)
	}

	assert.Equal(t, []notify.Kind{notify.KindOfferCreated}, h.notifier.kinds(notify.Driver("near")))
	assert.Empty(t, h.notifier.kinds(notify.Driver("far")))
}

func TestRequestRide_Validation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addRider("rider-1")
	ctx := context.Background()

	tests := []struct {
		name    string
		req     RideRequest
		wantErr error
	}{
		{
			name:    "missing rider",
			req:     RideRequest{Pickup: pickup, Destination: destination},
			wantErr: ride.ErrInvalidRequest,
		},
		{
			name:    "bad pickup",
			req:     RideRequest{RiderID: "rider-1", Pickup: ride.Location{Latitude: 95}, Destination: destination},
			wantErr: ride.ErrInvalidLocation,
		},
		{
			name:    "bad vehicle type",
			req:     RideRequest{RiderID: "rider-1", Pickup: pickup, Destination: destination, VehicleType: "bike"},
			wantErr: ride.ErrInvalidVehicleType,
		},
		{
			name:    "negative fare",
			req:     RideRequest{RiderID: "rider-1", Pickup: pickup, Destination: destination, EstimatedFare: -1},
			wantErr: ride.ErrInvalidFare,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RequestRide(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	r, err := h.svc.RequestRide(ctx, RideRequest{RiderID: "rider-1", Pickup: pickup, Destination: destination})
	require.NoError(t, err)
	assert.Equal(t, driver.VehicleEconomy, r.VehicleType)
	assert.Equal(t, ride.PaymentCash, r.PaymentMethod)
}

func TestRequestRide_RiderConflict(t *testing.T) {
	h := newHarness(t, testConfig())
	first := h.request("rider-1")

	h.addRider("rider-1")
	_, err := h.svc.RequestRide(context.Background(), RideRequest{
		RiderID:     "rider-1",
		Pickup:      pickup,
		Destination: destination,
	})
	assert.ErrorIs(t, err, ride.ErrActiveRideExists)

	_, err = h.svc.CancelRide(context.Background(), first.ID, "rider-1", ride.ActorRider, "")
	require.NoError(t, err)

	second := h.request("rider-1")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRequestRide_ConcurrentRequestsOneWins(t *testing.T) {
	h := newHarness(t, testConfig())
	h.addRider("rider-1")

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RequestRide(context.Background(), RideRequest{
				RiderID:     "rider-1",
				Pickup:      pickup,
				Destination: destination,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ride.ErrActiveRideExists):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, h.svc.ActiveRides())
}

func TestRequestRide_UnknownRider(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.svc.RequestRide(context.Background(), RideRequest{
		RiderID:     "ghost",
		Pickup:      pickup,
		Destination: destination,
	})
	assert.Error(t, err)
	assert.Equal(t, 0, h.svc.ActiveRides())
}

func TestAcceptOffer_ConcurrentExactlyOneWins(t *testing.T) {
	h := newHarness(t, testConfig())
	drivers := driverIDs(5, "driver-")
	for i, id := range drivers {
		h.onlineDriver(id, float64(i+1))
	}
	r := h.request("rider-1")

	offerIDs := make(map[string]string, len(drivers))
	for _, id := range drivers {
		offerIDs[id] = h.offerFor(r.ID, id).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	start := make(chan struct{})
	for _, id := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			<-start
			_, err := h.svc.AcceptOffer(context.Background(), offerIDs[driverID], driverID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, driverID)
				return
			}
			if errors.Is(err, offer.ErrOfferAlreadyResolved) || errors.Is(err, offer.ErrOfferExpired) {
				losers++
			}
		}(id)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, len(drivers)-1, losers)

	got, err := h.svc.GetRide(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, got.Status)
	assert.Equal(t, winners[0], got.DriverID)

	busy := 0
	for _, id := range drivers {
		a, err := h.pool.Get(id)
		require.NoError(t, err)
		if a.Busy {
			busy++
			assert.Equal(t, r.ID, a.CurrentRideID)
		}
	}
	assert.Equal(t, 1, busy)
}

// Three drivers are offered the ride, the middle one accepts.
func TestAcceptOffer_SiblingsExpire(t *testing.T) {
	h := newHarness(t, testConfig())
	h.onlineDriver("7", 1)
	h.onlineDriver("8", 2)
	h.onlineDriver("9", 3)
	r := h.request("42")

	o8 := h.offerFor(r.ID, "8")
	out, err := h.svc.AcceptOffer(context.Background(), o8.ID, "8")
	require.NoError(t, err)

	assert.Equal(t, ride.StatusAccepted, out.Ride.Status)
	assert.Equal(t, "8", out.Ride.DriverID)
	assert.Empty(t, out.Ride.OTP)
	assert.Equal(t, offer.StatusAccepted, out.Offer.Status)
	require.NotNil(t, out.Rider)
	assert.Equal(t, "42", out.Rider.ID)

	for _, o := range h.offers(r.ID) {
		switch o.DriverID {
		case "8":
			assert.Equal(t, offer.StatusAccepted, o.Status)
		default:
			assert.Equal(t, offer.StatusExpired, o.Status, "offer for driver %s", o.DriverID)
		}
	}

	assert.Contains(t, h.notifier.kinds(notify.Driver("7")), notify.KindOfferExpired)
	assert.Contains(t, h.notifier.kinds(notify.Driver("9")), notify.KindOfferExpired)
	assert.Contains(t, h.notifier.kinds(notify.Rider("42")), notify.KindRideAccepted)
	assert.Empty(t, h.svc.PendingOffers(context.Background(), "7"))

	for _, c := range h.pool.Candidates(pickup.Point(), "", 10) {
		assert.NotEqual(t, "8", c.DriverID)
	}

	current, err := h.svc.CurrentRideForDriver(context.Background(), "8")
	require.NoError(t, err)
	assert.Equal(t, r.ID, current.ID)
}

func TestAcceptOffer_Errors(t *testing.T) {
	h := newHarness(t, testConfig())
	h.onlineDriver("d1", 1)
	h.onlineDriver("d2", 2)
	r := h.request("rider-1")
	ctx := context.Background()
	o1 := h.offerFor(r.ID, "d1")

	_, err := h.svc.AcceptOffer(ctx, "offer-missing", "d1")
	assert.ErrorIs(t, err, offer.ErrOfferNotFound)

	_, err = h.svc.AcceptOffer(ctx, o1.ID, "d2")
	assert.ErrorIs(t, err, offer.ErrOfferNotFound)

	_, err = h.svc.DeclineOffer(ctx, o1.ID, "d1")
	require.NoError(t, err)

	_, err = h.svc.AcceptOffer(ctx, o1.ID, "d1")
	assert.ErrorIs(t, err, offer.ErrOfferAlreadyResolved)

	h.clock.Advance(5 * time.Minute)
	o2 := h.offers(r.ID)
	var pendingID string
	for _, o := range o2 {
		if o.DriverID == "d2" {
			pendingID = o.ID
		}
	}
	_, err = h.svc.AcceptOffer(ctx, pendingID, "d2")
	assert.ErrorIs(t, err, offer.ErrOfferExpired)
	assert.Equal(t, ride.StatusRequested, h.status(r.ID))
}

func TestAcceptOffer_DriverAlreadyBusy(t *testing.T) {
	h := newHarness(t, testConfig())
	h.onlineDriver("d1", 1)
	first := h.request("rider-1")
	second := h.request("rider-2")

	o1 := h.offerFor(first.ID, "d1")
	o2 := h.offerFor(second.ID, "d1")

	_, err := h.svc.AcceptOffer(context.Background(), o1.ID, "d1")
	require.NoError(t, err)

	_, err = h.svc.AcceptOffer(context.Background(), o2.ID, "d1")
	assert.ErrorIs(t, err, driver.ErrDriverAlreadyBusy)
	assert.Equal(t, ride.StatusRequested, h.status(second.ID))
}

func TestStatusProgression(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.accepted("rider-1", "d1")
	ctx := context.Background()

	_, err := h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusCompleted, "")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)

	_, err = h.svc.ReportDriverStatus(ctx, r.ID, "someone-else", ride.StatusDriverOnWay, "")
	assert.ErrorIs(t, err, ride.ErrNotParticipant)

	onWay, err := h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusDriverOnWay, "")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusDriverOnWay, onWay.Status)
	assert.NotNil(t, onWay.DriverOnWayAt)

	_, err = h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusRiderPickedUp, "0000")
	assert.ErrorIs(t, err, ride.ErrOTPMismatch)
	assert.Equal(t, ride.StatusDriverOnWay, h.status(r.ID))

	picked, err := h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusRiderPickedUp, "4321")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusRiderPickedUp, picked.Status)
	assert.NotNil(t, picked.PickedUpAt)

	assert.Equal(t, []notify.Kind{
		notify.KindRideAccepted,
		notify.KindDriverOnWay,
		notify.KindRiderPickedUp,
	}, h.notifier.kinds(notify.Rider("rider-1")))
}

func TestPickup_RequiredOTP(t *testing.T) {
	cfg := testConfig()
	cfg.RequirePickupOTP = true
	h := newHarness(t, cfg)
	r := h.accepted("rider-1", "d1")
	ctx := context.Background()

	_, err := h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusDriverOnWay, "")
	require.NoError(t, err)

	_, err = h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusRiderPickedUp, "")
	assert.ErrorIs(t, err, ride.ErrOTPMismatch)

	_, err = h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusRiderPickedUp, "4321")
	assert.NoError(t, err)
}

func TestCompleteRide_EarningsAndRelease(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.pickedUp("rider-1", "d1")

	fare := 20.0
	out, err := h.svc.CompleteRide(context.Background(), r.ID, "d1", Completion{FinalFare: &fare})
	require.NoError(t, err)

	assert.Equal(t, ride.StatusCompleted, out.Ride.Status)
	require.NotNil(t, out.Ride.FinalFare)
	assert.Equal(t, 20.0, *out.Ride.FinalFare)
	assert.InDelta(t, 20.0, out.Earnings.Gross, 0.001)
	assert.InDelta(t, 17.0, out.Earnings.Net, 0.001)
	assert.InDelta(t, 3.0, out.Earnings.Commission, 0.001)

	calls := h.archive.earningsFor(r.ID)
	require.Len(t, calls, 1)
	assert.Equal(t, "d1", calls[0].DriverID)
	assert.InDelta(t, 17.0, calls[0].Split.Net, 0.001)
	assert.Equal(t, 1, h.archive.archivedCount(r.ID))

	a, err := h.pool.Get("d1")
	require.NoError(t, err)
	assert.False(t, a.Busy)
	assert.Empty(t, a.CurrentRideID)

	_, err = h.svc.CurrentRideForDriver(context.Background(), "d1")
	assert.ErrorIs(t, err, ride.ErrRideNotFound)
	_, err = h.svc.CurrentRideForRider(context.Background(), "rider-1")
	assert.ErrorIs(t, err, ride.ErrRideNotFound)
}

func TestCompleteRide_DefaultsToEstimate(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.pickedUp("rider-1", "d1")

	distance, minutes := 6.4, 22
	out, err := h.svc.CompleteRide(context.Background(), r.ID, "d1", Completion{
		DistanceKM:      &distance,
		DurationMinutes: &minutes,
	})
	require.NoError(t, err)
	assert.Equal(t, 150.0, *out.Ride.FinalFare)
	assert.Equal(t, 6.4, *out.Ride.DistanceKM)
	assert.Equal(t, 22, *out.Ride.DurationMinutes)
}

func TestCompleteRide_Idempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.pickedUp("rider-1", "d1")
	ctx := context.Background()

	fare := 20.0
	_, err := h.svc.CompleteRide(ctx, r.ID, "d1", Completion{FinalFare: &fare})
	require.NoError(t, err)

	_, err = h.svc.CompleteRide(ctx, r.ID, "d1", Completion{FinalFare: &fare})
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)

	h.sweeper.SweepOnce(ctx)
	assert.Len(t, h.archive.earningsFor(r.ID), 1)
	assert.Equal(t, 1, h.archive.archivedCount(r.ID))
}

func TestCompleteRide_Rejections(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.accepted("rider-1", "d1")
	ctx := context.Background()

	_, err := h.svc.CompleteRide(ctx, r.ID, "d1", Completion{})
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)

	negative := -5.0
	_, err = h.svc.CompleteRide(ctx, r.ID, "d1", Completion{FinalFare: &negative})
	assert.ErrorIs(t, err, ride.ErrInvalidFare)

	_, err = h.svc.CompleteRide(ctx, r.ID, "d2", Completion{})
	assert.ErrorIs(t, err, ride.ErrNotParticipant)
	assert.Equal(t, ride.StatusAccepted, h.status(r.ID))
}

func TestCancelRide_ByRiderWhileRequested(t *testing.T) {
	h := newHarness(t, testConfig())
	h.onlineDriver("d1", 1)
	h.onlineDriver("d2", 2)
	r := h.request("rider-1")
	ctx := context.Background()

	_, err := h.svc.CancelRide(ctx, r.ID, "rider-2", ride.ActorRider, "")
	assert.ErrorIs(t, err, ride.ErrNotParticipant)

	out, err := h.svc.CancelRide(ctx, r.ID, "rider-1", ride.ActorRider, "")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, out.Status)
	assert.Equal(t, ride.ActorRider, out.CancelledBy)
	assert.Equal(t, "Cancelled by rider", out.CancellationReason)

	for _, o := range h.offers(r.ID) {
		assert.Equal(t, offer.StatusExpired, o.Status)
	}
	assert.Contains(t, h.notifier.kinds(notify.Driver("d1")), notify.KindOfferExpired)
	assert.NotContains(t, h.notifier.kinds(notify.Rider("rider-1")), notify.KindRideCancelled)
	assert.Equal(t, 1, h.archive.archivedCount(r.ID))
	assert.Empty(t, h.archive.earningsFor(r.ID))
}

func TestCancelRide_ByDriverFreesDriver(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.accepted("rider-1", "d1")

	out, err := h.svc.CancelRide(context.Background(), r.ID, "d1", ride.ActorDriver, "flat tyre")
	require.NoError(t, err)
	assert.Equal(t, "flat tyre", out.CancellationReason)
	assert.Equal(t, "d1", out.DriverID)

	a, err := h.pool.Get("d1")
	require.NoError(t, err)
	assert.False(t, a.Busy)
	assert.Contains(t, h.notifier.kinds(notify.Rider("rider-1")), notify.KindRideCancelled)
	assert.NotContains(t, h.notifier.kinds(notify.Driver("d1")), notify.KindRideCancelled)
}

func TestCancelRide_AfterPickupFails(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.pickedUp("rider-1", "d1")
	ctx := context.Background()

	_, err := h.svc.CancelRide(ctx, r.ID, "rider-1", ride.ActorRider, "")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
	_, err = h.svc.CancelRide(ctx, r.ID, "d1", ride.ActorDriver, "")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
	_, err = h.svc.CancelRide(ctx, r.ID, "", ride.ActorSystem, "")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
	_, err = h.svc.CancelRide(ctx, r.ID, "rider-9", ride.ActorRider, "")
	assert.ErrorIs(t, err, ride.ErrInvalidTransition, "status is checked before the caller")

	assert.Equal(t, ride.StatusRiderPickedUp, h.status(r.ID))
	a, err := h.pool.Get("d1")
	require.NoError(t, err)
	assert.True(t, a.Busy)
}

func TestAcceptRacesCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, testConfig())
		h.onlineDriver("d1", 1)
		r := h.request("rider-1")
		o := h.offerFor(r.ID, "d1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.svc.AcceptOffer(context.Background(), o.ID, "d1")
		}()
		go func() {
			defer wg.Done()
			_, _ = h.svc.CancelRide(context.Background(), r.ID, "rider-1", ride.ActorRider, "")
		}()
		wg.Wait()

		require.Equal(t, ride.StatusCancelled, h.status(r.ID))
		a, err := h.pool.Get("d1")
		require.NoError(t, err)
		assert.False(t, a.Busy, "driver must be released whichever side won")
	}
}

func TestBusyDriverExcludedUntilFreed(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.pickedUp("rider-1", "d1")

	other := h.request("rider-2")
	assert.Empty(t, h.offers(other.ID))
	assert.Empty(t, h.pool.Candidates(pickup.Point(), driver.VehicleEconomy, 5))

	_, err := h.svc.CompleteRide(context.Background(), r.ID, "d1", Completion{})
	require.NoError(t, err)

	candidates := h.pool.Candidates(pickup.Point(), driver.VehicleEconomy, 5)
	require.Len(t, candidates, 1)
	assert.Equal(t, "d1", candidates[0].DriverID)
}

func TestIllegalTransitionsLeaveRideUnchanged(t *testing.T) {
	all := []ride.Status{
		ride.StatusRequested,
		ride.StatusAccepted,
		ride.StatusDriverOnWay,
		ride.StatusRiderPickedUp,
		ride.StatusCompleted,
		ride.StatusCancelled,
	}

	// setup drives a fresh ride to the given status
	setup := func(t *testing.T, status ride.Status) (*harness, string) {
		h := newHarness(t, testConfig())
		ctx := context.Background()
		switch status {
		case ride.StatusRequested:
			return h, h.request("rider-1").ID
		case ride.StatusAccepted:
			return h, h.accepted("rider-1", "d1").ID
		case ride.StatusDriverOnWay:
			r := h.accepted("rider-1", "d1")
			_, err := h.svc.ReportDriverStatus(ctx, r.ID, "d1", ride.StatusDriverOnWay, "")
			require.NoError(t, err)
			return h, r.ID
		case ride.StatusRiderPickedUp:
			return h, h.pickedUp("rider-1", "d1").ID
		case ride.StatusCompleted:
			r := h.pickedUp("rider-1", "d1")
			_, err := h.svc.CompleteRide(ctx, r.ID, "d1", Completion{})
			require.NoError(t, err)
			return h, r.ID
		default:
			r := h.request("rider-1")
			_, err := h.svc.CancelRide(ctx, r.ID, "rider-1", ride.ActorRider, "")
			require.NoError(t, err)
			return h, r.ID
		}
	}

	for _, from := range all {
		for _, to := range all {
			if ride.CanTransition(from, to) {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				h, id := setup(t, from)
				before, err := h.svc.registry.Get(id)
				require.NoError(t, err)

				_, err = h.svc.registry.Transition(id, Transition{To: to, DriverID: "d1", By: ride.ActorSystem})
				assert.ErrorIs(t, err, ride.ErrInvalidTransition)

				after, err := h.svc.registry.Get(id)
				require.NoError(t, err)
				assert.Equal(t, before, after)
			})
		}
	}
}

func TestUpdateRideLocation(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.accepted("rider-1", "d1")
	ctx := context.Background()
	loc := geo.Point{Latitude: 12.96, Longitude: 77.60}
	eta := 4

	out, err := h.svc.UpdateRideLocation(ctx, r.ID, "d1", loc, &eta)
	require.NoError(t, err)
	require.NotNil(t, out.CurrentLocation)
	assert.Equal(t, 12.96, out.CurrentLocation.Latitude)
	assert.Equal(t, 4, *out.EstimatedETA)
	assert.NotNil(t, out.LastLocationUpdate)

	a, err := h.pool.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, loc, a.Location)
	assert.Contains(t, h.notifier.kinds(notify.Rider("rider-1")), notify.KindDriverLocation)

	_, err = h.svc.UpdateRideLocation(ctx, r.ID, "d2", loc, nil)
	assert.ErrorIs(t, err, ride.ErrNotParticipant)
	_, err = h.svc.UpdateRideLocation(ctx, r.ID, "d1", geo.Point{Latitude: 200}, nil)
	assert.ErrorIs(t, err, ride.ErrInvalidLocation)
}

func TestRideQueries(t *testing.T) {
	h := newHarness(t, testConfig())
	h.onlineDriver("d1", 1)
	r := h.request("rider-1")
	ctx := context.Background()

	got, err := h.svc.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.OTP)

	current, err := h.svc.CurrentRideForRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, "4321", current.OTP)

	_, err = h.svc.CurrentRideForDriver(ctx, "d1")
	assert.ErrorIs(t, err, ride.ErrRideNotFound)

	pending := h.svc.PendingOffers(ctx, "d1")
	require.Len(t, pending, 1)
	assert.Equal(t, r.ID, pending[0].Offer.RideID)
	assert.Equal(t, pickup, pending[0].Pickup)

	_, err = h.svc.GetRide(ctx, "ride-missing")
	assert.ErrorIs(t, err, ride.ErrRideNotFound)

	waiting, available := h.svc.Demand()
	assert.Equal(t, 1, waiting)
	assert.Equal(t, 1, available)
}

func TestDriverAvailability(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.dir.drivers["unverified"] = driver.Contact{ID: "unverified", VehicleType: driver.VehicleEconomy}
	_, err := h.svc.GoOnline(ctx, "unverified", pickup.Point())
	assert.ErrorIs(t, err, driver.ErrDriverNotVerified)

	_, err = h.svc.GoOnline(ctx, "stranger", pickup.Point())
	assert.ErrorIs(t, err, driver.ErrDriverNotFound)

	r := h.accepted("rider-1", "d1")
	assert.ErrorIs(t, h.svc.GoOffline(ctx, "d1"), driver.ErrDriverAlreadyBusy)

	a, err := h.svc.DriverAvailability(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusBusy, a.Status())
	assert.Equal(t, r.ID, a.CurrentRideID)

	_, err = h.svc.CancelRide(ctx, r.ID, "rider-1", ride.ActorRider, "")
	require.NoError(t, err)
	require.NoError(t, h.svc.GoOffline(ctx, "d1"))

	_, err = h.svc.DriverAvailability(ctx, "d1")
	assert.ErrorIs(t, err, driver.ErrDriverNotFound)
	assert.ErrorIs(t, h.svc.UpdateDriverLocation(ctx, "d1", pickup.Point()), driver.ErrDriverNotFound)
}

func TestRequestRide_SlowSinkDoesNotDelayRequester(t *testing.T) {
	h := newHarness(t, testConfig())
	for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		h.onlineDriver(id, float64(i+1))
	}
	sink := &recordingNotifier{delay: 200 * time.Millisecond}
	queue := notify.NewQueue(sink, 16, logger.NewNop())
	h.svc.notifier = queue

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	start := time.Now()
	r := h.request("rider-1")
	elapsed := time.Since(start)

	assert.Equal(t, 1, r.DispatchRound)
	assert.Less(t, elapsed, 200*time.Millisecond, "offers are handed off, not delivered inline")
	require.Eventually(t, func() bool { return sink.count() == 5 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []notify.Kind{notify.KindOfferCreated}, sink.kinds(notify.Driver("d5")))
}

// staleCardDirectory serves a cached card until it is invalidated
type staleCardDirectory struct {
	*fakeDirectory
	cached      map[string]driver.Contact
	invalidated []string
}

func (d *staleCardDirectory) GetDriverContact(ctx context.Context, id string) (driver.Contact, error) {
	if c, ok := d.cached[id]; ok {
		return c, nil
	}
	return d.fakeDirectory.GetDriverContact(ctx, id)
}

func (d *staleCardDirectory) InvalidateDriver(_ context.Context, id string) error {
	delete(d.cached, id)
	d.invalidated = append(d.invalidated, id)
	return nil
}

func TestGoOnline_RefreshesStaleUnverifiedCard(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	dir := &staleCardDirectory{
		fakeDirectory: h.dir,
		cached: map[string]driver.Contact{
			"fresh":   {ID: "fresh", VehicleType: driver.VehicleEconomy},
			"pending": {ID: "pending", VehicleType: driver.VehicleEconomy},
		},
	}
	h.svc.directory = dir
	h.dir.drivers["fresh"] = driver.Contact{ID: "fresh", VehicleType: driver.VehicleEconomy, Verified: true}
	h.dir.drivers["pending"] = driver.Contact{ID: "pending", VehicleType: driver.VehicleEconomy}

	a, err := h.svc.GoOnline(ctx, "fresh", pickup.Point())
	require.NoError(t, err)
	assert.Equal(t, driver.StatusOnline, a.Status())

	_, err = h.svc.GoOnline(ctx, "pending", pickup.Point())
	assert.ErrorIs(t, err, driver.ErrDriverNotVerified)
	assert.Equal(t, []string{"fresh", "pending"}, dir.invalidated)
}
