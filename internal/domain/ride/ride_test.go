package ride

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := map[Status][]Status{
		StatusRequested:     {StatusAccepted, StatusCancelled},
		StatusAccepted:      {StatusDriverOnWay, StatusCancelled},
		StatusDriverOnWay:   {StatusRiderPickedUp, StatusCancelled},
		StatusRiderPickedUp: {StatusCompleted},
	}
	all := []Status{StatusRequested, StatusAccepted, StatusDriverOnWay, StatusRiderPickedUp, StatusCompleted, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			expected := false
			for _, ok := range legal[from] {
				if ok == to {
					expected = true
				}
			}
			assert.Equal(t, expected, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusRiderPickedUp.IsTerminal())

	assert.True(t, StatusDriverOnWay.Cancellable())
	assert.False(t, StatusRiderPickedUp.Cancellable(), "cannot cancel once the rider is in the car")
	assert.False(t, StatusCompleted.Cancellable())

	assert.True(t, StatusAccepted.HasDriver())
	assert.False(t, StatusRequested.HasDriver())
	assert.False(t, Status("assigned").IsValid())
}

func TestNewOTP(t *testing.T) {
	for i := 0; i < 500; i++ {
		otp, err := NewOTP()
		require.NoError(t, err)
		require.Len(t, otp, 4)
		n, err := strconv.Atoi(otp)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1000)
		assert.LessOrEqual(t, n, 9999)
	}
}

func TestNewOTP_ReaderFailure(t *testing.T) {
	_, err := newOTPFrom(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	fare := 120.0
	now := time.Now()
	r := &Ride{ID: "ride-1", FinalFare: &fare, AcceptedAt: &now, CurrentLocation: &Location{Latitude: 1}}

	c := r.Clone()
	*c.FinalFare = 1
	c.CurrentLocation.Latitude = 2

	assert.Equal(t, 120.0, *r.FinalFare)
	assert.Equal(t, 1.0, r.CurrentLocation.Latitude)
	assert.Equal(t, r.AcceptedAt.Unix(), c.AcceptedAt.Unix())
}

func TestRedacted(t *testing.T) {
	r := &Ride{ID: "ride-1", OTP: "4321"}
	assert.Empty(t, r.Redacted().OTP)
	assert.Equal(t, "4321", r.OTP)
}

func TestIsParticipant(t *testing.T) {
	r := &Ride{RiderID: "r1", DriverID: "d1"}
	assert.True(t, r.IsParticipant(ActorRider, "r1"))
	assert.True(t, r.IsParticipant(ActorDriver, "d1"))
	assert.True(t, r.IsParticipant(ActorSystem, ""))
	assert.False(t, r.IsParticipant(ActorRider, "d1"), "roles do not mix")
	assert.False(t, r.IsParticipant(ActorDriver, "d2"))
	assert.False(t, (&Ride{RiderID: "r1"}).IsParticipant(ActorDriver, ""))
	assert.False(t, r.IsParticipant(Actor("admin"), "r1"))
}

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrInvalidTransition, ErrRideNotFound))
}
