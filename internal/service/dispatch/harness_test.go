package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/earnings"
	"github.com/gocomet/ride-dispatch/internal/domain/offer"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
	"github.com/gocomet/ride-dispatch/internal/geo"
	"github.com/gocomet/ride-dispatch/internal/notify"
	"github.com/gocomet/ride-dispatch/internal/service/availability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

var pickup = ride.Location{Latitude: 12.9716, Longitude: 77.5946, Address: "MG Road"}

var destination = ride.Location{Latitude: 12.9352, Longitude: 77.6245, Address: "Koramangala"}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeDirectory struct {
	mu      sync.RWMutex
	riders  map[string]rider.Contact
	drivers map[string]driver.Contact
}

func (d *fakeDirectory) GetRiderContact(_ context.Context, id string) (rider.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.riders[id]
	if !ok {
		return rider.Contact{}, rider.ErrRiderNotFound
	}
	return c, nil
}

func (d *fakeDirectory) GetDriverContact(_ context.Context, id string) (driver.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.drivers[id]
	if !ok {
		return driver.Contact{}, driver.ErrDriverNotFound
	}
	return c, nil
}

type earningsCall struct {
	DriverID string
	RideID   string
	Split    earnings.Breakdown
}

type fakeArchive struct {
	mu           sync.Mutex
	archived     []string
	earnings     []earningsCall
	failArchives int
}

func (a *fakeArchive) ArchiveRide(_ context.Context, r *ride.Ride) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failArchives > 0 {
		a.failArchives--
		return errors.New("archive unavailable")
	}
	a.archived = append(a.archived, r.ID)
	return nil
}

func (a *fakeArchive) RecordEarnings(_ context.Context, driverID, rideID string, split earnings.Breakdown) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.earnings = append(a.earnings, earningsCall{DriverID: driverID, RideID: rideID, Split: split})
	return nil
}

func (a *fakeArchive) archivedCount(rideID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, id := range a.archived {
		if id == rideID {
			n++
		}
	}
	return n
}

func (a *fakeArchive) earningsFor(rideID string) []earningsCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []earningsCall
	for _, c := range a.earnings {
		if c.RideID == rideID {
			out = append(out, c)
		}
	}
	return out
}

type sentEvent struct {
	To    notify.Recipient
	Event notify.Event
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []sentEvent
	panicFor notify.Recipient
	delay    time.Duration
}

func (n *recordingNotifier) Notify(_ context.Context, to notify.Recipient, event notify.Event) error {
	time.Sleep(n.delay)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicFor.ID != "" && to == n.panicFor {
		panic("sink crashed for " + to.ID)
	}
	n.events = append(n.events, sentEvent{To: to, Event: event})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func (n *recordingNotifier) kinds(to notify.Recipient) []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Kind
	for _, e := range n.events {
		if e.To == to {
			out = append(out, e.Event.Kind)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	clock    *testClock
	pool     *availability.Pool
	dir      *fakeDirectory
	archive  *fakeArchive
	notifier *recordingNotifier
	svc      *Service
	sweeper  *Sweeper
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ArchiveRetries = 1
	cfg.ArchiveBackoff = time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := logger.NewNop()
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		t:        t,
		clock:    clock,
		pool:     availability.NewPool(log, availability.Config{}),
		dir:      &fakeDirectory{riders: map[string]rider.Contact{}, drivers: map[string]driver.Contact{}},
		archive:  &fakeArchive{},
		notifier: &recordingNotifier{},
	}
	h.svc = NewService(cfg, h.pool, h.dir, log,
		WithClock(clock.Now),
		WithArchive(h.archive),
		WithNotifier(h.notifier),
		WithOTPGenerator(func() (string, error) { return "4321", nil }),
	)
	h.sweeper = NewSweeper(h.svc, log)
	return h
}

func (h *harness) addRider(id string) {
	h.dir.mu.Lock()
	defer h.dir.mu.Unlock()
	h.dir.riders[id] = rider.Contact{ID: id, Name: "Rider " + id, Phone: "+91-100-" + id}
}

// onlineDriver registers a verified economy driver km kilometers from the pickup
func (h *harness) onlineDriver(id string, km float64) {
	h.t.Helper()
	h.dir.mu.Lock()
	h.dir.drivers[id] = driver.Contact{ID: id, Name: "Driver " + id, Rating: 4.8, VehicleType: driver.VehicleEconomy, Verified: true}
	h.dir.mu.Unlock()

	loc := geo.Point{Latitude: pickup.Latitude + km/111.19, Longitude: pickup.Longitude}
	_, err := h.svc.GoOnline(context.Background(), id, loc)
	require.NoError(h.t, err)
}

func (h *harness) request(riderID string) *ride.Ride {
	h.t.Helper()
	h.addRider(riderID)
	r, err := h.svc.RequestRide(context.Background(), RideRequest{
		RiderID:       riderID,
		Pickup:        pickup,
		Destination:   destination,
		VehicleType:   driver.VehicleEconomy,
		EstimatedFare: 150,
	})
	require.NoError(h.t, err)
	return r
}

// offerFor finds the pending offer of a ride sent to a driver
func (h *harness) offerFor(rideID, driverID string) *offer.Offer {
	h.t.Helper()
	for _, p := range h.svc.PendingOffers(context.Background(), driverID) {
		if p.Offer.RideID == rideID {
			return p.Offer
		}
	}
	h.t.Fatalf("no pending offer for ride %s and driver %s", rideID, driverID)
	return nil
}

// offers returns copies of every offer of a ride
func (h *harness) offers(rideID string) []*offer.Offer {
	h.t.Helper()
	var out []*offer.Offer
	err := h.svc.registry.withRide(rideID, func(e *entry) error {
		for _, o := range e.offers {
			out = append(out, o.Clone())
		}
		return nil
	})
	require.NoError(h.t, err)
	return out
}

func (h *harness) status(rideID string) ride.Status {
	h.t.Helper()
	r, err := h.svc.registry.Get(rideID)
	require.NoError(h.t, err)
	return r.Status
}

// accepted requests a ride with a single nearby driver and has that driver accept it
func (h *harness) accepted(riderID, driverID string) *ride.Ride {
	h.t.Helper()
	h.onlineDriver(driverID, 0.5)
	r := h.request(riderID)
	o := h.offerFor(r.ID, driverID)
	out, err := h.svc.AcceptOffer(context.Background(), o.ID, driverID)
	require.NoError(h.t, err)
	return out.Ride
}

// pickedUp drives a ride all the way to rider_picked_up
func (h *harness) pickedUp(riderID, driverID string) *ride.Ride {
	h.t.Helper()
	r := h.accepted(riderID, driverID)
	ctx := context.Background()
	_, err := h.svc.ReportDriverStatus(ctx, r.ID, driverID, ride.StatusDriverOnWay, "")
	require.NoError(h.t, err)
	out, err := h.svc.ReportDriverStatus(ctx, r.ID, driverID, ride.StatusRiderPickedUp, "4321")
	require.NoError(h.t, err)
	return out
}

func driverIDs(n int, prefix string) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return ids
}
