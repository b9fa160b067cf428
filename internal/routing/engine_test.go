package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

type stubRouter struct {
	mu      sync.Mutex
	origins []models.Coord
	gate    chan struct{} // when set, each call blocks until a receive
	err     error
}

func (s *stubRouter) Route(ctx context.Context, origin, dest models.Coord) (models.Route, error) {
	s.mu.Lock()
	s.origins = append(s.origins, origin)
	gate := s.gate
	err := s.err
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return models.Route{}, err
	}
	return models.Route{
		Origin:          origin,
		Destination:     dest,
		DistanceMeters:  100,
		DurationSeconds: 60,
		ComputedAt:      time.Now(),
	}, nil
}

func (s *stubRouter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.origins)
}

func (s *stubRouter) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func alwaysActive(context.Context, string, DestKind) bool { return true }

func testEngine(r Router, b bus.Bus, check func(context.Context, string, DestKind) bool) *Engine {
	return NewEngine(r, b, slog.New(slog.NewTextHandler(io.Discard, nil)), 10, check)
}

func activeOrder() *models.Order {
	return &models.Order{
		ID:         "o1",
		CustomerID: "c1",
		DriverID:   "d1",
		Status:     models.StatusAccepted,
		Pickup:     models.Coord{Lat: 10, Lon: 10},
		Dropoff:    models.Coord{Lat: 20, Lon: 20},
	}
}

func driverAt(lat float64) models.LocationSample {
	return models.LocationSample{DriverID: "d1", Loc: models.Coord{Lat: lat, Lon: 0}, CapturedAt: time.Now()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTriggerCoalescesWhileInFlight(t *testing.T) {
	r := &stubRouter{gate: make(chan struct{})}
	e := testEngine(r, bus.NewMemoryBus(), alwaysActive)
	o := activeOrder()

	e.Trigger(o, driverAt(1))
	waitFor(t, func() bool { return r.callCount() == 1 })

	// these arrive while the first call is out; only the newest survives
	e.Trigger(o, driverAt(2))
	e.Trigger(o, driverAt(3))
	e.Trigger(o, driverAt(4))

	r.gate <- struct{}{} // release first call
	r.gate <- struct{}{} // release the queued call

	waitFor(t, func() bool {
		route, ok := e.LastRoute("o1", DestPickup)
		return ok && route.Origin.Lat == 4
	})
	if got := r.callCount(); got != 2 {
		t.Fatalf("router called %d times, want 2 (coalesced)", got)
	}
}

func TestApplyDiscardsSupersededResult(t *testing.T) {
	b := bus.NewMemoryBus()
	e := testEngine(&stubRouter{}, b, alwaysActive)
	o := activeOrder()
	key := flightKey(o.ID, DestPickup)

	var mu sync.Mutex
	published := 0
	cancel, _ := b.Subscribe(bus.OrderTopic(o.ID), func(topic string, ev bus.Event) {
		mu.Lock()
		published++
		mu.Unlock()
	})
	defer cancel()

	newer := models.Route{Origin: models.Coord{Lat: 9}, ComputedAt: time.Now()}
	e.mu.Lock()
	e.flights[key] = &flightState{applied: 5, route: &newer}
	e.mu.Unlock()

	// a slow response from an older recompute lands after seq 5
	e.apply(key, 3, &trigger{order: o, kind: DestPickup}, models.Route{Origin: models.Coord{Lat: 1}})

	route, ok := e.LastRoute(o.ID, DestPickup)
	if !ok || route.Origin.Lat != 9 {
		t.Fatalf("superseded result overwrote newer route: %+v", route)
	}
	mu.Lock()
	publishedSoFar := published
	mu.Unlock()
	if publishedSoFar != 0 {
		t.Fatalf("superseded result was published")
	}

	// the next seq applies normally
	e.apply(key, 6, &trigger{order: o, kind: DestPickup}, models.Route{Origin: models.Coord{Lat: 2}})
	route, _ = e.LastRoute(o.ID, DestPickup)
	if route.Origin.Lat != 2 {
		t.Fatalf("fresh result not applied: %+v", route)
	}
}

func TestFailedRecomputeMarksRouteStale(t *testing.T) {
	r := &stubRouter{}
	e := testEngine(r, bus.NewMemoryBus(), alwaysActive)
	o := activeOrder()

	e.Trigger(o, driverAt(1))
	waitFor(t, func() bool {
		_, ok := e.LastRoute("o1", DestPickup)
		return ok
	})

	r.setErr(errors.New("osrm down"))
	e.Trigger(o, driverAt(2))
	waitFor(t, func() bool {
		route, ok := e.LastRoute("o1", DestPickup)
		return ok && route.Stale
	})

	route, _ := e.LastRoute("o1", DestPickup)
	if route.Origin.Lat != 1 {
		t.Fatalf("stale marking replaced the route: %+v", route)
	}
}

func TestInactiveLegResultDiscarded(t *testing.T) {
	e := testEngine(&stubRouter{}, bus.NewMemoryBus(), func(context.Context, string, DestKind) bool { return false })
	o := activeOrder()

	e.Trigger(o, driverAt(1))
	time.Sleep(50 * time.Millisecond)
	if _, ok := e.LastRoute("o1", DestPickup); ok {
		t.Fatal("route applied for a leg no longer active")
	}
}

func TestDestFor(t *testing.T) {
	o := activeOrder()

	o.Status = models.StatusAccepted
	if dest, kind, ok := DestFor(o); !ok || kind != DestPickup || dest != o.Pickup {
		t.Fatalf("accepted: %v %v %v", dest, kind, ok)
	}
	o.Status = models.StatusPickedUp
	if _, kind, ok := DestFor(o); !ok || kind != DestPickup {
		t.Fatalf("picked_up should route to pickup, got %v", kind)
	}
	o.Status = models.StatusInTransit
	if dest, kind, ok := DestFor(o); !ok || kind != DestDropoff || dest != o.Dropoff {
		t.Fatalf("in_transit: %v %v %v", dest, kind, ok)
	}
	for _, st := range []models.OrderStatus{models.StatusPending, models.StatusCompleted, models.StatusCancelled, models.StatusExpired} {
		o.Status = st
		if _, _, ok := DestFor(o); ok {
			t.Errorf("%s should not route", st)
		}
	}
}

func TestForgetDropsState(t *testing.T) {
	e := testEngine(&stubRouter{}, bus.NewMemoryBus(), alwaysActive)
	o := activeOrder()
	e.Trigger(o, driverAt(1))
	waitFor(t, func() bool {
		_, ok := e.LastRoute("o1", DestPickup)
		return ok
	})
	e.Forget("o1")
	if _, ok := e.LastRoute("o1", DestPickup); ok {
		t.Fatal("route survived Forget")
	}
}

func TestNilRouterServesEstimate(t *testing.T) {
	e := testEngine(nil, bus.NewMemoryBus(), alwaysActive)
	o := activeOrder()

	e.Trigger(o, driverAt(1))
	waitFor(t, func() bool {
		_, ok := e.LastRoute("o1", DestPickup)
		return ok
	})

	route, _ := e.LastRoute("o1", DestPickup)
	if !route.Stale {
		t.Fatalf("estimate should be flagged stale: %+v", route)
	}
	if route.DistanceMeters <= 0 || route.DurationSeconds <= 0 {
		t.Fatalf("estimate missing distance or duration: %+v", route)
	}
}

func TestPruneIdleDropsCompletedOrderState(t *testing.T) {
	e := testEngine(&stubRouter{}, bus.NewMemoryBus(), alwaysActive)
	o := activeOrder()
	e.Trigger(o, driverAt(1))
	waitFor(t, func() bool {
		_, ok := e.LastRoute("o1", DestPickup)
		return ok
	})

	if n := e.PruneIdle(time.Hour); n != 0 {
		t.Fatalf("fresh state pruned: %d", n)
	}
	e.mu.Lock()
	e.flights[flightKey("o1", DestPickup)].touched = time.Now().Add(-2 * time.Hour)
	e.mu.Unlock()
	if n := e.PruneIdle(time.Hour); n != 1 {
		t.Fatalf("idle state not pruned: %d", n)
	}
	if _, ok := e.LastRoute("o1", DestPickup); ok {
		t.Fatal("route survived prune")
	}
}
