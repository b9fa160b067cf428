package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/observability"
)

// DestKind names which leg of the delivery a route covers.
type DestKind string

const (
	DestPickup  DestKind = "pickup"
	DestDropoff DestKind = "dropoff"
)

// DestFor picks the routing destination for the order's current status.
// Returns false while no leg is being driven.
func DestFor(o *models.Order) (models.Coord, DestKind, bool) {
	switch o.Status {
	case models.StatusAccepted, models.StatusPickedUp:
		return o.Pickup, DestPickup, true
	case models.StatusInTransit:
		return o.Dropoff, DestDropoff, true
	}
	return models.Coord{}, "", false
}

type trigger struct {
	order  *models.Order
	sample models.LocationSample
	dest   models.Coord
	kind   DestKind
}

type flightState struct {
	inFlight bool
	pending  *trigger
	nextSeq  uint64
	applied  uint64 // seq of the last route applied for this key
	route    *models.Route
	touched  time.Time
}

// Engine recomputes driver routes on fresh location samples. Calls to the
// routing collaborator are coalesced per (order, destination): at most one
// in flight, with only the newest waiting sample kept. Results are applied
// through a per-key sequence guard so a late response can never overwrite a
// newer route.
type Engine struct {
	router        Router
	bus           bus.Bus
	logger        *slog.Logger
	timeout       time.Duration
	fallbackSpeed float64

	// activeCheck reports whether the order is still on the given leg;
	// results for a stale leg are discarded.
	activeCheck func(ctx context.Context, orderID string, kind DestKind) bool

	mu      sync.Mutex
	flights map[string]*flightState
}

// NewEngine builds the recompute engine. A nil router is allowed: legs then
// carry straight-line estimates at fallbackSpeedMps, flagged stale.
func NewEngine(router Router, b bus.Bus, logger *slog.Logger, fallbackSpeedMps float64, activeCheck func(ctx context.Context, orderID string, kind DestKind) bool) *Engine {
	return &Engine{
		router:        router,
		bus:           b,
		logger:        logger,
		timeout:       5 * time.Second,
		fallbackSpeed: fallbackSpeedMps,
		activeCheck:   activeCheck,
		flights:       make(map[string]*flightState),
	}
}

func flightKey(orderID string, kind DestKind) string { return orderID + "|" + string(kind) }

// Trigger feeds a fresh sample for an active order into the engine. When a
// recompute for the same (order, destination) is already in flight the
// sample is queued, replacing any older waiting sample.
func (e *Engine) Trigger(o *models.Order, sample models.LocationSample) {
	dest, kind, ok := DestFor(o)
	if !ok {
		return
	}
	t := &trigger{order: o, sample: sample, dest: dest, kind: kind}
	key := flightKey(o.ID, kind)

	e.mu.Lock()
	st := e.flights[key]
	if st == nil {
		st = &flightState{}
		e.flights[key] = st
	}
	st.touched = time.Now()
	if st.inFlight {
		st.pending = t
		e.mu.Unlock()
		observability.RouteCoalesced.Inc()
		return
	}
	st.inFlight = true
	st.nextSeq++
	seq := st.nextSeq
	e.mu.Unlock()

	go e.fly(key, seq, t)
}

func (e *Engine) fly(key string, seq uint64, t *trigger) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		var route models.Route
		var err error
		if e.router == nil {
			// no routing collaborator configured: serve the straight-line
			// estimate, already flagged stale
			route = Estimate(ctx, nil, t.sample.Loc, t.dest, e.fallbackSpeed)
		} else {
			route, err = e.router.Route(ctx, t.sample.Loc, t.dest)
		}
		cancel()
		observability.RouteRecomputes.Inc()

		if err != nil {
			observability.RouteRecomputeErr.Inc()
			e.logger.Warn("route recompute failed", "order_id", t.order.ID, "kind", t.kind, "error", err)
			e.markStale(key)
		} else {
			e.apply(key, seq, t, route)
		}

		// pick up the newest queued sample, if any arrived while we were out
		e.mu.Lock()
		st := e.flights[key]
		next := st.pending
		st.pending = nil
		if next == nil {
			st.inFlight = false
			e.mu.Unlock()
			return
		}
		st.nextSeq++
		seq = st.nextSeq
		e.mu.Unlock()
		t = next
	}
}

// apply installs a computed route unless a newer one already landed or the
// order has moved off this leg.
func (e *Engine) apply(key string, seq uint64, t *trigger, route models.Route) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !e.activeCheck(ctx, t.order.ID, t.kind) {
		return
	}

	e.mu.Lock()
	st := e.flights[key]
	if st == nil || seq <= st.applied {
		e.mu.Unlock()
		return
	}
	st.applied = seq
	st.route = &route
	e.mu.Unlock()

	ev, err := bus.NewEvent(bus.EventLocationUpdate, bus.LocationUpdatePayload{
		OrderID: t.order.ID,
		Route:   &route,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, bus.OrderTopic(t.order.ID), ev); err != nil {
		e.logger.Warn("route publish failed", "order_id", t.order.ID, "error", err)
	}
	if t.order.CustomerID != "" {
		_ = e.bus.Publish(ctx, bus.CustomerTopic(t.order.CustomerID), ev)
	}
}

// markStale flags the last known route without removing it; the stale route
// stays displayed until the next sample yields a fresh one.
func (e *Engine) markStale(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.flights[key]; st != nil && st.route != nil {
		st.route.Stale = true
	}
}

// LastRoute returns the most recently applied route for the order leg.
func (e *Engine) LastRoute(orderID string, kind DestKind) (models.Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.flights[flightKey(orderID, kind)]
	if st == nil || st.route == nil {
		return models.Route{}, false
	}
	return *st.route, true
}

// Forget drops routing state for a finished order.
func (e *Engine) Forget(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.flights, flightKey(orderID, DestPickup))
	delete(e.flights, flightKey(orderID, DestDropoff))
}

// PruneIdle drops flight state not triggered since olderThan ago. Backstop
// for orders that finish in another process. Returns the number removed.
func (e *Engine) PruneIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key, st := range e.flights {
		if !st.inFlight && st.touched.Before(cutoff) {
			delete(e.flights, key)
			n++
		}
	}
	return n
}
