// Package location ingests driver position samples, keeps each driver's
// current position and fans fresh samples out to subscribers and the route
// recompute engine.
package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/observability"
	"github.com/velosdrop/velosdrop-sub001/internal/routing"
)

// PositionStore holds the most recent known sample per driver.
type PositionStore interface {
	Set(ctx context.Context, s models.LocationSample) error
	Current(ctx context.Context, driverID string) (models.LocationSample, bool, error)
}

// ActiveOrderFunc resolves the order a driver is currently fulfilling, nil
// when idle.
type ActiveOrderFunc func(ctx context.Context, driverID string) (*models.Order, error)

type Tracker struct {
	store       PositionStore
	bus         bus.Bus
	engine      *routing.Engine
	activeOrder ActiveOrderFunc
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*driverLock // per driver, serializes freshness check + store
}

type driverLock struct {
	sync.Mutex
	lastSeen time.Time // guarded by Tracker.mu, not the embedded mutex
}

func NewTracker(store PositionStore, b bus.Bus, engine *routing.Engine, activeOrder ActiveOrderFunc, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:       store,
		bus:         b,
		engine:      engine,
		activeOrder: activeOrder,
		logger:      logger,
		locks:       make(map[string]*driverLock),
	}
}

// Report ingests one sample. A sample captured at or before the driver's
// last accepted sample is discarded and the displayed position is left
// untouched. Returns whether the sample was accepted.
func (t *Tracker) Report(ctx context.Context, s models.LocationSample) (bool, error) {
	if s.DriverID == "" || s.CapturedAt.IsZero() {
		return false, apperrors.Validationf("sample needs driver id and capture time")
	}

	lock := t.driverLock(s.DriverID)
	lock.Lock()
	last, ok, err := t.store.Current(ctx, s.DriverID)
	if err != nil {
		lock.Unlock()
		return false, err
	}
	if ok && !s.CapturedAt.After(last.CapturedAt) {
		lock.Unlock()
		observability.StaleSamples.Inc()
		return false, nil
	}
	if err := t.store.Set(ctx, s); err != nil {
		lock.Unlock()
		return false, err
	}
	lock.Unlock()
	observability.LocationSamples.Inc()

	var active *models.Order
	if t.activeOrder != nil {
		if active, err = t.activeOrder(ctx, s.DriverID); err != nil {
			t.logger.Warn("active order lookup failed", "driver_id", s.DriverID, "error", err)
			active = nil
		}
	}

	payload := bus.LocationUpdatePayload{Sample: &s}
	if active != nil {
		payload.OrderID = active.ID
	}
	if ev, err := bus.NewEvent(bus.EventLocationUpdate, payload); err == nil {
		if err := t.bus.Publish(ctx, bus.DriverTopic(s.DriverID), ev); err != nil {
			t.logger.Warn("location publish failed", "driver_id", s.DriverID, "error", err)
		}
		if active != nil {
			_ = t.bus.Publish(ctx, bus.OrderTopic(active.ID), ev)
			_ = t.bus.Publish(ctx, bus.CustomerTopic(active.CustomerID), ev)
		}
	}

	if active != nil && t.engine != nil {
		t.engine.Trigger(active, s)
	}
	return true, nil
}

// Current returns the driver's last accepted sample.
func (t *Tracker) Current(ctx context.Context, driverID string) (models.LocationSample, bool, error) {
	return t.store.Current(ctx, driverID)
}

func (t *Tracker) driverLock(driverID string) *driverLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[driverID]
	if !ok {
		l = &driverLock{}
		t.locks[driverID] = l
	}
	l.lastSeen = time.Now()
	return l
}

// PruneIdle drops the serialization locks of drivers that have not reported
// since olderThan ago. Returns the number removed.
func (t *Tracker) PruneIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, l := range t.locks {
		if l.lastSeen.Before(cutoff) {
			delete(t.locks, id)
			n++
		}
	}
	return n
}
