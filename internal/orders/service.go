// Package orders owns the canonical order lifecycle. Every status change in
// the system flows through this service; other components only observe the
// STATUS_UPDATE events it emits.
package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/observability"
)

type Service struct {
	store    Store
	bus      bus.Bus
	logger   *slog.Logger
	expiry   *ExpiryScheduler
	offerTTL time.Duration
	terminal []func(orderID string)
}

func NewService(store Store, b bus.Bus, logger *slog.Logger, offerTTL time.Duration) *Service {
	s := &Service{store: store, bus: b, logger: logger, offerTTL: offerTTL}
	s.expiry = NewExpiryScheduler(s.Expire)
	return s
}

// OnTerminal registers fn to run after an order reaches a terminal status
// through this service. Used to release per-order state held elsewhere.
// Not safe to call once the service is serving requests.
func (s *Service) OnTerminal(fn func(orderID string)) {
	s.terminal = append(s.terminal, fn)
}

type ProposeInput struct {
	CustomerID     string       `json:"customer_id"`
	PickupAddress  string       `json:"pickup_address"`
	DropoffAddress string       `json:"dropoff_address"`
	Pickup         models.Coord `json:"pickup"`
	Dropoff        models.Coord `json:"dropoff"`
	FareCents      int64        `json:"fare_cents"`
	DistanceKm     float64      `json:"distance_km"`
	PackageNote    string       `json:"package_note"`
	RecipientPhone string       `json:"recipient_phone"`
	// OfferTo lists driver ids that should see the proposal on their
	// personal topic. Candidate selection is the dispatcher's concern.
	OfferTo []string `json:"offer_to"`
}

// Propose creates an order in pending with an expiry deadline and notifies
// the offered drivers.
func (s *Service) Propose(ctx context.Context, in ProposeInput) (*models.Order, error) {
	if in.CustomerID == "" {
		return nil, apperrors.Validationf("customer id required")
	}
	now := time.Now()
	deadline := now.Add(s.offerTTL)
	o := &models.Order{
		ID:             uuid.NewString(),
		CustomerID:     in.CustomerID,
		Status:         models.StatusPending,
		PickupAddress:  in.PickupAddress,
		DropoffAddress: in.DropoffAddress,
		Pickup:         in.Pickup,
		Dropoff:        in.Dropoff,
		FareCents:      in.FareCents,
		DistanceKm:     in.DistanceKm,
		PackageNote:    in.PackageNote,
		RecipientPhone: in.RecipientPhone,
		CreatedAt:      now,
		ExpiresAt:      &deadline,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.expiry.Schedule(o.ID, deadline)

	ev, err := bus.NewEvent(bus.EventStatusUpdate, bus.StatusUpdatePayload{
		OrderID: o.ID, Status: o.Status, At: now,
	})
	if err == nil {
		s.publish(ctx, bus.OrderTopic(o.ID), ev)
		s.publish(ctx, bus.CustomerTopic(o.CustomerID), ev)
		for _, d := range in.OfferTo {
			s.publish(ctx, bus.DriverTopic(d), ev)
		}
	}
	observability.OrderTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	return o, nil
}

// Respond handles a driver's accept/reject of a pending proposal. Accept is
// a check-and-set: exactly one driver wins, every later accept observes a
// ConflictError. Reject leaves the order pending for the remaining window.
func (s *Service) Respond(ctx context.Context, orderID, driverID string, accept bool) error {
	if driverID == "" {
		return apperrors.Validationf("driver id required")
	}
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.StatusPending {
		return apperrors.Conflictf("order %s is %s", orderID, o.Status)
	}

	if !accept {
		// no status change: the order stays pending until another driver
		// accepts or the deadline expires
		if ev, err := bus.NewEvent(bus.EventBookingRejected, bus.BookingResponsePayload{
			OrderID: orderID, DriverID: driverID, At: time.Now(),
		}); err == nil {
			s.publish(ctx, bus.DriverTopic(driverID), ev)
		}
		return nil
	}

	ok, err := s.store.UpdateStatusCAS(ctx, orderID, models.StatusPending, models.StatusAccepted, o.StatusVersion, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflictf("order %s already taken", orderID)
	}
	s.expiry.Cancel(orderID)

	o.Status = models.StatusAccepted
	o.StatusVersion++
	o.DriverID = driverID
	s.announce(ctx, o)
	if ev, err := bus.NewEvent(bus.EventBookingAccepted, bus.BookingResponsePayload{
		OrderID: orderID, DriverID: driverID, At: time.Now(),
	}); err == nil {
		s.publish(ctx, bus.DriverTopic(driverID), ev)
	}
	return nil
}

// Advance moves the order along one edge of the state graph. Completion is
// excluded here: it only happens inside the settlement transaction.
func (s *Service) Advance(ctx context.Context, orderID, actorID string, next models.OrderStatus) error {
	switch next {
	case models.StatusCompleted:
		return apperrors.Validationf("completion goes through settlement")
	case models.StatusAccepted:
		return apperrors.Validationf("acceptance goes through respond")
	case models.StatusRejected, models.StatusExpired:
		// coordinator-applied transitions; callers cannot force them
		return apperrors.Validationf("%s is not caller-reachable", next)
	}
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, next) {
		return apperrors.Validationf("illegal transition %s -> %s", o.Status, next)
	}
	if err := s.authorizeAdvance(o, actorID, next); err != nil {
		return err
	}

	ok, err := s.store.UpdateStatusCAS(ctx, orderID, o.Status, next, o.StatusVersion, "")
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflictf("order %s changed concurrently", orderID)
	}
	if o.Status == models.StatusPending {
		s.expiry.Cancel(orderID)
	}

	o.Status = next
	o.StatusVersion++
	s.announce(ctx, o)
	return nil
}

func (s *Service) authorizeAdvance(o *models.Order, actorID string, next models.OrderStatus) error {
	switch next {
	case models.StatusPickedUp, models.StatusInTransit:
		if actorID != o.DriverID {
			return apperrors.Validationf("actor %s is not the assigned driver", actorID)
		}
	case models.StatusCancelled:
		if actorID != o.DriverID && actorID != o.CustomerID {
			return apperrors.Validationf("actor %s cannot cancel order %s", actorID, o.ID)
		}
	}
	return nil
}

// Expire transitions a still-pending order to expired. Idempotent: expiring
// an order that already left pending is a no-op, including when losing a
// race against a concurrent accept.
func (s *Service) Expire(ctx context.Context, orderID string) error {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.StatusPending {
		return nil
	}
	ok, err := s.store.UpdateStatusCAS(ctx, orderID, models.StatusPending, models.StatusExpired, o.StatusVersion, "")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	o.Status = models.StatusExpired
	o.StatusVersion++
	s.announce(ctx, o)
	return nil
}

// SweepExpired expires every pending order past its deadline. Restart-safe
// backstop for the per-order timers.
func (s *Service) SweepExpired(ctx context.Context) {
	ids, err := s.store.ListExpiredPending(ctx, time.Now())
	if err != nil {
		s.logger.Warn("expiry sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.Expire(ctx, id); err != nil {
			s.logger.Warn("expire failed", "order_id", id, "error", err)
		}
	}
}

func (s *Service) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.Get(ctx, orderID)
}

// Close stops all pending expiry timers.
func (s *Service) Close() {
	s.expiry.Close()
}

// announce publishes a STATUS_UPDATE for o to the order topic and the bound
// actors' personal topics.
func (s *Service) announce(ctx context.Context, o *models.Order) {
	ev, err := bus.NewEvent(bus.EventStatusUpdate, bus.StatusUpdatePayload{
		OrderID: o.ID, Status: o.Status, DriverID: o.DriverID, At: time.Now(),
	})
	if err != nil {
		s.logger.Error("encode status update", "order_id", o.ID, "error", err)
		return
	}
	s.publish(ctx, bus.OrderTopic(o.ID), ev)
	s.publish(ctx, bus.CustomerTopic(o.CustomerID), ev)
	if o.DriverID != "" {
		s.publish(ctx, bus.DriverTopic(o.DriverID), ev)
	}
	observability.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	if IsTerminal(o.Status) {
		for _, fn := range s.terminal {
			fn(o.ID)
		}
	}
}

func (s *Service) publish(ctx context.Context, topic string, ev bus.Event) {
	delay := 50 * time.Millisecond
	var err error
	for i := 0; i < 3; i++ {
		if err = s.bus.Publish(ctx, topic, ev); err == nil {
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
	observability.BusPublishFailures.Inc()
	s.logger.Warn("publish failed", "topic", topic, "type", ev.Type, "error", err)
}
