package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/observability"
)

// ChatPoster is the slice of the chat manager the settler needs to announce
// completion in the order channel.
type ChatPoster interface {
	PostSystem(ctx context.Context, orderID, content string) (*models.ChatMessage, error)
}

// Settler executes the completion and settlement transaction.
type Settler struct {
	store          Store
	orderFare      func(ctx context.Context, orderID string) (int64, error)
	bus            bus.Bus
	chat           ChatPoster
	logger         *slog.Logger
	commissionRate float64
	requireProof   bool
	onComplete     []func(orderID string)
}

// OnComplete registers fn to run after an order settles. Used to release
// per-order state held elsewhere. Not safe to call once serving requests.
func (s *Settler) OnComplete(fn func(orderID string)) {
	s.onComplete = append(s.onComplete, fn)
}

func NewSettler(store Store, orderFare func(ctx context.Context, orderID string) (int64, error), b bus.Bus, chat ChatPoster, logger *slog.Logger, commissionRate float64, requireProof bool) *Settler {
	return &Settler{
		store:          store,
		orderFare:      orderFare,
		bus:            b,
		chat:           chat,
		logger:         logger,
		commissionRate: commissionRate,
		requireProof:   requireProof,
	}
}

// Complete finalizes the order and debits the commission atomically. A
// duplicate call for an already-completed order returns the order untouched
// and never debits twice. With proof policy on, a missing proof reference
// aborts before any state change so the caller can re-prompt the driver.
func (s *Settler) Complete(ctx context.Context, orderID, driverID, proofURL string) (*models.Order, error) {
	if s.requireProof && proofURL == "" {
		return nil, apperrors.Validationf("proof of delivery required")
	}

	fare, err := s.orderFare(ctx, orderID)
	if err != nil {
		return nil, err
	}
	fee := CommissionCents(fare, s.commissionRate)

	sett, err := s.store.Settle(ctx, orderID, driverID, fee)
	if err != nil {
		var short *apperrors.InsufficientBalanceError
		if errors.As(err, &short) {
			observability.SettlementFailures.WithLabelValues("insufficient_balance").Inc()
		} else {
			observability.SettlementFailures.WithLabelValues("other").Inc()
		}
		return nil, err
	}
	if sett.Entry == nil {
		// duplicate call; the first one already published everything
		return sett.Order, nil
	}
	observability.SettlementsTotal.Inc()

	o := sett.Order
	if ev, err := bus.NewEvent(bus.EventStatusUpdate, bus.StatusUpdatePayload{
		OrderID: o.ID, Status: models.StatusCompleted, DriverID: o.DriverID, At: time.Now(),
	}); err == nil {
		s.publish(ctx, bus.OrderTopic(o.ID), ev)
		s.publish(ctx, bus.CustomerTopic(o.CustomerID), ev)
		s.publish(ctx, bus.DriverTopic(o.DriverID), ev)
	}
	if ev, err := bus.NewEvent(bus.EventTransactionUpdate, bus.TransactionUpdatePayload{
		DriverID:     o.DriverID,
		OrderID:      o.ID,
		AmountCents:  sett.Entry.AmountCents,
		BalanceCents: sett.Entry.BalanceCents,
		Reason:       models.ReasonCommission,
	}); err == nil {
		s.publish(ctx, bus.CustomerTopic(o.CustomerID), ev)
	}

	content := fmt.Sprintf("Delivery completed. Commission of $%.2f settled.", float64(fee)/100)
	if _, err := s.chat.PostSystem(ctx, o.ID, content); err != nil {
		s.logger.Warn("completion narration failed", "order_id", o.ID, "error", err)
	}
	for _, fn := range s.onComplete {
		fn(o.ID)
	}
	return o, nil
}

func (s *Settler) publish(ctx context.Context, topic string, ev bus.Event) {
	if err := s.bus.Publish(ctx, topic, ev); err != nil {
		observability.BusPublishFailures.Inc()
		s.logger.Warn("settlement publish failed", "topic", topic, "error", err)
	}
}
