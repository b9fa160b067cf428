// Package chat runs the per-order message channel shared by the customer,
// the assigned driver and supervisory subscribers.
package chat

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

// OrderLookup resolves the order a message belongs to, for participant
// checks and recipient notification.
type OrderLookup func(ctx context.Context, orderID string) (*models.Order, error)

type Manager struct {
	store  Store
	bus    bus.Bus
	order  OrderLookup
	logger *slog.Logger
}

func NewManager(store Store, b bus.Bus, order OrderLookup, logger *slog.Logger) *Manager {
	return &Manager{store: store, bus: b, order: order, logger: logger}
}

// Post validates, persists and then publishes a message. Persistence comes
// first: a subscriber that fetches history right after seeing the live
// event must find the message there.
func (m *Manager) Post(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	if msg.OrderID == "" {
		return nil, apperrors.Validationf("order id required")
	}
	switch msg.SenderRole {
	case models.RoleCustomer, models.RoleDriver, models.RoleSystem:
	default:
		return nil, apperrors.Validationf("unknown sender role %q", msg.SenderRole)
	}
	switch msg.Type {
	case models.MessageText, models.MessageStatusUpdate:
		if msg.Content == "" {
			return nil, apperrors.Validationf("content required")
		}
	case models.MessageImage:
		if msg.ImageURL == "" {
			return nil, apperrors.Validationf("image reference required")
		}
	case models.MessageLocation:
		if msg.Loc == nil {
			return nil, apperrors.Validationf("coordinates required")
		}
	default:
		return nil, apperrors.Validationf("unknown message type %q", msg.Type)
	}

	o, err := m.order(ctx, msg.OrderID)
	if err != nil {
		return nil, err
	}
	if err := checkParticipant(o, msg.SenderRole, msg.SenderID); err != nil {
		return nil, err
	}

	msg.ID = uuid.NewString()
	msg.Read = false
	msg.CreatedAt = time.Now()
	if err := m.store.Insert(ctx, &msg); err != nil {
		return nil, err
	}
	observability.ChatMessagesTotal.Inc()

	ev, err := bus.NewEvent(bus.EventChatMessage, msg)
	if err != nil {
		m.logger.Error("encode chat message", "message_id", msg.ID, "error", err)
		return &msg, nil
	}
	m.publishTo(ctx, bus.OrderTopic(msg.OrderID), ev)
	for _, t := range recipientTopics(o, msg.SenderRole) {
		m.publishTo(ctx, t, ev)
	}
	return &msg, nil
}

// MarkRead flips the read flag on one message. Idempotent. Only the order's
// customer or assigned driver may acknowledge reads.
func (m *Manager) MarkRead(ctx context.Context, orderID, messageID string, reader models.SenderRole, readerID string) error {
	if reader != models.RoleCustomer && reader != models.RoleDriver {
		return apperrors.Validationf("unknown reader role %q", reader)
	}
	o, err := m.order(ctx, orderID)
	if err != nil {
		return err
	}
	if err := checkParticipant(o, reader, readerID); err != nil {
		return err
	}
	return m.store.MarkRead(ctx, orderID, messageID)
}

// History returns all messages of an order in creation order.
func (m *Manager) History(ctx context.Context, orderID string) ([]models.ChatMessage, error) {
	return m.store.History(ctx, orderID)
}

// PostSystem drops a system status_update narration into the channel.
func (m *Manager) PostSystem(ctx context.Context, orderID, content string) (*models.ChatMessage, error) {
	return m.Post(ctx, models.ChatMessage{
		OrderID:    orderID,
		SenderRole: models.RoleSystem,
		SenderID:   "system",
		Type:       models.MessageStatusUpdate,
		Content:    content,
	})
}

func checkParticipant(o *models.Order, role models.SenderRole, actorID string) error {
	switch role {
	case models.RoleCustomer:
		if actorID != o.CustomerID {
			return apperrors.Validationf("%s is not the order's customer", actorID)
		}
	case models.RoleDriver:
		if o.DriverID == "" || actorID != o.DriverID {
			return apperrors.Validationf("%s is not the assigned driver", actorID)
		}
	}
	return nil
}

// recipientTopics picks the personal topics notified out of view: the
// counterparty for a human sender, both parties for system narration.
func recipientTopics(o *models.Order, sender models.SenderRole) []string {
	var out []string
	switch sender {
	case models.RoleCustomer:
		if o.DriverID != "" {
			out = append(out, bus.DriverTopic(o.DriverID))
		}
	case models.RoleDriver:
		out = append(out, bus.CustomerTopic(o.CustomerID))
	case models.RoleSystem:
		out = append(out, bus.CustomerTopic(o.CustomerID))
		if o.DriverID != "" {
			out = append(out, bus.DriverTopic(o.DriverID))
		}
	}
	return out
}

func (m *Manager) publishTo(ctx context.Context, topic string, ev bus.Event) {
	if err := m.bus.Publish(ctx, topic, ev); err != nil {
		m.logger.Warn("chat publish failed", "topic", topic, "error", err)
	}
}
