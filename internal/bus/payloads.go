package bus

import (
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// Typed payloads for each EventType. CHAT_MESSAGE carries a
// models.ChatMessage and LOCATION_UPDATE a models.LocationSample directly.

type StatusUpdatePayload struct {
	OrderID  string             `json:"order_id"`
	Status   models.OrderStatus `json:"status"`
	DriverID string             `json:"driver_id,omitempty"`
	At       time.Time          `json:"at"`
}

type LocationUpdatePayload struct {
	OrderID string                 `json:"order_id,omitempty"`
	Sample  *models.LocationSample `json:"sample,omitempty"`
	Route   *models.Route          `json:"route,omitempty"`
}

type BookingResponsePayload struct {
	OrderID  string    `json:"order_id"`
	DriverID string    `json:"driver_id"`
	At       time.Time `json:"at"`
}

type TransactionUpdatePayload struct {
	DriverID     string              `json:"driver_id"`
	OrderID      string              `json:"order_id,omitempty"`
	AmountCents  int64               `json:"amount_cents"`
	BalanceCents int64               `json:"balance_cents"`
	Reason       models.LedgerReason `json:"reason"`
}
