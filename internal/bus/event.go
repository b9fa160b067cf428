package bus

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates every event kind the platform publishes. Dispatch is
// by switching on this type, not by comparing raw strings; ParseEventType is
// the only place an unknown tag can enter the system, and it rejects them.
type EventType string

const (
	EventStatusUpdate      EventType = "STATUS_UPDATE"
	EventLocationUpdate    EventType = "LOCATION_UPDATE"
	EventChatMessage       EventType = "CHAT_MESSAGE"
	EventTransactionUpdate EventType = "TRANSACTION_UPDATE"
	EventBookingAccepted   EventType = "BOOKING_ACCEPTED"
	EventBookingRejected   EventType = "BOOKING_REJECTED"
)

func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventStatusUpdate, EventLocationUpdate, EventChatMessage,
		EventTransactionUpdate, EventBookingAccepted, EventBookingRejected:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is the wire envelope carried on every topic.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an envelope of the given type.
func NewEvent(t EventType, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{Type: t, Data: b}, nil
}

// DecodeEvent parses an envelope and validates its type tag.
func DecodeEvent(b []byte) (Event, error) {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Event{}, err
	}
	t, err := ParseEventType(raw.Type)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: raw.Data}, nil
}
