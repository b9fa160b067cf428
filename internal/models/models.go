package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// OrderStatus is the canonical lifecycle state of a delivery order.
// Transitions are owned by the orders service; nothing else may decide status.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusRejected  OrderStatus = "rejected"
	StatusExpired   OrderStatus = "expired"
	StatusPickedUp  OrderStatus = "picked_up"
	StatusInTransit OrderStatus = "in_transit"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is legal from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID             string      `json:"id"`
	CustomerID     string      `json:"customer_id"`
	DriverID       string      `json:"driver_id,omitempty"` // empty until a driver accepts
	Status         OrderStatus `json:"status"`
	StatusVersion  int         `json:"status_version"`
	PickupAddress  string      `json:"pickup_address"`
	DropoffAddress string      `json:"dropoff_address"`
	Pickup         Coord       `json:"pickup"`
	Dropoff        Coord       `json:"dropoff"`
	FareCents      int64       `json:"fare_cents"`
	DistanceKm     float64     `json:"distance_km"`
	PackageNote    string      `json:"package_note,omitempty"`
	RecipientPhone string      `json:"recipient_phone,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	RespondedAt    *time.Time  `json:"responded_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// LocationSample is one driver position report. Ephemeral: only the most
// recent sample per driver is retained.
type LocationSample struct {
	DriverID   string    `json:"driver_id"`
	Loc        Coord     `json:"loc"`
	HeadingDeg float64   `json:"heading_deg,omitempty"`
	SpeedMps   float64   `json:"speed_mps,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Route is a derived driver route. Display-only, never authoritative.
type Route struct {
	Origin          Coord     `json:"origin"`
	Destination     Coord     `json:"destination"`
	Geometry        string    `json:"geometry"` // encoded polyline
	DistanceMeters  float64   `json:"distance_meters"`
	DurationSeconds float64   `json:"duration_seconds"`
	ComputedAt      time.Time `json:"computed_at"`
	Stale           bool      `json:"stale,omitempty"`
}

type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleDriver   SenderRole = "driver"
	RoleSystem   SenderRole = "system"
)

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageStatusUpdate MessageType = "status_update"
	MessageLocation     MessageType = "location"
)

type ChatMessage struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	SenderRole SenderRole  `json:"sender_role"`
	SenderID   string      `json:"sender_id"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	ImageURL   string      `json:"image_url,omitempty"`
	Loc        *Coord      `json:"loc,omitempty"` // set for location shares
	Read       bool        `json:"read"`
	CreatedAt  time.Time   `json:"created_at"`
}

type LedgerReason string

const (
	ReasonTopup      LedgerReason = "topup"
	ReasonCommission LedgerReason = "commission"
	ReasonAdjustment LedgerReason = "adjustment"
)

// LedgerEntry is one append-only wallet movement. AmountCents is signed;
// BalanceCents is the driver balance after applying it.
type LedgerEntry struct {
	ID           string       `json:"id"`
	DriverID     string       `json:"driver_id"`
	AmountCents  int64        `json:"amount_cents"`
	Reason       LedgerReason `json:"reason"`
	BalanceCents int64        `json:"balance_cents"`
	OrderID      string       `json:"order_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
