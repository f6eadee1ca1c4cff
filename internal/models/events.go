package models

import (
	"fmt"
	"strings"
	"time"
)

// ===========================================
// EVENT TYPE
// ===========================================

// EventType is the closed set of tracked shopper actions.
type EventType string

const (
	EventVisitor   EventType = "visitor"
	EventAddToCart EventType = "add_to_cart"
	EventCheckout  EventType = "checkout"
	EventPurchase  EventType = "purchase"
)

// ParseEventType validates a raw event type string.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventVisitor, EventAddToCart, EventCheckout, EventPurchase:
		return EventType(s), nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", ErrValidation, s)
}

// Valid reports whether t is one of the four tracked kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventVisitor, EventAddToCart, EventCheckout, EventPurchase:
		return true
	}
	return false
}

// Field length caps. Oversized values are truncated, not rejected.
const (
	MaxSessionIDLen   = 50
	MaxIPAddressLen   = 100
	MaxCountryCodeLen = 2
	MaxCountryNameLen = 50
)

// ===========================================
// RAW EVENT
// ===========================================

// RawEvent is one immutable recorded shopper action. ID is assigned at
// insert time by the store.
type RawEvent struct {
	ID          int64     `json:"id"`
	Type        EventType `json:"event_type"`
	SessionID   string    `json:"session_id"`
	IPAddress   string    `json:"ip_address"`
	ProductID   int64     `json:"product_id,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	Quantity    int64     `json:"quantity,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	CountryCode string    `json:"country_code,omitempty"`
	CountryName string    `json:"country_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Normalize coerces and truncates fields in place, then validates the
// required identity fields. Truncation caps are applied before the empty
// checks so a whitespace-only value still fails validation.
func (e *RawEvent) Normalize() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, string(e.Type))
	}

	e.SessionID = truncate(strings.TrimSpace(e.SessionID), MaxSessionIDLen)
	e.IPAddress = truncate(strings.TrimSpace(e.IPAddress), MaxIPAddressLen)
	e.CountryCode = truncate(strings.ToUpper(strings.TrimSpace(e.CountryCode)), MaxCountryCodeLen)
	e.CountryName = truncate(strings.TrimSpace(e.CountryName), MaxCountryNameLen)

	if e.ProductID < 0 {
		e.ProductID = 0
	}
	if e.UserID < 0 {
		e.UserID = 0
	}
	if e.Quantity < 0 {
		e.Quantity = 0
	}

	if e.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if e.IPAddress == "" {
		return fmt.Errorf("%w: ip_address is required", ErrValidation)
	}
	if e.Type == EventPurchase && strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required for purchase events", ErrValidation)
	}

	return nil
}

// Day returns the event's calendar day formatted as YYYY-MM-DD.
func (e *RawEvent) Day() string {
	return e.CreatedAt.Format("2006-01-02")
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
