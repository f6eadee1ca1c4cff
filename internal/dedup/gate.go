package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/models"
	"go.uber.org/zap"
)

// Identity carries the identifying fields of an incoming tracking call.
type Identity struct {
	SessionID string
	IPAddress string
	ProductID int64
	OrderID   string
}

// EventLookup is the subset of the store the gate reads for recency
// checks.
type EventLookup interface {
	HasVisitorEventBetween(ctx context.Context, ip string, from, to time.Time) (bool, error)
	HasCartEventSince(ctx context.Context, ip string, productID int64, since time.Time) (bool, error)
	HasCheckoutEventSince(ctx context.Context, sessionID string, since time.Time) (bool, error)
	HasPurchaseOrder(ctx context.Context, orderID string) (bool, error)
}

// Gate rejects redundant tracking calls before they reach storage, using
// event-type-specific windows and identity keys.
//
// The check-then-act sequence is not atomic against the subsequent insert:
// two near-simultaneous duplicates can both pass. That window is a single
// request wide and accepted for visitor, add_to_cart and checkout;
// purchases are additionally guarded by the store's durable order marker,
// which is exact.
type Gate struct {
	store   EventLookup
	markers MarkerStore
	cfg     config.DedupConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewGate creates a deduplication gate.
func NewGate(store EventLookup, markers MarkerStore, cfg config.DedupConfig, now func() time.Time, logger *zap.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:   store,
		markers: markers,
		cfg:     cfg,
		now:     now,
		logger:  logger,
	}
}

// ShouldAccept decides whether the incoming event is novel. A false
// return means duplicate, not error. Marker-store failures fail open: a
// broken Redis must not drop genuine events, at the cost of weaker dedup.
func (g *Gate) ShouldAccept(ctx context.Context, t models.EventType, id Identity) (bool, error) {
	switch t {
	case models.EventVisitor:
		return g.acceptVisitor(ctx, id)
	case models.EventAddToCart:
		return g.acceptAddToCart(ctx, id)
	case models.EventCheckout:
		return g.acceptCheckout(ctx, id)
	case models.EventPurchase:
		return g.acceptPurchase(ctx, id)
	}
	return false, nil
}

// acceptVisitor counts one visit per IP per calendar day, however many
// pages are browsed.
func (g *Gate) acceptVisitor(ctx context.Context, id Identity) (bool, error) {
	now := g.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	seen, err := g.store.HasVisitorEventBetween(ctx, id.IPAddress, dayStart, dayEnd)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// acceptAddToCart absorbs double-submits of the same product from the
// same IP inside the configured window without suppressing a legitimate
// repeat add later.
func (g *Gate) acceptAddToCart(ctx context.Context, id Identity) (bool, error) {
	since := g.now().Add(-g.cfg.CartWindow)
	seen, err := g.store.HasCartEventSince(ctx, id.IPAddress, id.ProductID, since)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// acceptCheckout tolerates checkout page re-renders: a recent checkout
// event for the session, or the session marker left by a prior accept,
// means this is the same checkout intent.
func (g *Gate) acceptCheckout(ctx context.Context, id Identity) (bool, error) {
	marked, err := g.markers.Exists(ctx, checkoutMarkerKey(id.SessionID))
	if err != nil {
		g.logger.Warn("checkout marker lookup failed, continuing without it", zap.Error(err))
	} else if marked {
		return false, nil
	}

	since := g.now().Add(-g.cfg.CheckoutWindow)
	seen, err := g.store.HasCheckoutEventSince(ctx, id.SessionID, since)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// acceptPurchase consults the durable order marker; elapsed time never
// re-opens a purchase.
func (g *Gate) acceptPurchase(ctx context.Context, id Identity) (bool, error) {
	recorded, err := g.store.HasPurchaseOrder(ctx, id.OrderID)
	if err != nil {
		return false, err
	}
	return !recorded, nil
}

// RecordAccept sets post-accept markers. Only checkout needs one: the
// session marker keeps re-renders from counting as new checkouts after
// the recency window has passed.
func (g *Gate) RecordAccept(ctx context.Context, t models.EventType, id Identity) {
	if t != models.EventCheckout {
		return
	}
	if _, err := g.markers.SetIfAbsent(ctx, checkoutMarkerKey(id.SessionID), g.cfg.CheckoutMarker); err != nil {
		g.logger.Warn("failed to set checkout marker", zap.Error(err), zap.String("session_id", id.SessionID))
	}
}

func checkoutMarkerKey(sessionID string) string {
	return fmt.Sprintf("checkout:%s", sessionID)
}
