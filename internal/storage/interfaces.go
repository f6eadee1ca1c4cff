package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cartpulse/cartpulse/internal/models"
)

// ErrDuplicateOrder is returned by SaveEvent when a purchase event carries
// an order id that has already been recorded. The whole transaction is
// rolled back; nothing is written.
var ErrDuplicateOrder = errors.New("order already recorded")

// =============================================
// EVENT STORE
// =============================================

// Store owns all persistence for raw events, the two rollup tables and
// the per-order purchase markers. SaveEvent applies the rollup increments
// in the same transaction as the raw event insert: either everything is
// durable or nothing is.
type Store interface {
	// SaveEvent persists e and increments the daily and (when
	// e.ProductID > 0) product rollups for e's calendar day. The
	// assigned event id is returned. Purchase events also record the
	// order marker; ErrDuplicateOrder is returned if it already exists.
	SaveEvent(ctx context.Context, e *models.RawEvent) (int64, error)

	// Deduplication read primitives.
	HasVisitorEventBetween(ctx context.Context, ip string, from, to time.Time) (bool, error)
	HasCartEventSince(ctx context.Context, ip string, productID int64, since time.Time) (bool, error)
	HasCheckoutEventSince(ctx context.Context, sessionID string, since time.Time) (bool, error)
	HasPurchaseOrder(ctx context.Context, orderID string) (bool, error)

	// GetStats sums rollups over the inclusive [startDate, endDate]
	// range (YYYY-MM-DD). A malformed range yields a zeroed result, not
	// an error: this read path feeds a dashboard.
	GetStats(ctx context.Context, startDate, endDate string) (*models.StatsResult, error)

	// ListEvents returns raw events created at or after since, newest
	// first, capped at limit.
	ListEvents(ctx context.Context, since time.Time, limit int) ([]*models.RawEvent, error)

	// PurgeEventsBefore deletes raw events older than cutoff and returns
	// the number removed. Rollups and order markers are never purged.
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver receives accepted events for the analytical archive. Archiving
// is best-effort and must never fail or delay the write path.
type Archiver interface {
	Enqueue(e *models.RawEvent)
}

// ValidDateRange reports whether both dates parse as YYYY-MM-DD and start
// does not follow end.
func ValidDateRange(startDate, endDate string) bool {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return false
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return false
	}
	return !start.After(end)
}
