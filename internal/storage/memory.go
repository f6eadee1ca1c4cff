package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cartpulse/cartpulse/internal/models"
)

// MemoryStore provides in-memory storage for events and rollups. It is
// used when PostgreSQL is unavailable and as the test double; it mirrors
// the transactional semantics of PostgresStore under a single mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64

	events         []*models.RawEvent
	dailyRollups   map[dailyKey]*models.DailyRollup
	productRollups map[productKey]*models.ProductRollup
	purchaseOrders map[string]time.Time

	// Indexes for dedup lookups
	eventsByIP      map[string][]*models.RawEvent
	eventsBySession map[string][]*models.RawEvent
}

type dailyKey struct {
	date        string
	countryCode string
}

type productKey struct {
	productID   int64
	date        string
	countryCode string
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dailyRollups:    make(map[dailyKey]*models.DailyRollup),
		productRollups:  make(map[productKey]*models.ProductRollup),
		purchaseOrders:  make(map[string]time.Time),
		eventsByIP:      make(map[string][]*models.RawEvent),
		eventsBySession: make(map[string][]*models.RawEvent),
	}
}

// SaveEvent records the event and applies both rollup increments under
// one lock acquisition, so concurrent callers for the same key serialize
// and no increment is lost.
func (s *MemoryStore) SaveEvent(ctx context.Context, e *models.RawEvent) (int64, error) {
	if _, ok := models.CounterColumn(e.Type); !ok {
		return 0, fmt.Errorf("%w: unknown event type %q", models.ErrValidation, string(e.Type))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Type == models.EventPurchase {
		if _, dup := s.purchaseOrders[e.OrderID]; dup {
			return 0, ErrDuplicateOrder
		}
		s.purchaseOrders[e.OrderID] = e.CreatedAt
	}

	s.nextID++
	e.ID = s.nextID

	stored := *e
	s.events = append(s.events, &stored)
	s.eventsByIP[stored.IPAddress] = append(s.eventsByIP[stored.IPAddress], &stored)
	s.eventsBySession[stored.SessionID] = append(s.eventsBySession[stored.SessionID], &stored)

	day := e.Day()

	dk := dailyKey{date: day, countryCode: e.CountryCode}
	daily, ok := s.dailyRollups[dk]
	if !ok {
		daily = &models.DailyRollup{
			Date:        day,
			CountryCode: e.CountryCode,
			CountryName: e.CountryName,
		}
		s.dailyRollups[dk] = daily
	}
	daily.Apply(e.Type)

	if e.ProductID > 0 {
		pk := productKey{productID: e.ProductID, date: day, countryCode: e.CountryCode}
		product, ok := s.productRollups[pk]
		if !ok {
			product = &models.ProductRollup{
				ProductID:   e.ProductID,
				Date:        day,
				CountryCode: e.CountryCode,
				CountryName: e.CountryName,
			}
			s.productRollups[pk] = product
		}
		product.Apply(e.Type)
	}

	return e.ID, nil
}

// =============================================
// Dedup read primitives
// =============================================

func (s *MemoryStore) HasVisitorEventBetween(ctx context.Context, ip string, from, to time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.eventsByIP[ip] {
		if e.Type == models.EventVisitor && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasCartEventSince(ctx context.Context, ip string, productID int64, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.eventsByIP[ip] {
		if e.Type == models.EventAddToCart && e.ProductID == productID && !e.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasCheckoutEventSince(ctx context.Context, sessionID string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.eventsBySession[sessionID] {
		if e.Type == models.EventCheckout && !e.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasPurchaseOrder(ctx context.Context, orderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.purchaseOrders[orderID]
	return ok, nil
}

// =============================================
// Reporting reads
// =============================================

func (s *MemoryStore) GetStats(ctx context.Context, startDate, endDate string) (*models.StatsResult, error) {
	result := &models.StatsResult{
		Products:  []models.ProductStats{},
		Countries: []models.CountryStats{},
	}

	if !ValidDateRange(startDate, endDate) {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// YYYY-MM-DD strings compare in date order.
	inRange := func(date string) bool {
		return date >= startDate && date <= endDate
	}

	type countryAgg struct {
		code, name string
		counters   models.Counters
	}
	countries := make(map[string]*countryAgg)

	for _, d := range s.dailyRollups {
		if !inRange(d.Date) {
			continue
		}
		result.Store.Add(d.Counters)

		if d.CountryCode == "" {
			continue
		}
		key := d.CountryCode + "\x00" + d.CountryName
		agg, ok := countries[key]
		if !ok {
			agg = &countryAgg{code: d.CountryCode, name: d.CountryName}
			countries[key] = agg
		}
		agg.counters.Add(d.Counters)
	}

	products := make(map[int64]*models.ProductStats)
	for _, p := range s.productRollups {
		if !inRange(p.Date) {
			continue
		}
		agg, ok := products[p.ProductID]
		if !ok {
			agg = &models.ProductStats{ProductID: p.ProductID}
			products[p.ProductID] = agg
		}
		agg.Add(p.Counters)
	}

	for _, p := range products {
		result.Products = append(result.Products, *p)
	}
	sort.Slice(result.Products, func(i, j int) bool {
		if result.Products[i].Visitors != result.Products[j].Visitors {
			return result.Products[i].Visitors > result.Products[j].Visitors
		}
		return result.Products[i].ProductID < result.Products[j].ProductID
	})

	for _, c := range countries {
		result.Countries = append(result.Countries, models.CountryStats{
			CountryCode: c.code,
			CountryName: c.name,
			Counters:    c.counters,
		})
	}
	sort.Slice(result.Countries, func(i, j int) bool {
		if result.Countries[i].Visitors != result.Countries[j].Visitors {
			return result.Countries[i].Visitors > result.Countries[j].Visitors
		}
		return result.Countries[i].CountryCode < result.Countries[j].CountryCode
	})

	return result, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, since time.Time, limit int) ([]*models.RawEvent, error) {
	if limit <= 0 {
		limit = 1000
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.RawEvent
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		e := s.events[i]
		if e.CreatedAt.Before(since) {
			continue
		}
		copied := *e
		events = append(events, &copied)
	}
	return events, nil
}

// PurgeEventsBefore removes raw events older than cutoff, rebuilding the
// dedup indexes. Rollups and purchase markers are untouched.
func (s *MemoryStore) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept

	if removed > 0 {
		s.eventsByIP = make(map[string][]*models.RawEvent)
		s.eventsBySession = make(map[string][]*models.RawEvent)
		for _, e := range s.events {
			s.eventsByIP[e.IPAddress] = append(s.eventsByIP[e.IPAddress], e)
			s.eventsBySession[e.SessionID] = append(s.eventsBySession[e.SessionID], e)
		}
	}

	return removed, nil
}
