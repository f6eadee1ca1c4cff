package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/dedup"
	"github.com/cartpulse/cartpulse/internal/geo"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/models"
	"github.com/cartpulse/cartpulse/internal/publish"
	"github.com/cartpulse/cartpulse/internal/storage"
)

// Live channel event names.
const (
	eventTracked = "event-tracked"
	orderCreated = "order-created"
)

// Service handles event ingestion: validation, geo enrichment,
// deduplication, transactional persistence and live notification fan-out.
type Service struct {
	store     storage.Store
	gate      *dedup.Gate
	resolver  geo.Resolver
	publisher publish.Publisher
	archiver  storage.Archiver
	metrics   *metrics.Metrics
	cfg       config.PublishConfig
	now       func() time.Time
	logger    *zap.Logger
}

// TrackRequest holds the fields of an incoming tracking call.
type TrackRequest struct {
	EventType string
	SessionID string
	IPAddress string
	ProductID int64
	UserID    int64
	Quantity  int64
	OrderID   string
	// Extra carries additional client-supplied payload fields forwarded
	// to the live channel. They never reach storage.
	Extra map[string]any
}

// TrackResult reports the outcome of one tracking call.
type TrackResult struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	EventID   int64  `json:"event_id,omitempty"`
	EventType string `json:"event_type"`
}

// NewService creates a tracking service.
func NewService(
	store storage.Store,
	gate *dedup.Gate,
	resolver geo.Resolver,
	publisher publish.Publisher,
	archiver storage.Archiver,
	m *metrics.Metrics,
	cfg config.PublishConfig,
	now func() time.Time,
	logger *zap.Logger,
) *Service {
	if now == nil {
		now = time.Now
	}
	if resolver == nil {
		resolver = geo.Noop{}
	}
	if archiver == nil {
		archiver = storage.NopArchiver{}
	}
	return &Service{
		store:     store,
		gate:      gate,
		resolver:  resolver,
		publisher: publisher,
		archiver:  archiver,
		metrics:   m,
		cfg:       cfg,
		now:       now,
		logger:    logger,
	}
}

// Track processes one tracking call. Validation failures return
// ErrValidation wrapped with detail; duplicates return a result with
// Duplicate set and no error. A nil error with Accepted set means the
// event and its rollup increments are durable.
func (s *Service) Track(ctx context.Context, req *TrackRequest) (*TrackResult, error) {
	started := s.now()

	eventType, err := models.ParseEventType(req.EventType)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRejected(req.EventType, "validation")
		}
		return nil, err
	}

	event := &models.RawEvent{
		Type:      eventType,
		SessionID: req.SessionID,
		IPAddress: req.IPAddress,
		ProductID: req.ProductID,
		UserID:    req.UserID,
		Quantity:  req.Quantity,
		OrderID:   req.OrderID,
		CreatedAt: started.UTC(),
	}

	s.enrichCountry(event)

	if err := event.Normalize(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordRejected(string(eventType), "validation")
		}
		return nil, err
	}

	identity := dedup.Identity{
		SessionID: event.SessionID,
		IPAddress: event.IPAddress,
		ProductID: event.ProductID,
		OrderID:   event.OrderID,
	}

	accept, err := s.gate.ShouldAccept(ctx, event.Type, identity)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRejected(string(eventType), "dedup_check")
		}
		return nil, fmt.Errorf("%w: dedup check: %v", models.ErrPersistence, err)
	}
	if !accept {
		if s.metrics != nil {
			s.metrics.RecordDuplicate(string(eventType), s.now().Sub(started))
		}
		s.logger.Debug("duplicate event suppressed",
			zap.String("event_type", string(eventType)),
			zap.String("session_id", event.SessionID),
		)
		return &TrackResult{Duplicate: true, EventType: string(eventType)}, nil
	}

	id, err := s.store.SaveEvent(ctx, event)
	if err != nil {
		// Two purchases raced past the gate; the durable order marker
		// caught the loser inside the transaction.
		if errors.Is(err, storage.ErrDuplicateOrder) {
			if s.metrics != nil {
				s.metrics.RecordDuplicate(string(eventType), s.now().Sub(started))
			}
			return &TrackResult{Duplicate: true, EventType: string(eventType)}, nil
		}
		if s.metrics != nil {
			s.metrics.RecordRejected(string(eventType), "persistence")
		}
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	event.ID = id

	s.gate.RecordAccept(ctx, event.Type, identity)
	s.archiver.Enqueue(event)

	// Fire-and-forget: the live channel must never delay or fail the
	// tracking response.
	go s.notify(event, req.Extra)

	if s.metrics != nil {
		s.metrics.RecordAccepted(string(eventType), s.now().Sub(started))
	}
	s.logger.Info("event tracked",
		zap.Int64("event_id", id),
		zap.String("event_type", string(eventType)),
		zap.String("session_id", event.SessionID),
		zap.String("country_code", event.CountryCode),
	)

	return &TrackResult{Accepted: true, EventID: id, EventType: string(eventType)}, nil
}

// enrichCountry resolves the event's country from its IP address. An
// unresolvable country leaves both fields empty.
func (s *Service) enrichCountry(event *models.RawEvent) {
	if event.IPAddress == "" {
		return
	}
	started := s.now()
	country, err := s.resolver.Resolve(event.IPAddress)
	if s.metrics != nil {
		s.metrics.RecordGeoLookup(s.now().Sub(started))
	}
	if err != nil {
		s.logger.Debug("geo lookup failed", zap.Error(err), zap.String("ip", event.IPAddress))
		return
	}
	event.CountryCode = country.Code
	event.CountryName = country.Name
}

// notify publishes the accepted event to the live channel, detached from
// the request context.
func (s *Service) notify(event *models.RawEvent, extra map[string]any) {
	payload := make(map[string]any, len(extra)+6)
	for k, v := range extra {
		payload[k] = v
	}
	payload["event_type"] = string(event.Type)
	payload["country_code"] = event.CountryCode
	if event.ProductID > 0 {
		payload["product_id"] = event.ProductID
	}
	if event.OrderID != "" {
		payload["order_id"] = event.OrderID
	}

	name := eventTracked
	if event.Type == models.EventPurchase {
		name = orderCreated
	}

	prepared := publish.PreparePayload(payload, s.cfg.SiteID, s.now())

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout*time.Duration(s.cfg.MaxAttempts)+s.cfg.RetryDelay*time.Duration(s.cfg.MaxAttempts))
	defer cancel()

	if err := s.publisher.Send(ctx, s.cfg.Channel, name, prepared); err != nil {
		s.logger.Debug("live notification dropped",
			zap.String("event", name),
			zap.Int64("event_id", event.ID),
			zap.Error(err),
		)
	}
}
