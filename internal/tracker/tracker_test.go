package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/dedup"
	"github.com/cartpulse/cartpulse/internal/geo"
	"github.com/cartpulse/cartpulse/internal/models"
	"github.com/cartpulse/cartpulse/internal/publish"
	"github.com/cartpulse/cartpulse/internal/storage"
)

var testPublishCfg = config.PublishConfig{
	Channel:     "test:events",
	SiteID:      "shop-1",
	MaxAttempts: 1,
	RetryDelay:  time.Millisecond,
	Timeout:     time.Second,
}

var testDedupCfg = config.DedupConfig{
	CartWindow:     30 * time.Second,
	CheckoutWindow: 10 * time.Minute,
	CheckoutMarker: time.Hour,
}

type sentMessage struct {
	channel string
	event   string
	payload map[string]any
}

// capturePublisher records sends on a channel so tests can wait for the
// detached notify goroutine.
type capturePublisher struct {
	sent chan sentMessage
	err  error
}

var _ publish.Publisher = (*capturePublisher)(nil)

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{sent: make(chan sentMessage, 16)}
}

func (p *capturePublisher) Send(ctx context.Context, channel, event string, payload map[string]any) error {
	p.sent <- sentMessage{channel: channel, event: event, payload: payload}
	return p.err
}

func (p *capturePublisher) wait(t *testing.T) sentMessage {
	t.Helper()
	select {
	case msg := <-p.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
		return sentMessage{}
	}
}

// staticResolver answers every lookup with one country.
type staticResolver struct {
	country geo.Country
}

func (r staticResolver) Resolve(string) (geo.Country, error) {
	return r.country, nil
}

type harness struct {
	store     *storage.MemoryStore
	publisher *capturePublisher
	service   *Service
	now       time.Time
}

func newHarness(t *testing.T, resolver geo.Resolver) *harness {
	t.Helper()
	h := &harness{
		store:     storage.NewMemoryStore(),
		publisher: newCapturePublisher(),
		now:       time.Date(2026, 5, 13, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	markers := dedup.NewMemoryMarkerStore()
	markers.SetClock(clock)
	gate := dedup.NewGate(h.store, markers, testDedupCfg, clock, zap.NewNop())
	h.service = NewService(h.store, gate, resolver, h.publisher, nil, nil, testPublishCfg, clock, zap.NewNop())
	return h
}

func TestTrackAcceptsAndPersists(t *testing.T) {
	h := newHarness(t, staticResolver{geo.Country{Code: "DE", Name: "Germany"}})

	result, err := h.service.Track(context.Background(), &TrackRequest{
		EventType: "visitor",
		SessionID: "s1",
		IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if !result.Accepted || result.Duplicate || result.EventID == 0 {
		t.Fatalf("result = %+v, want accepted with id", result)
	}

	stats, err := h.store.GetStats(context.Background(), "2026-05-13", "2026-05-13")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Store.Visitors != 1 {
		t.Errorf("visitors = %d, want 1", stats.Store.Visitors)
	}
	if len(stats.Countries) != 1 || stats.Countries[0].CountryCode != "DE" {
		t.Errorf("countries = %+v, want geo-enriched DE", stats.Countries)
	}

	msg := h.publisher.wait(t)
	if msg.event != "event-tracked" {
		t.Errorf("published event = %q, want event-tracked", msg.event)
	}
	if msg.channel != "test:events" {
		t.Errorf("channel = %q", msg.channel)
	}
	if msg.payload["site"] != "shop-1" || msg.payload["event_type"] != "visitor" {
		t.Errorf("payload = %+v", msg.payload)
	}
}

func TestTrackPurchasePublishesOrderCreated(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.service.Track(context.Background(), &TrackRequest{
		EventType: "purchase",
		SessionID: "s1",
		IPAddress: "10.0.0.1",
		ProductID: 7,
		OrderID:   "ord-1",
		Extra:     map[string]any{"total": 59.90},
	})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("result = %+v, want accepted", result)
	}

	msg := h.publisher.wait(t)
	if msg.event != "order-created" {
		t.Errorf("published event = %q, want order-created", msg.event)
	}
	if msg.payload["order_id"] != "ord-1" {
		t.Errorf("payload order_id = %v", msg.payload["order_id"])
	}
	if msg.payload["total"] != "59.9" {
		t.Errorf("payload total = %v, want stringified extra", msg.payload["total"])
	}
}

func TestTrackDuplicateIsNotAnError(t *testing.T) {
	h := newHarness(t, nil)
	req := &TrackRequest{EventType: "add_to_cart", SessionID: "s1", IPAddress: "10.0.0.1", ProductID: 3}

	first, err := h.service.Track(context.Background(), req)
	if err != nil || !first.Accepted {
		t.Fatalf("first track = %+v, %v", first, err)
	}
	h.publisher.wait(t)

	h.now = h.now.Add(5 * time.Second)
	second, err := h.service.Track(context.Background(), req)
	if err != nil {
		t.Fatalf("duplicate track returned error: %v", err)
	}
	if second.Accepted || !second.Duplicate {
		t.Fatalf("second track = %+v, want duplicate", second)
	}

	// Nothing published for the suppressed duplicate.
	select {
	case msg := <-h.publisher.sent:
		t.Fatalf("duplicate published %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	stats, _ := h.store.GetStats(context.Background(), "2026-05-13", "2026-05-13")
	if stats.Store.AddToCart != 1 {
		t.Errorf("add_to_cart = %d, want exactly 1", stats.Store.AddToCart)
	}
}

func TestTrackValidation(t *testing.T) {
	h := newHarness(t, nil)

	cases := []TrackRequest{
		{EventType: "refund", SessionID: "s1", IPAddress: "1.1.1.1"},
		{EventType: "visitor", IPAddress: "1.1.1.1"},
		{EventType: "visitor", SessionID: "s1"},
		{EventType: "purchase", SessionID: "s1", IPAddress: "1.1.1.1"},
	}
	for _, req := range cases {
		if _, err := h.service.Track(context.Background(), &req); !errors.Is(err, models.ErrValidation) {
			t.Errorf("Track(%+v) = %v, want ErrValidation", req, err)
		}
	}

	events, _ := h.store.ListEvents(context.Background(), time.Time{}, 10)
	if len(events) != 0 {
		t.Errorf("%d events persisted from invalid requests", len(events))
	}
}

func TestTrackPublishFailureDoesNotAffectOutcome(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.err = errors.New("channel down")

	result, err := h.service.Track(context.Background(), &TrackRequest{
		EventType: "checkout",
		SessionID: "s1",
		IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("result = %+v, want accepted despite publish failure", result)
	}
	h.publisher.wait(t)

	// The write is durable.
	events, _ := h.store.ListEvents(context.Background(), time.Time{}, 10)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestTrackRacingPurchasesCountOnce(t *testing.T) {
	// Bypass the gate path by writing the first order directly, then
	// confirm the durable marker downgrades the second to a duplicate.
	h := newHarness(t, nil)

	first := &models.RawEvent{
		Type:      models.EventPurchase,
		SessionID: "other",
		IPAddress: "10.0.0.2",
		OrderID:   "ord-9",
		CreatedAt: h.now,
	}
	if _, err := h.store.SaveEvent(context.Background(), first); err != nil {
		t.Fatalf("seed purchase failed: %v", err)
	}

	result, err := h.service.Track(context.Background(), &TrackRequest{
		EventType: "purchase",
		SessionID: "s1",
		IPAddress: "10.0.0.1",
		OrderID:   "ord-9",
	})
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("result = %+v, want duplicate", result)
	}

	stats, _ := h.store.GetStats(context.Background(), "2026-05-13", "2026-05-13")
	if stats.Store.Purchases != 1 {
		t.Errorf("purchases = %d, want exactly 1", stats.Store.Purchases)
	}
}
