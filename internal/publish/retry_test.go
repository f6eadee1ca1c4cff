package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/metrics"
)

// fakePublisher fails a configurable number of leading attempts.
type fakePublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakePublisher) Send(ctx context.Context, channel, event string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transport down")
	}
	return nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestRetrier(p Publisher, attempts int) *Retrier {
	return NewRetrier(p, RetryPolicy{
		MaxAttempts: attempts,
		Delay:       time.Millisecond,
		Timeout:     time.Second,
	}, nil, zap.NewNop())
}

func TestRetrierSucceedsFirstAttempt(t *testing.T) {
	fake := &fakePublisher{}
	r := newTestRetrier(fake, 3)

	if err := r.Send(context.Background(), "ch", "event-tracked", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if fake.callCount() != 1 {
		t.Errorf("calls = %d, want 1", fake.callCount())
	}
}

func TestRetrierRecoversAfterFailure(t *testing.T) {
	fake := &fakePublisher{failures: 2}
	r := newTestRetrier(fake, 3)

	if err := r.Send(context.Background(), "ch", "event-tracked", nil); err != nil {
		t.Fatalf("Send failed after retries: %v", err)
	}
	if fake.callCount() != 3 {
		t.Errorf("calls = %d, want 3", fake.callCount())
	}
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakePublisher{failures: 10}
	r := newTestRetrier(fake, 3)

	if err := r.Send(context.Background(), "ch", "event-tracked", nil); err == nil {
		t.Fatal("Send succeeded, want error after exhausting retries")
	}
	if fake.callCount() != 3 {
		t.Errorf("calls = %d, want exactly 3", fake.callCount())
	}
}

func TestRetrierStopsOnCancelledContext(t *testing.T) {
	fake := &fakePublisher{failures: 10}
	r := NewRetrier(fake, RetryPolicy{
		MaxAttempts: 5,
		Delay:       time.Minute,
		Timeout:     time.Second,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Send(ctx, "ch", "event-tracked", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send = %v, want context.Canceled", err)
	}
	if fake.callCount() != 1 {
		t.Errorf("calls = %d, want 1 before the delay aborted", fake.callCount())
	}
}

func TestRetrierCountsEveryAttempt(t *testing.T) {
	m := metrics.NewMetrics("retry_test")

	fake := &fakePublisher{failures: 10}
	r := NewRetrier(fake, RetryPolicy{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		Timeout:     time.Second,
	}, m, zap.NewNop())

	if err := r.Send(context.Background(), "ch", "order-created", nil); err == nil {
		t.Fatal("Send succeeded, want error after exhausting retries")
	}

	attempts := testutil.ToFloat64(m.PublishAttempts.WithLabelValues("order-created"))
	if attempts != 3 {
		t.Errorf("publish attempts = %v, want 3 (one per transport call)", attempts)
	}
	dropped := testutil.ToFloat64(m.PublishFailures.WithLabelValues("order-created"))
	if dropped != 1 {
		t.Errorf("publish failures = %v, want 1", dropped)
	}
}
