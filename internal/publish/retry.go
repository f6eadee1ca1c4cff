package publish

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/metrics"
)

// RetryPolicy bounds publish attempts: MaxAttempts tries with a fixed
// Delay between them, each under its own Timeout.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

// Retrier wraps a Publisher with a bounded retry policy. Exhausting the
// retries is logged and swallowed: a lost notification never surfaces to
// the tracking caller and never touches the committed write.
type Retrier struct {
	publisher Publisher
	policy    RetryPolicy
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRetrier creates a retrying publisher.
func NewRetrier(publisher Publisher, policy RetryPolicy, m *metrics.Metrics, logger *zap.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Timeout <= 0 {
		policy.Timeout = 10 * time.Second
	}
	return &Retrier{
		publisher: publisher,
		policy:    policy,
		metrics:   m,
		logger:    logger,
	}
}

// Send attempts the publish up to MaxAttempts times. The returned error
// is the last attempt's, for metrics; callers on the tracking path ignore
// it.
func (r *Retrier) Send(ctx context.Context, channel, event string, payload map[string]any) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if r.metrics != nil {
			r.metrics.RecordPublishAttempt(event)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		err := r.publisher.Send(attemptCtx, channel, event, payload)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		r.logger.Warn("publish attempt failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Error(err),
		)

		if attempt < r.policy.MaxAttempts {
			select {
			case <-time.After(r.policy.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RecordPublishDropped(event)
	}
	r.logger.Error("publish dropped after retries",
		zap.String("channel", channel),
		zap.String("event", event),
		zap.Error(lastErr),
	)
	return lastErr
}
