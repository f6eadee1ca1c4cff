package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/storage"
)

// perSweepTimeout bounds one purge pass against a slow database.
const perSweepTimeout = 5 * time.Minute

// Runner periodically deletes raw events older than the retention window.
// Rollups and order markers are never touched.
type Runner struct {
	store   storage.Store
	cfg     config.RetentionConfig
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// NewRunner creates a retention runner.
func NewRunner(store storage.Store, cfg config.RetentionConfig, m *metrics.Metrics, now func() time.Time, logger *zap.Logger) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:   store,
		cfg:     cfg,
		metrics: m,
		now:     now,
		logger:  logger,
	}
}

// Start runs the sweep loop until ctx is cancelled. One sweep runs
// immediately on start.
func (r *Runner) Start(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Sweep runs one purge pass. Exposed for operational triggering.
func (r *Runner) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.cfg.MaxAge)

	sweepCtx, cancel := context.WithTimeout(ctx, perSweepTimeout)
	defer cancel()

	return r.store.PurgeEventsBefore(sweepCtx, cutoff)
}

func (r *Runner) sweep(ctx context.Context) {
	purged, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.RecordPurged(purged)
	}
	if purged > 0 {
		r.logger.Info("retention sweep completed",
			zap.Int64("events_purged", purged),
			zap.Duration("max_age", r.cfg.MaxAge),
		)
	}
}
