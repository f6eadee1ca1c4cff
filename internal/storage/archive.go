package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse/internal/database"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/models"
	"go.uber.org/zap"
)

// ClickHouseArchive buffers accepted events and batch-inserts them into
// ClickHouse for analytical queries. Archiving is best-effort: a failed
// flush is logged and the batch dropped; the primary store already holds
// the events.
type ClickHouseArchive struct {
	db      *database.ClickHouseDB
	metrics *metrics.Metrics
	logger  *zap.Logger

	flushSize     int
	flushInterval time.Duration

	in   chan *models.RawEvent
	done chan struct{}
}

// NewClickHouseArchive creates the archive and starts its flush loop.
func NewClickHouseArchive(db *database.ClickHouseDB, flushSize int, flushInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *ClickHouseArchive {
	if flushSize <= 0 {
		flushSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	a := &ClickHouseArchive{
		db:            db,
		metrics:       m,
		logger:        logger,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		in:            make(chan *models.RawEvent, 4*flushSize),
		done:          make(chan struct{}),
	}
	go a.run()
	return a
}

// Migrate creates the archive table if it does not exist.
func (a *ClickHouseArchive) Migrate(ctx context.Context) error {
	err := a.db.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events_archive (
			id           Int64,
			event_type   LowCardinality(String),
			session_id   String,
			ip_address   String,
			product_id   Int64,
			user_id      Int64,
			quantity     Int64,
			order_id     String,
			country_code FixedString(2),
			country_name String,
			created_at   DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (created_at, id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

// Enqueue hands an event to the flush loop. The write path is never
// blocked: if the buffer is full the event is dropped and counted in the
// log on the next flush failure.
func (a *ClickHouseArchive) Enqueue(e *models.RawEvent) {
	copied := *e
	select {
	case a.in <- &copied:
	default:
		if a.metrics != nil {
			a.metrics.RecordArchiveDropped()
		}
		a.logger.Warn("archive buffer full, dropping event", zap.Int64("event_id", e.ID))
	}
}

// Close flushes remaining events and stops the loop.
func (a *ClickHouseArchive) Close() {
	close(a.in)
	<-a.done
}

func (a *ClickHouseArchive) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.RawEvent, 0, a.flushSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-a.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= a.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *ClickHouseArchive) flush(events []*models.RawEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := a.db.Conn.PrepareBatch(ctx, `
		INSERT INTO events_archive (
			id, event_type, session_id, ip_address, product_id, user_id,
			quantity, order_id, country_code, country_name, created_at
		)
	`)
	if err != nil {
		a.logger.Error("failed to prepare archive batch", zap.Error(err), zap.Int("events", len(events)))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.ID, string(e.Type), e.SessionID, e.IPAddress, e.ProductID,
			e.UserID, e.Quantity, e.OrderID, e.CountryCode, e.CountryName,
			e.CreatedAt,
		); err != nil {
			a.logger.Error("failed to append archive row", zap.Error(err), zap.Int64("event_id", e.ID))
		}
	}

	if err := batch.Send(); err != nil {
		a.logger.Error("failed to send archive batch", zap.Error(err), zap.Int("events", len(events)))
		return
	}

	if a.metrics != nil {
		a.metrics.RecordArchiveFlushed(len(events))
	}
	a.logger.Debug("archived events", zap.Int("events", len(events)))
}

// NopArchiver is used when the ClickHouse archive is disabled.
type NopArchiver struct{}

func (NopArchiver) Enqueue(*models.RawEvent) {}
