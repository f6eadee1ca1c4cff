package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the store's tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			session_id VARCHAR(50) NOT NULL,
			ip_address VARCHAR(100) NOT NULL,
			product_id BIGINT NOT NULL DEFAULT 0,
			user_id BIGINT NOT NULL DEFAULT 0,
			quantity BIGINT NOT NULL DEFAULT 0,
			order_id TEXT NOT NULL DEFAULT '',
			country_code VARCHAR(2) NOT NULL DEFAULT '',
			country_name VARCHAR(50) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ip_type_created
			ON events (ip_address, event_type, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_type_created
			ON events (session_id, event_type, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events (created_at)`,
		`CREATE TABLE IF NOT EXISTS daily_rollups (
			date DATE NOT NULL,
			country_code VARCHAR(2) NOT NULL DEFAULT '',
			country_name VARCHAR(50) NOT NULL DEFAULT '',
			visitors BIGINT NOT NULL DEFAULT 0,
			add_to_cart BIGINT NOT NULL DEFAULT 0,
			checkouts BIGINT NOT NULL DEFAULT 0,
			purchases BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (date, country_code)
		)`,
		`CREATE TABLE IF NOT EXISTS product_rollups (
			product_id BIGINT NOT NULL,
			date DATE NOT NULL,
			country_code VARCHAR(2) NOT NULL DEFAULT '',
			country_name VARCHAR(50) NOT NULL DEFAULT '',
			visitors BIGINT NOT NULL DEFAULT 0,
			add_to_cart BIGINT NOT NULL DEFAULT 0,
			checkouts BIGINT NOT NULL DEFAULT 0,
			purchases BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (product_id, date, country_code)
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_orders (
			order_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// SaveEvent persists the raw event and both rollup increments in one
// transaction. Purchase events additionally claim the durable order
// marker; losing that claim aborts the transaction with ErrDuplicateOrder
// so an order can never be counted twice, even across racing requests.
func (s *PostgresStore) SaveEvent(ctx context.Context, e *models.RawEvent) (int64, error) {
	col, ok := models.CounterColumn(e.Type)
	if !ok {
		return 0, fmt.Errorf("%w: unknown event type %q", models.ErrValidation, string(e.Type))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", models.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if e.Type == models.EventPurchase {
		tag, err := tx.Exec(ctx, `
			INSERT INTO purchase_orders (order_id, created_at)
			VALUES ($1, $2)
			ON CONFLICT (order_id) DO NOTHING
		`, e.OrderID, e.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("%w: order marker: %v", models.ErrPersistence, err)
		}
		if tag.RowsAffected() == 0 {
			return 0, ErrDuplicateOrder
		}
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO events (
			event_type, session_id, ip_address, product_id, user_id,
			quantity, order_id, country_code, country_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, string(e.Type), e.SessionID, e.IPAddress, e.ProductID, e.UserID,
		e.Quantity, e.OrderID, e.CountryCode, e.CountryName, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", models.ErrPersistence, err)
	}

	day := e.Day()

	// col comes from the closed event-type enum, never from user input.
	// The conflict branch leaves country_name alone: first writer wins.
	dailyUpsert := fmt.Sprintf(`
		INSERT INTO daily_rollups (date, country_code, country_name, %[1]s)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (date, country_code)
		DO UPDATE SET %[1]s = daily_rollups.%[1]s + 1
	`, col)
	if _, err := tx.Exec(ctx, dailyUpsert, day, e.CountryCode, e.CountryName); err != nil {
		return 0, fmt.Errorf("%w: daily rollup: %v", models.ErrPersistence, err)
	}

	if e.ProductID > 0 {
		productUpsert := fmt.Sprintf(`
			INSERT INTO product_rollups (product_id, date, country_code, country_name, %[1]s)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (product_id, date, country_code)
			DO UPDATE SET %[1]s = product_rollups.%[1]s + 1
		`, col)
		if _, err := tx.Exec(ctx, productUpsert, e.ProductID, day, e.CountryCode, e.CountryName); err != nil {
			return 0, fmt.Errorf("%w: product rollup: %v", models.ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", models.ErrPersistence, err)
	}

	e.ID = id
	return id, nil
}

// =============================================
// Dedup read primitives
// =============================================

func (s *PostgresStore) HasVisitorEventBetween(ctx context.Context, ip string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE event_type = 'visitor' AND ip_address = $1
			  AND created_at >= $2 AND created_at < $3
		)
	`, ip, from, to).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: visitor lookup: %v", models.ErrPersistence, err)
	}
	return exists, nil
}

func (s *PostgresStore) HasCartEventSince(ctx context.Context, ip string, productID int64, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE event_type = 'add_to_cart' AND ip_address = $1
			  AND product_id = $2 AND created_at >= $3
		)
	`, ip, productID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: cart lookup: %v", models.ErrPersistence, err)
	}
	return exists, nil
}

func (s *PostgresStore) HasCheckoutEventSince(ctx context.Context, sessionID string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE event_type = 'checkout' AND session_id = $1
			  AND created_at >= $2
		)
	`, sessionID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: checkout lookup: %v", models.ErrPersistence, err)
	}
	return exists, nil
}

func (s *PostgresStore) HasPurchaseOrder(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE order_id = $1)
	`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: order lookup: %v", models.ErrPersistence, err)
	}
	return exists, nil
}

// =============================================
// Reporting reads
// =============================================

// GetStats sums rollup rows over the inclusive date range. Malformed
// dates produce a zeroed result rather than an error.
func (s *PostgresStore) GetStats(ctx context.Context, startDate, endDate string) (*models.StatsResult, error) {
	result := &models.StatsResult{
		Products:  []models.ProductStats{},
		Countries: []models.CountryStats{},
	}

	if !ValidDateRange(startDate, endDate) {
		return result, nil
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(visitors), 0), COALESCE(SUM(add_to_cart), 0),
		       COALESCE(SUM(checkouts), 0), COALESCE(SUM(purchases), 0)
		FROM daily_rollups
		WHERE date >= $1::date AND date <= $2::date
	`, startDate, endDate).Scan(
		&result.Store.Visitors, &result.Store.AddToCart,
		&result.Store.Checkouts, &result.Store.Purchases,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: store totals: %v", models.ErrPersistence, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT product_id, SUM(visitors), SUM(add_to_cart), SUM(checkouts), SUM(purchases)
		FROM product_rollups
		WHERE date >= $1::date AND date <= $2::date
		GROUP BY product_id
		ORDER BY SUM(visitors) DESC, product_id ASC
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: product rollups: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.ProductStats
		if err := rows.Scan(&p.ProductID, &p.Visitors, &p.AddToCart, &p.Checkouts, &p.Purchases); err != nil {
			return nil, fmt.Errorf("%w: scan product row: %v", models.ErrPersistence, err)
		}
		result.Products = append(result.Products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: product rows: %v", models.ErrPersistence, err)
	}

	countryRows, err := s.pool.Query(ctx, `
		SELECT country_code, country_name,
		       SUM(visitors), SUM(add_to_cart), SUM(checkouts), SUM(purchases)
		FROM daily_rollups
		WHERE date >= $1::date AND date <= $2::date AND country_code <> ''
		GROUP BY country_code, country_name
		ORDER BY SUM(visitors) DESC, country_code ASC
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: country rollups: %v", models.ErrPersistence, err)
	}
	defer countryRows.Close()

	for countryRows.Next() {
		var c models.CountryStats
		if err := countryRows.Scan(&c.CountryCode, &c.CountryName,
			&c.Visitors, &c.AddToCart, &c.Checkouts, &c.Purchases); err != nil {
			return nil, fmt.Errorf("%w: scan country row: %v", models.ErrPersistence, err)
		}
		result.Countries = append(result.Countries, c)
	}
	if err := countryRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: country rows: %v", models.ErrPersistence, err)
	}

	return result, nil
}

// ListEvents returns raw events created at or after since, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, since time.Time, limit int) ([]*models.RawEvent, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, session_id, ip_address, product_id, user_id,
		       quantity, order_id, country_code, country_name, created_at
		FROM events
		WHERE created_at >= $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	var events []*models.RawEvent
	for rows.Next() {
		var e models.RawEvent
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.SessionID, &e.IPAddress,
			&e.ProductID, &e.UserID, &e.Quantity, &e.OrderID,
			&e.CountryCode, &e.CountryName, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", models.ErrPersistence, err)
		}
		e.Type = models.EventType(eventType)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: event rows: %v", models.ErrPersistence, err)
	}

	return events, nil
}

// PurgeEventsBefore deletes raw events older than cutoff. Rollups and
// purchase order markers are left untouched.
func (s *PostgresStore) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: purge events: %v", models.ErrPersistence, err)
	}
	return tag.RowsAffected(), nil
}
