package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deliveriesSchema = `
CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id              TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    payload         BYTEA NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    retry_count     INT NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    next_attempt_at TIMESTAMPTZ NOT NULL,
    last_error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS webhook_deliveries_open_idx
    ON webhook_deliveries (next_attempt_at)
    WHERE status IN ('pending', 'retrying');
CREATE INDEX IF NOT EXISTS webhook_deliveries_subscription_idx
    ON webhook_deliveries (subscription_id, created_at DESC);
`

// PostgresStore persists deliveries in PostgreSQL so they survive process
// restarts and are visible across instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database, ensures the delivery table
// exists, and returns the store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse webhook store dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect webhook store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping webhook store: %w", err)
	}

	if _, err := pool.Exec(ctx, deliveriesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure webhook schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// CreateDelivery implements Store.
func (s *PostgresStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO webhook_deliveries
            (id, subscription_id, event_type, payload, created_at, retry_count, status, next_attempt_at, last_error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.SubscriptionID, d.EventType, d.Payload, d.CreatedAt,
		d.RetryCount, d.Status, d.NextAttemptAt, d.LastError)
	if err != nil {
		return fmt.Errorf("create delivery %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDelivery implements Store.
func (s *PostgresStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE webhook_deliveries
        SET retry_count = $2, status = $3, next_attempt_at = $4, last_error = $5
        WHERE id = $1`,
		d.ID, d.RetryCount, d.Status, d.NextAttemptAt, d.LastError)
	if err != nil {
		return fmt.Errorf("update delivery %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// Delivery implements Store.
func (s *PostgresStore) Delivery(ctx context.Context, id string) (*Delivery, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT id, subscription_id, event_type, payload, created_at, retry_count, status, next_attempt_at, last_error
        FROM webhook_deliveries WHERE id = $1`, id)

	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery %s: %w", id, err)
	}
	return d, nil
}

// ListBySubscription implements Store.
func (s *PostgresStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*Delivery, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, subscription_id, event_type, payload, created_at, retry_count, status, next_attempt_at, last_error
        FROM webhook_deliveries
        WHERE subscription_id = $1
        ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for %s: %w", subscriptionID, err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// Open implements Store.
func (s *PostgresStore) Open(ctx context.Context, _ time.Time) ([]*Delivery, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, subscription_id, event_type, payload, created_at, retry_count, status, next_attempt_at, last_error
        FROM webhook_deliveries
        WHERE status IN ($1, $2)
        ORDER BY next_attempt_at ASC`, StatusPending, StatusRetrying)
	if err != nil {
		return nil, fmt.Errorf("list open deliveries: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// Ping checks database connectivity for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload,
		&d.CreatedAt, &d.RetryCount, &d.Status, &d.NextAttemptAt, &d.LastError)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]*Delivery, error) {
	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
