package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores orders in PostgreSQL.
type PostgresRepository struct {
	db       *pgxpool.Pool
	requests RequestUpdater
}

// NewPostgresRepository builds an order repository backed by PostgreSQL.
// requests may be nil when no external request store is wired.
func NewPostgresRepository(db *pgxpool.Pool, requests RequestUpdater) *PostgresRepository {
	return &PostgresRepository{db: db, requests: requests}
}

const orderColumns = `id, request_id, buyer_id, traveler_id, traveler_amount, currency, status, release_at, created_at, updated_at`

// Create inserts an order.
func (r *PostgresRepository) Create(ctx context.Context, o Order) error {
	orderID, err := uuid.Parse(o.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		orderID, o.RequestID, o.BuyerID, o.TravelerID, o.TravelerAmount, o.Currency,
		string(o.Status), o.ReleaseAt.UTC(), o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	return err
}

// Get fetches one order.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Order, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return Order{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// FindEligibleForRelease returns PAID orders whose deadline has passed.
func (r *PostgresRepository) FindEligibleForRelease(ctx context.Context, now time.Time) ([]Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
        WHERE status = $1 AND release_at <= $2 ORDER BY release_at`, string(StatusPaid), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// MarkPaid transitions PENDING_PAYMENT to PAID.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatusPendingPayment, StatusPaid)
}

// MarkCompleted transitions PAID to COMPLETED and completes the parent request.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string) error {
	o, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == StatusCompleted {
		return nil
	}
	if err := r.transition(ctx, id, StatusPaid, StatusCompleted); err != nil {
		return err
	}
	if r.requests != nil && o.RequestID != "" {
		return r.requests.MarkRequestCompleted(ctx, o.RequestID)
	}
	return nil
}

func (r *PostgresRepository) transition(ctx context.Context, id string, from, to Status) error {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = $3, updated_at = $4
        WHERE id = $1 AND status = $2`, orderID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s is not %s", id, from)
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		id     uuid.UUID
		status string
	)
	if err := row.Scan(&id, &o.RequestID, &o.BuyerID, &o.TravelerID, &o.TravelerAmount,
		&o.Currency, &status, &o.ReleaseAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.ID = id.String()
	o.Status = Status(status)
	o.ReleaseAt = o.ReleaseAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}
