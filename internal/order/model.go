package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order lifecycle relative to payment and delivery.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// Order is a commissioned delivery. The order is the source of truth for when
// a release is due; the ledger is the source of truth for whether money moved.
type Order struct {
	ID             string
	RequestID      string
	BuyerID        string
	TravelerID     string
	TravelerAmount decimal.Decimal
	Currency       string
	Status         Status
	ReleaseAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrNotFound indicates the order does not exist.
var ErrNotFound = errors.New("order not found")

// RequestUpdater marks the parent request COMPLETED alongside the order. The
// request store lives outside this service.
type RequestUpdater interface {
	MarkRequestCompleted(ctx context.Context, requestID string) error
}

// Repository tracks orders and their release deadlines. It never writes
// balances.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)

	// FindEligibleForRelease returns PAID orders whose releaseAt has passed,
	// as a point-in-time read. Orders becoming eligible mid-scan are picked
	// up on the next run.
	FindEligibleForRelease(ctx context.Context, now time.Time) ([]Order, error)

	// MarkPaid transitions PENDING_PAYMENT to PAID once funds are held.
	MarkPaid(ctx context.Context, id string) error

	// MarkCompleted transitions the order (and its parent request) to
	// COMPLETED. Callers invoke it only after the release entry is COMPLETED.
	MarkCompleted(ctx context.Context, id string) error
}
