package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/ledger"
	"github.com/portera/portera/internal/wallet"
)

// HoldKey is the deterministic idempotency key for an order's escrow hold.
func HoldKey(orderID string) string {
	return "hold:" + orderID
}

// Service creates orders and places the buyer's funds on escrow hold.
type Service struct {
	repo    Repository
	ledger  ledger.Ledger
	wallets *wallet.Service
	sink    audit.Sink
}

// NewService constructs an order service.
func NewService(repo Repository, ledgerBackend ledger.Ledger, wallets *wallet.Service, sink audit.Sink) *Service {
	return &Service{repo: repo, ledger: ledgerBackend, wallets: wallets, sink: sink}
}

// CreateInput captures a matched delivery commission.
type CreateInput struct {
	RequestID      string
	BuyerID        string
	TravelerID     string
	TravelerAmount decimal.Decimal
	Currency       string
	ReleaseAt      time.Time
}

// Create records a new order awaiting payment.
func (s *Service) Create(ctx context.Context, input CreateInput) (Order, error) {
	if input.BuyerID == "" || input.TravelerID == "" {
		return Order{}, fmt.Errorf("buyer and traveler ids are required")
	}
	if !input.TravelerAmount.IsPositive() {
		return Order{}, ledger.ErrInvalidAmount
	}
	if input.ReleaseAt.IsZero() {
		return Order{}, fmt.Errorf("release deadline is required")
	}

	now := time.Now().UTC()
	o := Order{
		ID:             uuid.NewString(),
		RequestID:      input.RequestID,
		BuyerID:        input.BuyerID,
		TravelerID:     input.TravelerID,
		TravelerAmount: input.TravelerAmount,
		Currency:       input.Currency,
		Status:         StatusPendingPayment,
		ReleaseAt:      input.ReleaseAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.Currency == "" {
		o.Currency = "EUR"
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Get fetches one order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.Get(ctx, id)
}

// HoldResult describes the outcome of placing an order's funds on hold.
type HoldResult struct {
	Order     Order
	EntryID   string
	Duplicate bool
}

// Hold moves the traveller's fee from the buyer's AVAILABLE account into the
// traveller's PENDING account and marks the order PAID. Re-invoking for the
// same order replays the stored entry and changes no balance.
func (s *Service) Hold(ctx context.Context, orderID, actorID string) (HoldResult, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return HoldResult{}, err
	}
	switch o.Status {
	case StatusPendingPayment:
	case StatusPaid, StatusCompleted:
		return HoldResult{Order: o, Duplicate: true}, nil
	default:
		return HoldResult{}, fmt.Errorf("order %s is %s, cannot hold", o.ID, o.Status)
	}

	buyerWallet, err := s.wallets.GetByOwner(ctx, o.BuyerID)
	if err != nil {
		return HoldResult{}, fmt.Errorf("buyer wallet: %w", err)
	}
	buyerAvailable, _, err := s.wallets.AccountPair(ctx, buyerWallet.ID)
	if err != nil {
		return HoldResult{}, err
	}
	travelerWallet, err := s.wallets.EnsureForOwner(ctx, o.TravelerID, o.Currency)
	if err != nil {
		return HoldResult{}, fmt.Errorf("traveler wallet: %w", err)
	}
	_, travelerPending, err := s.wallets.AccountPair(ctx, travelerWallet.ID)
	if err != nil {
		return HoldResult{}, err
	}

	entry, err := s.ledger.ApplyEntry(ctx, ledger.ApplyInput{
		Type:            ledger.EntryHold,
		DebitAccountID:  buyerAvailable.ID,
		CreditAccountID: travelerPending.ID,
		Amount:          o.TravelerAmount,
		Currency:        o.Currency,
		IdempotencyKey:  HoldKey(o.ID),
		Reference:       ledger.Reference{Type: ledger.RefOrder, ID: o.ID},
		Description:     fmt.Sprintf("escrow hold for order %s", o.ID),
		ActorID:         actorID,
	})
	duplicate := errors.Is(err, ledger.ErrDuplicateEntry)
	if err != nil && !duplicate {
		return HoldResult{}, err
	}

	if err := s.repo.MarkPaid(ctx, o.ID); err != nil {
		return HoldResult{}, err
	}
	o, err = s.repo.Get(ctx, o.ID)
	if err != nil {
		return HoldResult{}, err
	}

	if s.sink != nil {
		var actor *string
		if actorID != "" {
			actor = &actorID
		}
		_ = s.sink.Record(ctx, audit.New(actor, audit.ActionEscrowHold, audit.EntityOrder, o.ID, map[string]any{
			"entry_id": entry.ID,
			"amount":   o.TravelerAmount.String(),
			"currency": o.Currency,
		}))
	}

	return HoldResult{Order: o, EntryID: entry.ID, Duplicate: duplicate}, nil
}
