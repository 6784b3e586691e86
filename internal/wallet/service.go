package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/ledger"
)

const (
	statusActive = "active"

	defaultCurrency = "EUR"
)

// Service provisions wallets and resolves their ledger accounts. Every wallet
// owns exactly one AVAILABLE and one PENDING account.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledgerBackend ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledgerBackend}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and its AVAILABLE/PENDING account pair.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if input.OwnerID == "" {
		return Wallet{}, fmt.Errorf("owner id is required")
	}
	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Currency:  currency,
		Status:    statusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}
	if _, err := s.ledger.EnsureAccount(ctx, w.ID, ledger.AccountAvailable, currency); err != nil {
		return Wallet{}, err
	}
	if _, err := s.ledger.EnsureAccount(ctx, w.ID, ledger.AccountPending, currency); err != nil {
		return Wallet{}, err
	}

	return w, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet owned by a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// EnsureForOwner returns the owner's wallet, creating it on first use.
func (s *Service) EnsureForOwner(ctx context.Context, ownerID, currency string) (Wallet, error) {
	w, err := s.repo.GetByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Wallet{}, err
	}
	return s.Create(ctx, CreateInput{OwnerID: ownerID, Currency: currency})
}

// AccountPair resolves the wallet's AVAILABLE and PENDING accounts.
func (s *Service) AccountPair(ctx context.Context, walletID string) (available, pending ledger.Account, err error) {
	accounts, err := s.ledger.AccountsForWallet(ctx, walletID)
	if err != nil {
		return ledger.Account{}, ledger.Account{}, err
	}
	var haveAvailable, havePending bool
	for _, acc := range accounts {
		switch acc.Type {
		case ledger.AccountAvailable:
			available, haveAvailable = acc, true
		case ledger.AccountPending:
			pending, havePending = acc, true
		}
	}
	if !haveAvailable || !havePending {
		return ledger.Account{}, ledger.Account{}, fmt.Errorf("wallet %s: %w", walletID, ledger.ErrAccountNotFound)
	}
	return available, pending, nil
}

// Balances returns the wallet's sub-balance snapshot.
func (s *Service) Balances(ctx context.Context, walletID string) (Balances, error) {
	w, err := s.repo.Get(ctx, walletID)
	if err != nil {
		return Balances{}, err
	}
	available, pending, err := s.AccountPair(ctx, w.ID)
	if err != nil {
		return Balances{}, err
	}
	return Balances{
		WalletID:  w.ID,
		Available: available.Balance,
		Pending:   pending.Balance,
		Currency:  w.Currency,
		AsOf:      time.Now().UTC(),
	}, nil
}

// ZeroInput captures an administrative request to empty a wallet.
type ZeroInput struct {
	WalletID       string
	IdempotencyKey string
	ActorID        string
	Reason         string
}

// ZeroResult lists the adjustment entries posted while emptying the wallet.
type ZeroResult struct {
	EntryIDs []string
	Zeroed   decimal.Decimal
}

// ZeroWallet empties both sub-balances of a wallet into the platform clearing
// account. The operation is expressed as ordinary ADJUSTMENT postings, so it
// shows up in the entry log and audit trail like any other movement. Accounts
// already at zero are skipped.
func (s *Service) ZeroWallet(ctx context.Context, input ZeroInput) (ZeroResult, error) {
	if input.IdempotencyKey == "" {
		return ZeroResult{}, fmt.Errorf("idempotency key is required")
	}
	w, err := s.repo.Get(ctx, input.WalletID)
	if err != nil {
		return ZeroResult{}, err
	}
	available, pending, err := s.AccountPair(ctx, w.ID)
	if err != nil {
		return ZeroResult{}, err
	}
	clearing, err := s.ledger.EnsureAccount(ctx, ledger.PlatformWalletID, ledger.AccountExternal, w.Currency)
	if err != nil {
		return ZeroResult{}, err
	}

	result := ZeroResult{Zeroed: decimal.Zero}
	for _, acc := range []ledger.Account{available, pending} {
		if !acc.Balance.IsPositive() {
			continue
		}
		entry, err := s.ledger.ApplyEntry(ctx, ledger.ApplyInput{
			Type:            ledger.EntryAdjustment,
			DebitAccountID:  acc.ID,
			CreditAccountID: clearing.ID,
			Amount:          acc.Balance,
			Currency:        w.Currency,
			IdempotencyKey:  fmt.Sprintf("%s:%s", input.IdempotencyKey, acc.Type),
			Reference:       ledger.Reference{Type: ledger.RefWallet, ID: w.ID},
			Description:     fmt.Sprintf("administrative zeroing of wallet %s: %s", w.ID, input.Reason),
			ActorID:         input.ActorID,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
			return ZeroResult{}, err
		}
		result.EntryIDs = append(result.EntryIDs, entry.ID)
		result.Zeroed = result.Zeroed.Add(entry.Amount)
	}
	return result, nil
}

// TopUpInput captures a platform-funded deposit into a wallet.
type TopUpInput struct {
	WalletID       string
	Amount         decimal.Decimal
	IdempotencyKey string
	ActorID        string
}

// TopUpResult describes the ledger outcome of a top-up.
type TopUpResult struct {
	EntryID   string
	Available decimal.Decimal
	Duplicate bool
}

// TopUp credits the wallet's AVAILABLE account from the platform treasury.
// The treasury is an external account mirroring money collected by the
// payment gateway, which sits outside this ledger.
func (s *Service) TopUp(ctx context.Context, input TopUpInput) (TopUpResult, error) {
	w, err := s.repo.Get(ctx, input.WalletID)
	if err != nil {
		return TopUpResult{}, err
	}
	available, _, err := s.AccountPair(ctx, w.ID)
	if err != nil {
		return TopUpResult{}, err
	}
	treasury, err := s.ledger.EnsureAccount(ctx, ledger.PlatformWalletID, ledger.AccountExternal, w.Currency)
	if err != nil {
		return TopUpResult{}, err
	}

	key := input.IdempotencyKey
	if key == "" {
		key = "topup:" + uuid.NewString()
	}

	entry, err := s.ledger.ApplyEntry(ctx, ledger.ApplyInput{
		Type:            ledger.EntryTopUp,
		DebitAccountID:  treasury.ID,
		CreditAccountID: available.ID,
		Amount:          input.Amount,
		Currency:        w.Currency,
		IdempotencyKey:  key,
		Reference:       ledger.Reference{Type: ledger.RefWallet, ID: w.ID},
		Description:     fmt.Sprintf("top-up for wallet %s", w.ID),
		ActorID:         input.ActorID,
	})
	duplicate := errors.Is(err, ledger.ErrDuplicateEntry)
	if err != nil && !duplicate {
		return TopUpResult{}, err
	}

	balance, err := s.ledger.Balance(ctx, available.ID)
	if err != nil {
		return TopUpResult{}, err
	}
	return TopUpResult{EntryID: entry.ID, Available: balance, Duplicate: duplicate}, nil
}
