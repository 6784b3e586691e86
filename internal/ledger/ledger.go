package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds occurs when the debit account lacks balance to
	// cover a requested posting. Neither balance is touched.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates one side of the posting does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEntryNotFound indicates no entry exists for the given key.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrCurrencyMismatch indicates the two accounts and the posting do not
	// share a single currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrSameAccount indicates debit and credit reference the same account.
	ErrSameAccount = errors.New("debit and credit account must differ")

	// ErrInvalidAmount indicates a non-positive posting amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateEntry indicates the idempotency key already belongs to a
	// COMPLETED entry. The stored entry is returned alongside this error and
	// no second balance change happens.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrConflictInProgress indicates the idempotency key belongs to an entry
	// that is not yet terminal; the operation is already being handled.
	ErrConflictInProgress = errors.New("entry with this idempotency key in progress")
)

// EntryType classifies a balanced posting.
type EntryType string

const (
	EntryTopUp      EntryType = "TOPUP"
	EntryHold       EntryType = "HOLD"
	EntryRelease    EntryType = "RELEASE"
	EntryPayout     EntryType = "PAYOUT"
	EntryRefund     EntryType = "REFUND"
	EntryFee        EntryType = "FEE"
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTopUp, EntryHold, EntryRelease, EntryPayout, EntryRefund, EntryFee, EntryAdjustment:
		return true
	default:
		return false
	}
}

// EntryStatus tracks the lifecycle of a posting.
type EntryStatus string

const (
	StatusPending   EntryStatus = "PENDING"
	StatusCompleted EntryStatus = "COMPLETED"
	StatusFailed    EntryStatus = "FAILED"
	StatusCancelled EntryStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s EntryStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// AccountType names a wallet sub-balance.
type AccountType string

const (
	// AccountAvailable holds spendable funds.
	AccountAvailable AccountType = "AVAILABLE"
	// AccountPending holds escrowed funds awaiting release.
	AccountPending AccountType = "PENDING"
	// AccountExternal mirrors money held outside the ledger (gateway
	// settlement float, fee collection). External accounts may carry a
	// negative balance; wallet accounts never do.
	AccountExternal AccountType = "EXTERNAL"
)

// PlatformWalletID owns the external treasury accounts.
const PlatformWalletID = "platform"

// Reference types attached to entries.
const (
	RefOrder  = "ORDER"
	RefWallet = "WALLET"
)

// Account is a named sub-balance. Balances mutate only inside ApplyEntry.
type Account struct {
	ID        string
	WalletID  string
	Type      AccountType
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
}

// Reference ties an entry back to the domain object that caused it.
type Reference struct {
	Type string
	ID   string
}

// Entry is an immutable record of one balanced transfer between two accounts.
type Entry struct {
	ID              string
	Type            EntryType
	Status          EntryStatus
	Amount          decimal.Decimal
	Currency        string
	DebitAccountID  string
	CreditAccountID string
	IdempotencyKey  string
	Reference       Reference
	Description     string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// ApplyInput carries everything needed to post one entry.
type ApplyInput struct {
	Type            EntryType
	DebitAccountID  string
	CreditAccountID string
	Amount          decimal.Decimal
	Currency        string
	IdempotencyKey  string
	Reference       Reference
	Description     string
	// ActorID identifies who requested the posting; empty means the system.
	ActorID string
}

func (in ApplyInput) validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("invalid entry type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if in.DebitAccountID == in.CreditAccountID {
		return ErrSameAccount
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	if in.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	return nil
}

func (in ApplyInput) actorRef() *string {
	if in.ActorID == "" {
		return nil
	}
	actor := in.ActorID
	return &actor
}

// Ledger is the single choke point through which every balance change passes.
type Ledger interface {
	// EnsureAccount creates the (walletID, type) account if missing and
	// returns it. Safe to call repeatedly.
	EnsureAccount(ctx context.Context, walletID string, typ AccountType, currency string) (Account, error)

	// GetAccount returns one account by id.
	GetAccount(ctx context.Context, id string) (Account, error)

	// AccountsForWallet lists every account belonging to a wallet.
	AccountsForWallet(ctx context.Context, walletID string) ([]Account, error)

	// Balance returns the current balance of an account. The read reflects
	// the most recent committed write; it never observes a half-applied pair.
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// ApplyEntry atomically debits one account, credits the other and records
	// the entry. Re-submitting the same idempotency key returns the stored
	// entry with ErrDuplicateEntry and changes nothing.
	ApplyEntry(ctx context.Context, input ApplyInput) (Entry, error)

	// EntryByIdempotencyKey fetches a previously applied entry.
	EntryByIdempotencyKey(ctx context.Context, key string) (Entry, error)
}
