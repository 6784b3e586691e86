package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/metrics"
)

type memoryLedger struct {
	mu       sync.Mutex
	accounts map[string]Account // by account id
	byWallet map[string][]string
	entries  map[string]Entry // by idempotency key
	sink     audit.Sink
}

// NewMemory creates a concurrency-safe in-memory ledger. It backs unit tests
// and the dev mode fallback when no database is configured.
func NewMemory(sink audit.Sink) Ledger {
	return &memoryLedger{
		accounts: make(map[string]Account),
		byWallet: make(map[string][]string),
		entries:  make(map[string]Entry),
		sink:     sink,
	}
}

func (l *memoryLedger) EnsureAccount(_ context.Context, walletID string, typ AccountType, currency string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.byWallet[walletID] {
		acc := l.accounts[id]
		if acc.Type == typ && acc.Currency == currency {
			return acc, nil
		}
	}

	acc := Account{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Type:      typ,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	l.accounts[acc.ID] = acc
	l.byWallet[walletID] = append(l.byWallet[walletID], acc.ID)
	return acc, nil
}

func (l *memoryLedger) GetAccount(_ context.Context, id string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (l *memoryLedger) AccountsForWallet(_ context.Context, walletID string) ([]Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.byWallet[walletID]
	accounts := make([]Account, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, l.accounts[id])
	}
	return accounts, nil
}

func (l *memoryLedger) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return acc.Balance, nil
}

func (l *memoryLedger) ApplyEntry(ctx context.Context, input ApplyInput) (Entry, error) {
	if err := input.validate(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()

	if existing, ok := l.entries[input.IdempotencyKey]; ok {
		l.mu.Unlock()
		if existing.Status == StatusCompleted {
			return existing, ErrDuplicateEntry
		}
		return Entry{}, ErrConflictInProgress
	}

	debit, ok := l.accounts[input.DebitAccountID]
	if !ok {
		l.mu.Unlock()
		return Entry{}, ErrAccountNotFound
	}
	credit, ok := l.accounts[input.CreditAccountID]
	if !ok {
		l.mu.Unlock()
		return Entry{}, ErrAccountNotFound
	}

	if debit.Currency != input.Currency || credit.Currency != input.Currency {
		l.mu.Unlock()
		return Entry{}, ErrCurrencyMismatch
	}

	if debit.Type != AccountExternal && debit.Balance.LessThan(input.Amount) {
		l.mu.Unlock()
		return Entry{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	debit.Balance = debit.Balance.Sub(input.Amount)
	credit.Balance = credit.Balance.Add(input.Amount)
	l.accounts[debit.ID] = debit
	l.accounts[credit.ID] = credit

	entry := Entry{
		ID:              uuid.NewString(),
		Type:            input.Type,
		Status:          StatusCompleted,
		Amount:          input.Amount,
		Currency:        input.Currency,
		DebitAccountID:  debit.ID,
		CreditAccountID: credit.ID,
		IdempotencyKey:  input.IdempotencyKey,
		Reference:       input.Reference,
		Description:     input.Description,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	l.entries[entry.IdempotencyKey] = entry
	l.mu.Unlock()

	metrics.LedgerEntryApplied(string(entry.Type))
	l.recordAudit(ctx, input, entry)

	return entry, nil
}

func (l *memoryLedger) EntryByIdempotencyKey(_ context.Context, key string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (l *memoryLedger) recordAudit(ctx context.Context, input ApplyInput, entry Entry) {
	if l.sink == nil {
		return
	}
	_ = l.sink.Record(ctx, audit.New(input.actorRef(), audit.ActionEntryApplied, audit.EntityLedgerEntry, entry.ID, map[string]any{
		"type":            string(entry.Type),
		"amount":          entry.Amount.String(),
		"currency":        entry.Currency,
		"debit_account":   entry.DebitAccountID,
		"credit_account":  entry.CreditAccountID,
		"idempotency_key": entry.IdempotencyKey,
		"reference_type":  entry.Reference.Type,
		"reference_id":    entry.Reference.ID,
	}))
}
