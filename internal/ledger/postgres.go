package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/metrics"
)

// PostgresLedger persists accounts and entries in PostgreSQL. The debit, the
// credit and the entry row are written inside one transaction; row locks on
// the two accounts serialize conflicting postings.
type PostgresLedger struct {
	db   *pgxpool.Pool
	sink audit.Sink
}

// NewPostgres constructs a Postgres-backed ledger.
func NewPostgres(db *pgxpool.Pool, sink audit.Sink) *PostgresLedger {
	return &PostgresLedger{db: db, sink: sink}
}

const accountColumns = `id, wallet_id, type, balance, currency, created_at`

// EnsureAccount guarantees the (wallet, type, currency) account exists.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, walletID string, typ AccountType, currency string) (Account, error) {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, wallet_id, type, balance, currency, created_at)
        VALUES ($1, $2, $3, 0, $4, $5)
        ON CONFLICT (wallet_id, type, currency) DO NOTHING`,
		uuid.New(), walletID, string(typ), currency, time.Now().UTC())
	if err != nil {
		return Account{}, err
	}

	row := l.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
        WHERE wallet_id = $1 AND type = $2 AND currency = $3`, walletID, string(typ), currency)
	return scanAccount(row)
}

// GetAccount fetches one account by id.
func (l *PostgresLedger) GetAccount(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := l.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return acc, err
}

// AccountsForWallet lists the wallet's accounts.
func (l *PostgresLedger) AccountsForWallet(ctx context.Context, walletID string) ([]Account, error) {
	rows, err := l.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE wallet_id = $1 ORDER BY type`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// Balance returns the committed balance for the account.
func (l *PostgresLedger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// ApplyEntry posts a balanced double entry. See the Ledger interface contract.
func (l *PostgresLedger) ApplyEntry(ctx context.Context, input ApplyInput) (Entry, error) {
	if err := input.validate(); err != nil {
		return Entry{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock the pair in id order so two postings touching the same accounts
	// cannot deadlock each other.
	first, second := input.DebitAccountID, input.CreditAccountID
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]Account, 2)
	for _, id := range []string{first, second} {
		acc, err := lockAccount(ctx, tx, id)
		if err != nil {
			return Entry{}, err
		}
		locked[id] = acc
	}
	debit := locked[input.DebitAccountID]
	credit := locked[input.CreditAccountID]

	// The duplicate check must read under the row locks: a concurrent posting
	// with the same key holds the same account locks until its entry row is
	// committed, so a lookup here cannot miss it.
	existing, err := entryByKey(ctx, tx, input.IdempotencyKey)
	if err == nil {
		if existing.Status == StatusCompleted {
			return existing, ErrDuplicateEntry
		}
		return Entry{}, ErrConflictInProgress
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return Entry{}, err
	}

	if debit.Currency != input.Currency || credit.Currency != input.Currency {
		return Entry{}, ErrCurrencyMismatch
	}
	if debit.Type != AccountExternal && debit.Balance.LessThan(input.Amount) {
		return Entry{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $2 WHERE id = $1`, debit.ID, input.Amount); err != nil {
		return Entry{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2 WHERE id = $1`, credit.ID, input.Amount); err != nil {
		return Entry{}, err
	}

	now := time.Now().UTC()
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
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, type, status, amount, currency, debit_account_id, credit_account_id,
         idempotency_key, reference_type, reference_id, description, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, string(entry.Type), string(entry.Status), entry.Amount, entry.Currency,
		entry.DebitAccountID, entry.CreditAccountID, entry.IdempotencyKey,
		entry.Reference.Type, entry.Reference.ID, entry.Description, entry.CreatedAt, entry.CompletedAt); err != nil {
		if isUniqueViolation(err) {
			// The unique index on idempotency_key caught a racing posting the
			// locked lookup could not see. Map it back onto the sentinel
			// contract instead of leaking the raw constraint error.
			_ = tx.Rollback(ctx)
			if stored, lookupErr := entryByKey(ctx, l.db, input.IdempotencyKey); lookupErr == nil && stored.Status == StatusCompleted {
				return stored, ErrDuplicateEntry
			}
			return Entry{}, ErrConflictInProgress
		}
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}

	metrics.LedgerEntryApplied(string(entry.Type))
	if l.sink != nil {
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

	return entry, nil
}

// EntryByIdempotencyKey fetches a previously recorded entry.
func (l *PostgresLedger) EntryByIdempotencyKey(ctx context.Context, key string) (Entry, error) {
	return entryByKey(ctx, l.db, key)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolationCode is PostgreSQL's error code for unique constraint hits.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

const entryColumns = `id, type, status, amount, currency, debit_account_id, credit_account_id,
    idempotency_key, reference_type, reference_id, description, created_at, completed_at`

func entryByKey(ctx context.Context, q queryer, key string) (Entry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return entry, err
}

func lockAccount(ctx context.Context, tx pgx.Tx, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return acc, err
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acc       Account
		id        uuid.UUID
		typ       string
		createdAt time.Time
	)
	if err := row.Scan(&id, &acc.WalletID, &typ, &acc.Balance, &acc.Currency, &createdAt); err != nil {
		return Account{}, err
	}
	acc.ID = id.String()
	acc.Type = AccountType(typ)
	acc.CreatedAt = createdAt.UTC()
	return acc, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry       Entry
		id          uuid.UUID
		debitID     uuid.UUID
		creditID    uuid.UUID
		typ         string
		status      string
		completedAt *time.Time
	)
	if err := row.Scan(&id, &typ, &status, &entry.Amount, &entry.Currency, &debitID, &creditID,
		&entry.IdempotencyKey, &entry.Reference.Type, &entry.Reference.ID, &entry.Description,
		&entry.CreatedAt, &completedAt); err != nil {
		return Entry{}, err
	}
	entry.ID = id.String()
	entry.DebitAccountID = debitID.String()
	entry.CreditAccountID = creditID.String()
	entry.Type = EntryType(typ)
	entry.Status = EntryStatus(status)
	entry.CompletedAt = completedAt
	return entry, nil
}
