package ledger

import "github.com/shopspring/decimal"

// SeedBalance sets an account balance directly when using the in-memory
// ledger. Test helper only; production mutation goes through ApplyEntry.
func SeedBalance(l Ledger, accountID string, amount decimal.Decimal) {
	if mem, ok := l.(*memoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		acc := mem.accounts[accountID]
		acc.Balance = amount
		mem.accounts[accountID] = acc
	}
}

// SeedEntry stores an entry under its idempotency key when using the
// in-memory ledger, without moving any balance. Test helper for exercising
// duplicate and in-progress conflict paths.
func SeedEntry(l Ledger, entry Entry) {
	if mem, ok := l.(*memoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.entries[entry.IdempotencyKey] = entry
	}
}
