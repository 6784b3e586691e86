package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet groups one user's ledger accounts. Created on first use, never
// deleted.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Status    string
	CreatedAt time.Time
}

// Balances is a point-in-time snapshot of a wallet's sub-balances.
type Balances struct {
	WalletID  string
	Available decimal.Decimal
	Pending   decimal.Decimal
	Currency  string
	AsOf      time.Time
}
