package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/ledger"
	"github.com/portera/portera/internal/logging"
	"github.com/portera/portera/internal/order"
	"github.com/portera/portera/internal/wallet"
)

type fixture struct {
	svc     *Service
	orders  order.Repository
	wallets *wallet.Service
	ledger  ledger.Ledger
	sink    *audit.MemorySink
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	sink := audit.NewMemorySink()
	led := ledger.NewMemory(sink)
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led)
	orders := order.NewMemoryRepository(nil)
	svc := NewService(orders, wallets, led, sink, logging.Discard(), cfg)
	return &fixture{svc: svc, orders: orders, wallets: wallets, ledger: led, sink: sink}
}

// seedTraveler creates a traveller wallet with the given sub-balances and
// returns (travelerID, availableAccountID, pendingAccountID).
func (f *fixture) seedTraveler(t *testing.T, availableBal, pendingBal string) (string, string, string) {
	t.Helper()
	travelerID := uuid.NewString()
	w, err := f.wallets.Create(context.Background(), wallet.CreateInput{OwnerID: travelerID, Currency: "EUR"})
	if err != nil {
		t.Fatalf("create traveler wallet: %v", err)
	}
	available, pending, err := f.wallets.AccountPair(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("account pair: %v", err)
	}
	ledger.SeedBalance(f.ledger, available.ID, decimal.RequireFromString(availableBal))
	ledger.SeedBalance(f.ledger, pending.ID, decimal.RequireFromString(pendingBal))
	return travelerID, available.ID, pending.ID
}

func (f *fixture) seedPaidOrder(t *testing.T, travelerID, amount string, releaseAt time.Time) order.Order {
	t.Helper()
	o := order.Order{
		ID:             uuid.NewString(),
		RequestID:      uuid.NewString(),
		BuyerID:        uuid.NewString(),
		TravelerID:     travelerID,
		TravelerAmount: decimal.RequireFromString(amount),
		Currency:       "EUR",
		Status:         order.StatusPaid,
		ReleaseAt:      releaseAt,
	}
	if err := f.orders.Create(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func TestRunReleasesDueOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	yesterday := time.Now().Add(-24 * time.Hour)

	travelerID, availableID, pendingID := f.seedTraveler(t, "30.00", "120.00")
	o := f.seedPaidOrder(t, travelerID, "50.00", yesterday)

	result, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Processed != 1 || result.Released != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	pendingBal, _ := f.ledger.Balance(ctx, pendingID)
	availableBal, _ := f.ledger.Balance(ctx, availableID)
	if !pendingBal.Equal(decimal.RequireFromString("70.00")) {
		t.Fatalf("expected pending 70.00, got %s", pendingBal)
	}
	if !availableBal.Equal(decimal.RequireFromString("80.00")) {
		t.Fatalf("expected available 80.00, got %s", availableBal)
	}

	got, _ := f.orders.Get(ctx, o.ID)
	if got.Status != order.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	entry, err := f.ledger.EntryByIdempotencyKey(ctx, ReleaseKey(o.ID))
	if err != nil {
		t.Fatalf("release entry missing: %v", err)
	}
	if entry.Type != ledger.EntryRelease || entry.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected entry: type=%s status=%s", entry.Type, entry.Status)
	}

	if releases := f.sink.ByAction(audit.ActionRelease); len(releases) != 1 {
		t.Fatalf("expected 1 release audit entry, got %d", len(releases))
	}
}

func TestRunIsolatesPerOrderFailures(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	yesterday := time.Now().Add(-24 * time.Hour)

	funded, _, _ := f.seedTraveler(t, "0.00", "100.00")
	broke, _, brokePendingID := f.seedTraveler(t, "0.00", "5.00")

	okOrder := f.seedPaidOrder(t, funded, "50.00", yesterday)
	badOrder := f.seedPaidOrder(t, broke, "50.00", yesterday)

	result, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected processed=2, got %d", result.Processed)
	}
	if result.Released != 1 {
		t.Fatalf("expected released=1, got %d", result.Released)
	}
	if len(result.Errors) != 1 || result.Errors[0].OrderID != badOrder.ID {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}

	okGot, _ := f.orders.Get(ctx, okOrder.ID)
	if okGot.Status != order.StatusCompleted {
		t.Fatalf("funded order not completed: %s", okGot.Status)
	}
	badGot, _ := f.orders.Get(ctx, badOrder.ID)
	if badGot.Status != order.StatusPaid {
		t.Fatalf("failed order must stay PAID for retry, got %s", badGot.Status)
	}
	if bal, _ := f.ledger.Balance(ctx, brokePendingID); !bal.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("failed order's balance moved: %s", bal)
	}
}

func TestRerunDoesNotDoubleRelease(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	travelerID, availableID, _ := f.seedTraveler(t, "0.00", "100.00")
	o := f.seedPaidOrder(t, travelerID, "40.00", time.Now().Add(-time.Hour))

	if _, err := f.svc.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 0 || second.Released != 0 {
		t.Fatalf("second run found work: %+v", second)
	}

	if bal, _ := f.ledger.Balance(ctx, availableID); !bal.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("balance moved twice: %s", bal)
	}
	if _, err := f.ledger.EntryByIdempotencyKey(ctx, ReleaseKey(o.ID)); err != nil {
		t.Fatalf("release entry missing: %v", err)
	}
}

func TestCrashBetweenApplyAndMarkHealsOnNextRun(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	travelerID, availableID, _ := f.seedTraveler(t, "0.00", "100.00")
	o := f.seedPaidOrder(t, travelerID, "40.00", time.Now().Add(-time.Hour))

	// Simulate the first run crashing after the ledger commit but before
	// MarkCompleted: the entry exists, the order is still PAID.
	available, pending, err := f.wallets.AccountPair(ctx, mustWalletID(t, f, travelerID))
	if err != nil {
		t.Fatalf("account pair: %v", err)
	}
	if _, err := f.ledger.ApplyEntry(ctx, ledger.ApplyInput{
		Type:            ledger.EntryRelease,
		DebitAccountID:  pending.ID,
		CreditAccountID: available.ID,
		Amount:          o.TravelerAmount,
		Currency:        o.Currency,
		IdempotencyKey:  ReleaseKey(o.ID),
		Reference:       ledger.Reference{Type: ledger.RefOrder, ID: o.ID},
	}); err != nil {
		t.Fatalf("pre-apply: %v", err)
	}

	result, err := f.svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Released != 1 || len(result.Errors) != 0 {
		t.Fatalf("healing run failed: %+v", result)
	}

	got, _ := f.orders.Get(ctx, o.ID)
	if got.Status != order.StatusCompleted {
		t.Fatalf("order not healed to COMPLETED: %s", got.Status)
	}
	if bal, _ := f.ledger.Balance(ctx, availableID); !bal.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("balance released twice: %s", bal)
	}
}

func TestOverlappingRunsAreSafe(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	travelerID, availableID, pendingID := f.seedTraveler(t, "0.00", "100.00")
	o := f.seedPaidOrder(t, travelerID, "40.00", time.Now().Add(-time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Run(ctx); err != nil {
				t.Errorf("overlapping run: %v", err)
			}
		}()
	}
	wg.Wait()

	availableBal, _ := f.ledger.Balance(ctx, availableID)
	pendingBal, _ := f.ledger.Balance(ctx, pendingID)
	if !availableBal.Equal(decimal.RequireFromString("40.00")) || !pendingBal.Equal(decimal.RequireFromString("60.00")) {
		t.Fatalf("overlap double-released: available=%s pending=%s", availableBal, pendingBal)
	}
	got, _ := f.orders.Get(ctx, o.ID)
	if got.Status != order.StatusCompleted {
		t.Fatalf("order not completed: %s", got.Status)
	}
}

func TestRunFatalWhenEligibleQueryFails(t *testing.T) {
	f := newFixture(t, Config{})
	order.FailEligible(f.orders, errors.New("connection refused"))

	if _, err := f.svc.Run(context.Background()); err == nil {
		t.Fatal("expected run to fail when the order store is unreachable")
	}
}

type deniedLocker struct{}

func (deniedLocker) Acquire(context.Context) (string, bool, error) { return "", false, nil }
func (deniedLocker) Release(context.Context, string)               {}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, Config{Locker: deniedLocker{}})

	if _, err := f.svc.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func mustWalletID(t *testing.T, f *fixture, ownerID string) string {
	t.Helper()
	w, err := f.wallets.GetByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("wallet for %s: %v", ownerID, err)
	}
	return w.ID
}
