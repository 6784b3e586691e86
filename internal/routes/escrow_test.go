package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/config"
	"github.com/portera/portera/internal/escrow"
	"github.com/portera/portera/internal/ledger"
	"github.com/portera/portera/internal/logging"
	"github.com/portera/portera/internal/order"
	"github.com/portera/portera/internal/wallet"
)

type triggerFixture struct {
	app    *fiber.App
	sink   *audit.MemorySink
	ledger ledger.Ledger
	orders order.Repository
	wallet *wallet.Service
}

func newTriggerFixture(t *testing.T, cfg config.Config) *triggerFixture {
	t.Helper()
	sink := audit.NewMemorySink()
	led := ledger.NewMemory(sink)
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led)
	orders := order.NewMemoryRepository(nil)
	svc := escrow.NewService(orders, wallets, led, sink, logging.Discard(), escrow.Config{})

	app := fiber.New()
	RegisterEscrowRoutes(app, cfg, escrow.NewHandler(svc))

	return &triggerFixture{app: app, sink: sink, ledger: led, orders: orders, wallet: wallets}
}

func (f *triggerFixture) seedDueOrder(t *testing.T) order.Order {
	t.Helper()
	travelerID := uuid.NewString()
	w, err := f.wallet.Create(context.Background(), wallet.CreateInput{OwnerID: travelerID, Currency: "EUR"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	_, pending, err := f.wallet.AccountPair(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("account pair: %v", err)
	}
	ledger.SeedBalance(f.ledger, pending.ID, decimal.RequireFromString("120.00"))

	o := order.Order{
		ID:             uuid.NewString(),
		TravelerID:     travelerID,
		TravelerAmount: decimal.RequireFromString("50.00"),
		Currency:       "EUR",
		Status:         order.StatusPaid,
		ReleaseAt:      time.Now().Add(-24 * time.Hour),
	}
	if err := f.orders.Create(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func (f *triggerFixture) trigger(t *testing.T, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/internal/escrow/release", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode body %q: %v", body, err)
		}
	}
	return resp.StatusCode, payload
}

func TestTriggerUnauthorizedHasNoSideEffects(t *testing.T) {
	f := newTriggerFixture(t, config.Config{CronSecret: "s3cret"})
	o := f.seedDueOrder(t)

	status, payload := f.trigger(t, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if payload["error"] != "Unauthorized" {
		t.Fatalf("unexpected body: %v", payload)
	}

	if got, _ := f.orders.Get(context.Background(), o.ID); got.Status != order.StatusPaid {
		t.Fatalf("order status changed: %s", got.Status)
	}
	if _, err := f.ledger.EntryByIdempotencyKey(context.Background(), escrow.ReleaseKey(o.ID)); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Fatal("ledger entry created by unauthorized call")
	}
	if len(f.sink.Entries()) != 0 {
		t.Fatal("audit entries written by unauthorized call")
	}
}

func TestTriggerReleasesAndReportsResults(t *testing.T) {
	f := newTriggerFixture(t, config.Config{CronSecret: "s3cret"})
	o := f.seedDueOrder(t)

	status, payload := f.trigger(t, map[string]string{fiber.HeaderAuthorization: "Bearer s3cret"})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if payload["success"] != true {
		t.Fatalf("expected success=true, got %v", payload)
	}
	if _, err := time.Parse(time.RFC3339, payload["timestamp"].(string)); err != nil {
		t.Fatalf("bad timestamp: %v", err)
	}

	results, ok := payload["results"].(map[string]any)
	if !ok {
		t.Fatalf("missing results: %v", payload)
	}
	if results["processed"] != float64(1) || results["released"] != float64(1) {
		t.Fatalf("unexpected results: %v", results)
	}
	if errs, ok := results["errors"].([]any); !ok || len(errs) != 0 {
		t.Fatalf("expected empty errors array, got %v", results["errors"])
	}

	if got, _ := f.orders.Get(context.Background(), o.ID); got.Status != order.StatusCompleted {
		t.Fatalf("order not completed: %s", got.Status)
	}
}

func TestTriggerBeaconPathNeedsNoCredential(t *testing.T) {
	f := newTriggerFixture(t, config.Config{SchedulerBeacon: "beacon-7", CronSecret: "s3cret"})

	status, payload := f.trigger(t, map[string]string{"X-Scheduler-Beacon": "beacon-7"})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	results := payload["results"].(map[string]any)
	if results["processed"] != float64(0) {
		t.Fatalf("expected an empty run, got %v", results)
	}
}

func TestTriggerReportsTotalFailure(t *testing.T) {
	f := newTriggerFixture(t, config.Config{CronSecret: "s3cret"})
	order.FailEligible(f.orders, errors.New("connection refused"))

	status, payload := f.trigger(t, map[string]string{fiber.HeaderAuthorization: "Bearer s3cret"})
	if status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if payload["error"] == nil || payload["message"] == nil {
		t.Fatalf("expected error and message fields, got %v", payload)
	}
	if _, ok := payload["results"]; ok {
		t.Fatal("results must be omitted when the run did not happen")
	}
}
