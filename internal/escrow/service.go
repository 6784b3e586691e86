package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/ledger"
	"github.com/portera/portera/internal/metrics"
	"github.com/portera/portera/internal/notification"
	"github.com/portera/portera/internal/order"
	"github.com/portera/portera/internal/wallet"
)

// ErrRunInProgress indicates another release run currently holds the advisory
// lock. The caller may simply retry later; overlapping runs would be safe
// regardless, the lock only avoids wasted work.
var ErrRunInProgress = errors.New("release run already in progress")

const defaultWorkers = 4

// ReleaseKey is the deterministic idempotency key for an order's release.
// It depends on the order id alone so retried or overlapping runs replay the
// same entry instead of double-releasing.
func ReleaseKey(orderID string) string {
	return "release:" + orderID
}

// OrderError records one order's failure within a run.
type OrderError struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

// RunResult is the externally visible contract of one release run.
type RunResult struct {
	Processed  int          `json:"processed"`
	Released   int          `json:"released"`
	Errors     []OrderError `json:"errors"`
	StartedAt  time.Time    `json:"-"`
	FinishedAt time.Time    `json:"-"`
}

// Service drives escrowed funds from PENDING to AVAILABLE once an order's
// hold period expires. It is the only component that decides that a release
// should happen; the ledger decides whether money moves.
type Service struct {
	orders   order.Repository
	wallets  *wallet.Service
	ledger   ledger.Ledger
	sink     audit.Sink
	notifier notification.Notifier
	locker   Locker
	logger   *slog.Logger
	workers  int
}

// Config tunes the service; zero values fall back to defaults.
type Config struct {
	// Workers bounds per-order parallelism within a run.
	Workers int
	// Locker is the optional advisory run lock; nil disables it.
	Locker Locker
	// Notifier receives a message per released order; nil disables it.
	Notifier notification.Notifier
}

// NewService constructs the release scheduler service.
func NewService(orders order.Repository, wallets *wallet.Service, ledgerBackend ledger.Ledger, sink audit.Sink, logger *slog.Logger, cfg Config) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Service{
		orders:   orders,
		wallets:  wallets,
		ledger:   ledgerBackend,
		sink:     sink,
		notifier: cfg.Notifier,
		locker:   cfg.Locker,
		logger:   logger,
		workers:  workers,
	}
}

// Run executes one release batch. A failure to even list eligible orders is
// fatal to the run; any per-order failure is recorded and the batch continues.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	if s.locker != nil {
		token, acquired, err := s.locker.Acquire(ctx)
		if err != nil {
			// Lock infrastructure being down must not stop releases;
			// idempotent entries keep overlapping runs safe.
			s.logger.Warn("release run lock unavailable, proceeding without it", "error", err)
		} else if !acquired {
			return RunResult{}, ErrRunInProgress
		} else {
			defer s.locker.Release(context.WithoutCancel(ctx), token)
		}
	}

	started := time.Now().UTC()
	eligible, err := s.orders.FindEligibleForRelease(ctx, started)
	if err != nil {
		metrics.ReleaseRunCompleted("failed", 0, 0, time.Since(started))
		return RunResult{}, fmt.Errorf("find eligible orders: %w", err)
	}

	result := RunResult{StartedAt: started, Errors: []OrderError{}}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.workers)
	)
	for _, o := range eligible {
		if ctx.Err() != nil {
			// Deadline hit mid-batch: what committed stays committed,
			// the rest is picked up by the next run.
			break
		}
		mu.Lock()
		result.Processed++
		mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func(o order.Order) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.releaseOne(ctx, o); err != nil {
				s.logger.Error("order release failed", "order_id", o.ID, "error", err)
				mu.Lock()
				result.Errors = append(result.Errors, OrderError{OrderID: o.ID, Error: err.Error()})
				mu.Unlock()
				return
			}
			mu.Lock()
			result.Released++
			mu.Unlock()
		}(o)
	}
	wg.Wait()

	result.FinishedAt = time.Now().UTC()
	metrics.ReleaseRunCompleted("ok", result.Released, len(result.Errors), result.FinishedAt.Sub(started))

	if s.sink != nil {
		_ = s.sink.Record(ctx, audit.New(nil, audit.ActionReleaseRun, audit.EntityReleaseRun, started.Format(time.RFC3339Nano), map[string]any{
			"processed": result.Processed,
			"released":  result.Released,
			"errors":    len(result.Errors),
		}))
	}
	s.logger.Info("release run completed",
		"processed", result.Processed,
		"released", result.Released,
		"errors", len(result.Errors),
		"duration", result.FinishedAt.Sub(started),
	)

	return result, nil
}

// releaseOne moves one order's escrowed amount from the traveller's PENDING
// account to AVAILABLE, then marks the order COMPLETED. The ledger entry is
// keyed by the order id, so a crash between the two steps heals on the next
// run: the replayed entry is a no-op and the mark proceeds.
func (s *Service) releaseOne(ctx context.Context, o order.Order) error {
	w, err := s.wallets.GetByOwner(ctx, o.TravelerID)
	if err != nil {
		return fmt.Errorf("traveler wallet: %w", err)
	}
	available, pending, err := s.wallets.AccountPair(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("traveler accounts: %w", err)
	}

	entry, err := s.ledger.ApplyEntry(ctx, ledger.ApplyInput{
		Type:            ledger.EntryRelease,
		DebitAccountID:  pending.ID,
		CreditAccountID: available.ID,
		Amount:          o.TravelerAmount,
		Currency:        o.Currency,
		IdempotencyKey:  ReleaseKey(o.ID),
		Reference:       ledger.Reference{Type: ledger.RefOrder, ID: o.ID},
		Description:     fmt.Sprintf("escrow release for order %s", o.ID),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
		return err
	}

	if err := s.orders.MarkCompleted(ctx, o.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	if s.sink != nil {
		_ = s.sink.Record(ctx, audit.New(nil, audit.ActionRelease, audit.EntityOrder, o.ID, map[string]any{
			"entry_id": entry.ID,
			"amount":   o.TravelerAmount.String(),
			"currency": o.Currency,
		}))
	}
	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindEscrowRelease,
			Destination: o.TravelerID,
			Body:        fmt.Sprintf("%s %s released for order %s", o.TravelerAmount, o.Currency, o.ID),
		})
	}
	return nil
}
