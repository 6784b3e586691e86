package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	storage  map[string]Order
	requests RequestUpdater

	// failEligible forces FindEligibleForRelease to fail, simulating an
	// unreachable store in tests.
	failEligible error
}

// NewMemoryRepository constructs an in-memory order repository for tests and
// dev mode. requests may be nil.
func NewMemoryRepository(requests RequestUpdater) Repository {
	return &memoryRepository{storage: make(map[string]Order), requests: requests}
}

func (r *memoryRepository) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[o.ID]; exists {
		return errors.New("order exists")
	}
	r.storage[o.ID] = o
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.storage[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (r *memoryRepository) FindEligibleForRelease(_ context.Context, now time.Time) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failEligible != nil {
		return nil, r.failEligible
	}
	var eligible []Order
	for _, o := range r.storage {
		if o.Status == StatusPaid && !o.ReleaseAt.After(now) {
			eligible = append(eligible, o)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ReleaseAt.Before(eligible[j].ReleaseAt) })
	return eligible, nil
}

func (r *memoryRepository) MarkPaid(ctx context.Context, id string) error {
	return r.transition(id, StatusPendingPayment, StatusPaid)
}

func (r *memoryRepository) MarkCompleted(ctx context.Context, id string) error {
	r.mu.Lock()
	o, ok := r.storage[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if o.Status == StatusCompleted {
		r.mu.Unlock()
		return nil
	}
	if o.Status != StatusPaid {
		r.mu.Unlock()
		return fmt.Errorf("order %s is not %s", id, StatusPaid)
	}
	o.Status = StatusCompleted
	o.UpdatedAt = time.Now().UTC()
	r.storage[id] = o
	r.mu.Unlock()

	if r.requests != nil && o.RequestID != "" {
		return r.requests.MarkRequestCompleted(ctx, o.RequestID)
	}
	return nil
}

func (r *memoryRepository) transition(id string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.storage[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return fmt.Errorf("order %s is not %s", id, from)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.storage[id] = o
	return nil
}

// FailEligible makes the next FindEligibleForRelease calls return err when
// using the in-memory repository. Test helper.
func FailEligible(repo Repository, err error) {
	if mem, ok := repo.(*memoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failEligible = err
	}
}
