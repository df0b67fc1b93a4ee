package dummy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOrderNotFound is returned by Get for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

// Order is an accepted order.
type Order struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderStore deduplicates orders by idempotency key.
type OrderStore interface {
	// Create stores o unless its idempotency key was seen before. It
	// returns the stored order and whether it was newly created.
	Create(ctx context.Context, o Order) (Order, bool, error)
	Get(ctx context.Context, id string) (Order, error)
	Close() error
}

// MemoryStore is an in-process OrderStore.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]string
	byID  map[string]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]string),
		byID:  make(map[string]Order),
	}
}

func (s *MemoryStore) Create(_ context.Context, o Order) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[o.IdempotencyKey]; ok {
		return s.byID[id], false, nil
	}
	s.byKey[o.IdempotencyKey] = o.OrderID
	s.byID[o.OrderID] = o
	return o, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.byID[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

// Len is the number of distinct orders.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) Close() error { return nil }
