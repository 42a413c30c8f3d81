package cart

import (
	"context"
	"sync"
)

// Store persists carts keyed by owner. Get reports ok=false for an owner
// with no cart.
type Store interface {
	Get(ctx context.Context, ownerID string) (Cart, bool, error)
	Put(ctx context.Context, c Cart) error
	Delete(ctx context.Context, ownerID string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]Cart
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]Cart)}
}

func (s *MemoryStore) Get(_ context.Context, ownerID string) (Cart, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[ownerID]
	if !ok {
		return Cart{}, false, nil
	}
	return c.clone(), true, nil
}

func (s *MemoryStore) Put(_ context.Context, c Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.OwnerID] = c.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, ownerID)
	return nil
}
