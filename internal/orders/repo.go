package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	Exists(ctx context.Context, id string) (bool, error)
	// ListByOwner returns the owner's orders, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// UpdateStatus moves the order from `from` to entry.Status and appends
	// entry to its history. Returns ErrStatusConflict when the stored status
	// is no longer `from`.
	UpdateStatus(ctx context.Context, id string, from Status, entry StatusEntry) (Order, error)
}

// Memory keeps orders in process. Orders are deep-copied on the way in and
// out so callers cannot mutate stored state.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]Order
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{orders: make(map[string]Order)}
}

func (m *Memory) Create(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrDuplicate
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(o), nil
}

func (m *Memory) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.orders[id]
	return ok, nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]Order, error) {
	m.mu.RLock()
	out := make([]Order, 0)
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			out = append(out, clone(o))
		}
	}
	m.mu.RUnlock()
	SortNewestFirst(out)
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, from Status, entry StatusEntry) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.Status != from {
		return Order{}, ErrStatusConflict
	}
	o = clone(o)
	o.Status = entry.Status
	o.History = append(o.History, entry)
	o.UpdatedAt = entry.At
	m.orders[id] = o
	return clone(o), nil
}

func SortNewestFirst(list []Order) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

func clone(o Order) Order {
	items := make([]Item, len(o.Items))
	for i, it := range o.Items {
		if it.Specifications != nil {
			specs := make(map[string]string, len(it.Specifications))
			for k, v := range it.Specifications {
				specs[k] = v
			}
			it.Specifications = specs
		}
		items[i] = it
	}
	o.Items = items
	o.History = append([]StatusEntry(nil), o.History...)
	return o
}

// Liveness tells the hold sweeper whether an order still owns its holds.
type Liveness struct {
	Repo Repository
}

func (l Liveness) Live(ctx context.Context, orderID string) (bool, error) {
	o, err := l.Repo.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return o.Status != StatusCancelled, nil
}
