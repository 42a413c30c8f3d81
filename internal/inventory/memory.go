package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type record struct {
	mu      sync.Mutex
	p       Product
	holds   map[string]*Hold // ref -> hold
	removed bool
}

// Memory is an in-process Store. Each product carries its own mutex, so
// reservations on different products never contend.
type Memory struct {
	mu       sync.RWMutex
	products map[string]*record

	log *zap.Logger
	now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory(log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		products: make(map[string]*record),
		log:      log,
		now:      time.Now,
	}
}

func (m *Memory) get(productID string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.products[productID]
	return r, ok
}

func (m *Memory) Product(_ context.Context, productID string) (Product, error) {
	r, ok := m.get(productID)
	if !ok {
		return Product{}, notFound(productID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return Product{}, notFound(productID)
	}
	return r.p, nil
}

func (m *Memory) CheckAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	n, err := m.Available(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return n >= qty, nil
}

func (m *Memory) Available(ctx context.Context, productID string) (int, error) {
	p, err := m.Product(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Available(), nil
}

func (m *Memory) Reserve(_ context.Context, ref, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	r, ok := m.get(productID)
	if !ok {
		return notFound(productID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return notFound(productID)
	}

	if h, ok := r.holds[ref]; ok {
		if h.Status == HoldReserved {
			return nil
		}
		return ErrHoldClosed
	}

	next := r.p
	next.Reserved += qty
	if next.Available() < 0 {
		return &StockError{ProductID: productID, Requested: qty, Available: r.p.Available()}
	}
	if err := next.check(); err != nil {
		return err
	}

	now := m.now()
	next.UpdatedAt = now
	r.p = next
	r.holds[ref] = &Hold{Ref: ref, ProductID: productID, Quantity: qty, Status: HoldReserved, CreatedAt: now}
	return nil
}

func (m *Memory) Release(_ context.Context, ref, productID string) (int, error) {
	r, ok := m.get(productID)
	if !ok {
		return 0, notFound(productID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return 0, notFound(productID)
	}

	h, ok := r.holds[ref]
	if !ok || h.Status != HoldReserved {
		return 0, nil
	}

	next := r.p
	next.Reserved -= h.Quantity
	if next.Reserved < 0 {
		m.log.Warn("release would push reserved below zero, clamping",
			zap.String("product_id", productID),
			zap.String("ref", ref),
			zap.Int("reserved", r.p.Reserved),
			zap.Int("quantity", h.Quantity))
		next.Reserved = 0
	}
	if err := next.check(); err != nil {
		return 0, err
	}

	next.UpdatedAt = m.now()
	r.p = next
	h.Status = HoldReleased
	return h.Quantity, nil
}

func (m *Memory) Commit(_ context.Context, ref, productID string) error {
	r, ok := m.get(productID)
	if !ok {
		return notFound(productID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return notFound(productID)
	}

	h, ok := r.holds[ref]
	if !ok || h.Status != HoldReserved {
		return nil
	}

	next := r.p
	next.Stock -= h.Quantity
	next.Reserved -= h.Quantity
	if err := next.check(); err != nil {
		return err
	}

	next.UpdatedAt = m.now()
	r.p = next
	h.Status = HoldCommitted
	return nil
}

func (m *Memory) Holds(_ context.Context, ref string) ([]Hold, error) {
	var out []Hold
	m.each(func(r *record) {
		if h, ok := r.holds[ref]; ok {
			out = append(out, *h)
		}
	})
	sortHolds(out)
	return out, nil
}

func (m *Memory) StaleHolds(_ context.Context, before time.Time) ([]Hold, error) {
	var out []Hold
	m.each(func(r *record) {
		for _, h := range r.holds {
			if h.Status == HoldReserved && h.CreatedAt.Before(before) {
				out = append(out, *h)
			}
		}
	})
	sortHolds(out)
	return out, nil
}

func (m *Memory) each(fn func(r *record)) {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.products))
	for _, r := range m.products {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	for _, r := range recs {
		r.mu.Lock()
		fn(r)
		r.mu.Unlock()
	}
}

func (m *Memory) Upsert(_ context.Context, in ProductInput) (Product, error) {
	if err := in.Validate(); err != nil {
		return Product{}, err
	}

	r := m.lockForUpsert(in.ID)
	defer r.mu.Unlock()

	next := r.p
	next.Name = in.Name
	next.Image = in.Image
	next.Price = in.Price
	next.Stock = in.Stock
	if next.Stock < next.Reserved {
		return Product{}, ErrStockBelowReserved
	}
	if err := next.check(); err != nil {
		return Product{}, err
	}
	next.UpdatedAt = m.now()
	r.p = next
	return r.p, nil
}

// lockForUpsert returns the record for productID, creating it if needed,
// with its mutex held. A new record is locked before it becomes visible.
func (m *Memory) lockForUpsert(productID string) *record {
	for {
		m.mu.Lock()
		r, ok := m.products[productID]
		if !ok {
			r = &record{holds: make(map[string]*Hold)}
			r.p.ID = productID
			r.mu.Lock()
			m.products[productID] = r
			m.mu.Unlock()
			return r
		}
		m.mu.Unlock()

		r.mu.Lock()
		if !r.removed {
			return r
		}
		r.mu.Unlock()
	}
}

func (m *Memory) Remove(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.products[productID]
	if !ok {
		return notFound(productID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.p.Reserved > 0 {
		return ErrHasReservations
	}
	r.removed = true
	delete(m.products, productID)
	return nil
}

func sortHolds(hs []Hold) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].CreatedAt.Before(hs[j].CreatedAt)
		}
		if hs[i].Ref != hs[j].Ref {
			return hs[i].Ref < hs[j].Ref
		}
		return hs[i].ProductID < hs[j].ProductID
	})
}
