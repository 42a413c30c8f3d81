package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/inventory"
	"github.com/ariefcatur/go-cart-reservations/internal/lock"
	"github.com/ariefcatur/go-cart-reservations/internal/metrics"
	"github.com/ariefcatur/go-cart-reservations/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PlacedOrders reports whether an order was persisted. Used to settle carts
// left marked by an interrupted checkout.
type PlacedOrders interface {
	Exists(ctx context.Context, orderID string) (bool, error)
}

type Service struct {
	store  Store
	ledger inventory.Reader
	locks  lock.Locker
	calc   pricing.Calculator
	orders PlacedOrders
	log    *zap.Logger
	now    func() time.Time
	fanout int
}

type Option func(*Service)

func WithPlacedOrders(o PlacedOrders) Option { return func(s *Service) { s.orders = o } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithFanout bounds how many product lookups a single read runs at once.
func WithFanout(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanout = n
		}
	}
}

func NewService(store Store, ledger inventory.Reader, locks lock.Locker, calc pricing.Calculator, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:  store,
		ledger: ledger,
		locks:  locks,
		calc:   calc,
		log:    log,
		now:    time.Now,
		fanout: 8,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Session is a cart loaded while its owner's lock is held.
type Session struct {
	Cart  Cart
	Found bool
	svc   *Service
}

func (s *Session) Save(ctx context.Context) error {
	if err := s.Cart.Validate(); err != nil {
		return err
	}
	s.Cart.UpdatedAt = s.svc.now()
	if err := s.svc.store.Put(ctx, s.Cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	s.Found = true
	return nil
}

func (s *Session) Clear(ctx context.Context) error {
	if err := s.svc.store.Delete(ctx, s.Cart.OwnerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.Cart = Cart{OwnerID: s.Cart.OwnerID}
	s.Found = false
	return nil
}

// WithLock runs fn with the owner's cart loaded under the per-owner lock.
// Concurrent callers for the same owner run one at a time.
func (s *Service) WithLock(ctx context.Context, ownerID string, fn func(ctx context.Context, sess *Session) error) error {
	unlock, err := s.locks.Lock(ctx, lock.CartKey(ownerID))
	if err != nil {
		return err
	}
	defer unlock()

	sess, err := s.load(ctx, ownerID)
	if err != nil {
		return err
	}
	return fn(ctx, sess)
}

func (s *Service) load(ctx context.Context, ownerID string) (*Session, error) {
	c, found, err := s.store.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	sess := &Session{Cart: c, Found: found, svc: s}
	if !found {
		sess.Cart = Cart{OwnerID: ownerID}
		return sess, nil
	}
	if c.PendingOrderID == "" {
		return sess, nil
	}

	placed := false
	if s.orders != nil {
		placed, err = s.orders.Exists(ctx, c.PendingOrderID)
		if err != nil {
			return nil, fmt.Errorf("check pending order: %w", err)
		}
	}
	log := s.log.With(zap.String("owner", ownerID), zap.String("order_id", c.PendingOrderID))
	if placed {
		log.Info("clearing cart of already placed order")
		return sess, sess.Clear(ctx)
	}
	log.Info("dropping stale checkout marker")
	sess.Cart.PendingOrderID = ""
	return sess, sess.Save(ctx)
}

// Get returns the cart repriced against the live catalog. Lines whose
// product no longer exists are dropped from the view and from the stored
// cart.
func (s *Service) Get(ctx context.Context, ownerID string) (View, error) {
	var v View
	err := s.WithLock(ctx, ownerID, func(ctx context.Context, sess *Session) error {
		var err error
		v, err = s.refresh(ctx, sess, false)
		return err
	})
	return v, err
}

type AddRequest struct {
	ProductID      string            `json:"product_id"`
	Quantity       int               `json:"quantity"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

func (s *Service) AddItem(ctx context.Context, ownerID string, req AddRequest) (v View, err error) {
	defer s.observe("add", &err)

	if req.Quantity < 0 {
		return View{}, ErrInvalidQuantity
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	err = s.WithLock(ctx, ownerID, func(ctx context.Context, sess *Session) error {
		p, err := s.ledger.Product(ctx, req.ProductID)
		if err != nil {
			return err
		}
		want := sess.Cart.Quantity(req.ProductID) + req.Quantity
		if p.Available() < want {
			return &inventory.StockError{ProductID: p.ID, Requested: want, Available: p.Available()}
		}

		if i := sess.Cart.index(req.ProductID); i >= 0 {
			it := &sess.Cart.Items[i]
			it.Quantity = want
			it.Specifications = mergeSpecs(it.Specifications, req.Specifications)
			snapshot(it, p)
		} else {
			it := Item{
				ProductID:      p.ID,
				Quantity:       want,
				Specifications: copySpecs(req.Specifications),
				AddedAt:        s.now(),
			}
			snapshot(&it, p)
			sess.Cart.Items = append(sess.Cart.Items, it)
		}

		v, err = s.refresh(ctx, sess, true)
		return err
	})
	return v, err
}

// UpdateQuantity sets the absolute quantity of a line. A quantity <= 0
// removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, ownerID, productID string, qty int) (v View, err error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, ownerID, productID)
	}
	defer s.observe("update", &err)

	err = s.WithLock(ctx, ownerID, func(ctx context.Context, sess *Session) error {
		i := sess.Cart.index(productID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotInCart, productID)
		}
		p, err := s.ledger.Product(ctx, productID)
		if err != nil {
			return err
		}
		if p.Available() < qty {
			return &inventory.StockError{ProductID: productID, Requested: qty, Available: p.Available()}
		}
		it := &sess.Cart.Items[i]
		it.Quantity = qty
		snapshot(it, p)

		v, err = s.refresh(ctx, sess, true)
		return err
	})
	return v, err
}

// RemoveItem is idempotent: removing an absent line is not an error.
func (s *Service) RemoveItem(ctx context.Context, ownerID, productID string) (v View, err error) {
	defer s.observe("remove", &err)

	err = s.WithLock(ctx, ownerID, func(ctx context.Context, sess *Session) error {
		removed := sess.Cart.remove(productID)
		var err error
		v, err = s.refresh(ctx, sess, removed)
		return err
	})
	return v, err
}

func (s *Service) Clear(ctx context.Context, ownerID string) (err error) {
	defer s.observe("clear", &err)

	return s.WithLock(ctx, ownerID, func(ctx context.Context, sess *Session) error {
		return sess.Clear(ctx)
	})
}

type lookup struct {
	p    inventory.Product
	gone bool
}

// refresh reprices every line against the ledger, drops vanished products
// and builds the view. The cart is saved when dirty or when repricing
// changed it.
func (s *Service) refresh(ctx context.Context, sess *Session, dirty bool) (View, error) {
	c := &sess.Cart
	if !sess.Found && !dirty {
		return s.view(c, nil), nil
	}

	found, err := s.lookupAll(ctx, c.Items)
	if err != nil {
		return View{}, err
	}

	kept := c.Items[:0]
	keptFound := found[:0]
	for i, it := range c.Items {
		l := found[i]
		if l.gone {
			s.log.Info("dropping vanished product from cart",
				zap.String("owner", c.OwnerID), zap.String("product_id", it.ProductID))
			dirty = true
			continue
		}
		if snapshot(&it, l.p) {
			dirty = true
		}
		kept = append(kept, it)
		keptFound = append(keptFound, l)
	}
	c.Items = kept

	if dirty {
		if err := sess.Save(ctx); err != nil {
			return View{}, err
		}
	}
	return s.view(c, keptFound), nil
}

func (s *Service) lookupAll(ctx context.Context, items []Item) ([]lookup, error) {
	out := make([]lookup, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, it := range items {
		g.Go(func() error {
			p, err := s.ledger.Product(gctx, it.ProductID)
			switch {
			case err == nil:
				out[i] = lookup{p: p}
			case errors.Is(err, inventory.ErrNotFound):
				out[i] = lookup{gone: true}
			default:
				return fmt.Errorf("lookup product %s: %w", it.ProductID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) view(c *Cart, found []lookup) View {
	v := View{OwnerID: c.OwnerID, Items: make([]Line, 0, len(c.Items)), UpdatedAt: c.UpdatedAt}
	var priced []pricing.Line
	for i, it := range c.Items {
		l := Line{
			Item:     it,
			Subtotal: it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
		if i < len(found) {
			l.Available = found[i].p.Available()
		}
		l.InStock = l.Available >= it.Quantity
		if l.InStock {
			priced = append(priced, pricing.Line{Price: it.Price, Quantity: it.Quantity})
		}
		v.Items = append(v.Items, l)
	}
	v.Totals = s.calc.Compute(priced)
	return v
}

// snapshot copies the live price, name and image onto the line. Reports
// whether anything changed.
func snapshot(it *Item, p inventory.Product) bool {
	changed := !it.Price.Equal(p.Price) || it.Name != p.Name || it.Image != p.Image
	it.Price = p.Price
	it.Name = p.Name
	it.Image = p.Image
	return changed
}

func (s *Service) observe(op string, err *error) {
	metrics.CartOps.WithLabelValues(op, metrics.Result(*err, classify)).Inc()
}

func classify(err error) string {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrNotFound), errors.Is(err, ErrItemNotInCart):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid"
	case errors.Is(err, lock.ErrTimeout):
		return "lock_timeout"
	}
	return ""
}
