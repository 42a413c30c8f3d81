// Package checkout is the only place cart intent turns into inventory
// commitment, and the only place that commitment is reversed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/cart"
	"github.com/ariefcatur/go-cart-reservations/internal/inventory"
	"github.com/ariefcatur/go-cart-reservations/internal/lock"
	"github.com/ariefcatur/go-cart-reservations/internal/metrics"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/ariefcatur/go-cart-reservations/internal/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Deps struct {
	Carts     *cart.Service
	Ledger    inventory.Ledger
	Orders    orders.Repository
	Sequence  orders.Sequence
	Locks     lock.Locker
	Pricing   pricing.Calculator
	Publisher orders.Publisher // optional
	Log       *zap.Logger

	// NumberPrefix defaults to "WM".
	NumberPrefix string
}

type Coordinator struct {
	carts  *cart.Service
	ledger inventory.Ledger
	orders orders.Repository
	seq    orders.Sequence
	locks  lock.Locker
	calc   pricing.Calculator
	pub    orders.Publisher
	log    *zap.Logger
	prefix string

	now   func() time.Time
	newID func() string
}

func New(d Deps) *Coordinator {
	c := &Coordinator{
		carts:  d.Carts,
		ledger: d.Ledger,
		orders: d.Orders,
		seq:    d.Sequence,
		locks:  d.Locks,
		calc:   d.Pricing,
		pub:    d.Publisher,
		log:    d.Log,
		prefix: d.NumberPrefix,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.prefix == "" {
		c.prefix = "WM"
	}
	return c
}

type Request struct {
	Address        orders.Address `json:"shipping_address"`
	PaymentMethod  string         `json:"payment_method"`
	ShippingMethod string         `json:"shipping_method"`
}

func (r Request) normalize() (orders.Shipping, orders.Payment, error) {
	if missing := r.Address.Missing(); len(missing) > 0 {
		return orders.Shipping{}, orders.Payment{}, &AddressError{Missing: missing}
	}

	method := r.ShippingMethod
	switch method {
	case "":
		method = orders.ShippingStandard
	case orders.ShippingStandard, orders.ShippingExpress, orders.ShippingOvernight:
	default:
		return orders.Shipping{}, orders.Payment{}, fmt.Errorf("%w: %s", ErrInvalidShipping, method)
	}

	pay := r.PaymentMethod
	switch pay {
	case "":
		pay = orders.PaymentCashOnDelivery
	case orders.PaymentCashOnDelivery:
	default:
		return orders.Shipping{}, orders.Payment{}, fmt.Errorf("%w: %s", ErrInvalidPayment, pay)
	}

	return orders.Shipping{Address: r.Address, Method: method},
		orders.Payment{Method: pay, Status: orders.PaymentPending}, nil
}

// Checkout turns the owner's cart into a placed order. Either every line is
// reserved, the order is persisted and the cart is cleared, or nothing
// changes: reservations made so far are released and the cart is left as it
// was.
func (c *Coordinator) Checkout(ctx context.Context, ownerID string, req Request) (o orders.Order, err error) {
	defer func() { metrics.Checkouts.WithLabelValues(metrics.Result(err, classify)).Inc() }()

	shipping, payment, err := req.normalize()
	if err != nil {
		return orders.Order{}, err
	}

	err = c.carts.WithLock(ctx, ownerID, func(ctx context.Context, sess *cart.Session) error {
		if sess.Cart.Empty() {
			return ErrEmptyCart
		}

		live, err := c.validate(ctx, sess.Cart.Items)
		if err != nil {
			return err
		}

		now := c.now()
		id := c.newID()
		seq, err := c.seq.Next(ctx, now.Year())
		if err != nil {
			return fmt.Errorf("allocate order number: %w", err)
		}

		o = orders.Order{
			ID:       id,
			Number:   orders.FormatNumber(c.prefix, now.Year(), seq),
			OwnerID:  ownerID,
			Items:    snapshotItems(sess.Cart.Items, live),
			Shipping: shipping,
			Payment:  payment,
			Status:   orders.StatusPlaced,
			History: []orders.StatusEntry{
				{Status: orders.StatusPlaced, At: now, Note: "Order placed"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		o.Pricing = c.calc.Compute(priceLines(o.Items))

		// The marker lets a later load settle the cart if this process dies
		// before the cart is cleared.
		sess.Cart.PendingOrderID = id
		if err := sess.Save(ctx); err != nil {
			return err
		}

		// From here on the checkout runs to completion or full rollback,
		// regardless of the caller going away.
		ctx = context.WithoutCancel(ctx)
		log := c.log.With(zap.String("owner", ownerID), zap.String("order_id", id))

		reserved, err := c.reserveAll(ctx, id, o.Items)
		if err != nil {
			c.releaseAll(ctx, log, id, reserved, "rollback")
			c.unmark(ctx, log, sess)
			return err
		}

		if err := c.orders.Create(ctx, o); err != nil {
			c.releaseAll(ctx, log, id, reserved, "rollback")
			c.unmark(ctx, log, sess)
			return fmt.Errorf("persist order: %w", err)
		}

		if err := sess.Clear(ctx); err != nil {
			// the order is placed; the marker clears the cart on next load
			log.Warn("clear cart after checkout", zap.Error(err))
		}
		log.Info("order placed", zap.String("number", o.Number), zap.Int("units", o.Units()))
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}

	c.publishPlaced(ctx, o)
	return o, nil
}

// validate re-reads every line from the ledger and reports all offending
// lines at once.
func (c *Coordinator) validate(ctx context.Context, items []cart.Item) (map[string]inventory.Product, error) {
	live := make(map[string]inventory.Product, len(items))
	var errs []error
	for _, it := range items {
		p, err := c.ledger.Product(ctx, it.ProductID)
		if errors.Is(err, inventory.ErrNotFound) {
			errs = append(errs, &ItemError{ProductID: it.ProductID})
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Available() < it.Quantity {
			errs = append(errs, &inventory.StockError{ProductID: it.ProductID, Requested: it.Quantity, Available: p.Available()})
			continue
		}
		live[it.ProductID] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return live, nil
}

// reserveAll reserves every item under the order ID and returns the
// product IDs reserved so far, in order.
func (c *Coordinator) reserveAll(ctx context.Context, orderID string, items []orders.Item) ([]string, error) {
	reserved := make([]string, 0, len(items))
	for _, it := range items {
		err := c.ledger.Reserve(ctx, orderID, it.ProductID, it.Quantity)
		if errors.Is(err, inventory.ErrNotFound) {
			err = &ItemError{ProductID: it.ProductID}
		}
		if err != nil {
			return reserved, err
		}
		reserved = append(reserved, it.ProductID)
		metrics.ReservedUnits.Add(float64(it.Quantity))
	}
	return reserved, nil
}

// releaseAll releases holds in reverse order. Failures are logged; the hold
// sweeper picks up whatever is left.
func (c *Coordinator) releaseAll(ctx context.Context, log *zap.Logger, orderID string, productIDs []string, reason string) {
	for i := len(productIDs) - 1; i >= 0; i-- {
		n, err := c.ledger.Release(ctx, orderID, productIDs[i])
		if err != nil {
			log.Warn("release hold", zap.String("product_id", productIDs[i]), zap.String("reason", reason), zap.Error(err))
			continue
		}
		metrics.ReleasedUnits.WithLabelValues(reason).Add(float64(n))
	}
}

func (c *Coordinator) unmark(ctx context.Context, log *zap.Logger, sess *cart.Session) {
	sess.Cart.PendingOrderID = ""
	if err := sess.Save(ctx); err != nil {
		log.Warn("restore cart after failed checkout", zap.Error(err))
	}
}

// Cancel cancels an order and returns its reserved units to available.
func (c *Coordinator) Cancel(ctx context.Context, orderID, note string) (orders.Order, error) {
	return c.cancel(ctx, "", orderID, note)
}

// CancelAs is Cancel restricted to the order's owner. Other owners get
// orders.ErrNotFound.
func (c *Coordinator) CancelAs(ctx context.Context, ownerID, orderID, note string) (orders.Order, error) {
	if ownerID == "" {
		return orders.Order{}, orders.ErrNotFound
	}
	return c.cancel(ctx, ownerID, orderID, note)
}

func (c *Coordinator) cancel(ctx context.Context, ownerID, orderID, note string) (orders.Order, error) {
	unlock, err := c.locks.Lock(ctx, lock.OrderKey(orderID))
	if err != nil {
		return orders.Order{}, err
	}
	defer unlock()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if ownerID != "" && o.OwnerID != ownerID {
		return orders.Order{}, orders.ErrNotFound
	}

	log := c.log.With(zap.String("order_id", orderID))
	if o.Status == orders.StatusCancelled {
		// finishes a cancel interrupted between the transition and the release
		c.releaseAll(context.WithoutCancel(ctx), log, orderID, productIDs(o), "cancel")
		return orders.Order{}, ErrAlreadyTerminal
	}
	if o.Status.Terminal() {
		return orders.Order{}, ErrAlreadyTerminal
	}

	if note == "" {
		note = "Order cancelled"
	}
	from := o.Status
	o, err = c.orders.UpdateStatus(ctx, orderID, from, orders.StatusEntry{Status: orders.StatusCancelled, At: c.now(), Note: note})
	if errors.Is(err, orders.ErrStatusConflict) {
		return orders.Order{}, ErrAlreadyTerminal
	}
	if err != nil {
		return orders.Order{}, err
	}
	metrics.OrderTransitions.WithLabelValues(string(orders.StatusCancelled)).Inc()

	c.releaseAll(context.WithoutCancel(ctx), log, orderID, productIDs(o), "cancel")
	log.Info("order cancelled", zap.String("from", string(from)))

	c.publishStatus(ctx, o, from, note)
	return o, nil
}

// Advance moves an order forward through confirmed, shipped and delivered.
// Delivering commits the order's holds; cancelling goes through Cancel.
func (c *Coordinator) Advance(ctx context.Context, orderID string, to orders.Status, note string) (orders.Order, error) {
	if !to.Valid() || to == orders.StatusPlaced {
		return orders.Order{}, fmt.Errorf("%w: unknown target %q", ErrInvalidTransition, to)
	}
	if to == orders.StatusCancelled {
		return c.Cancel(ctx, orderID, note)
	}

	unlock, err := c.locks.Lock(ctx, lock.OrderKey(orderID))
	if err != nil {
		return orders.Order{}, err
	}
	defer unlock()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	from := o.Status
	if !orders.CanTransition(from, to) {
		return orders.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	o, err = c.orders.UpdateStatus(ctx, orderID, from, orders.StatusEntry{Status: to, At: c.now(), Note: note})
	if errors.Is(err, orders.ErrStatusConflict) {
		return orders.Order{}, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, orderID)
	}
	if err != nil {
		return orders.Order{}, err
	}
	metrics.OrderTransitions.WithLabelValues(string(to)).Inc()

	if to == orders.StatusDelivered {
		dctx := context.WithoutCancel(ctx)
		for _, id := range productIDs(o) {
			if err := c.ledger.Commit(dctx, orderID, id); err != nil {
				c.log.Error("commit hold",
					zap.String("order_id", orderID), zap.String("product_id", id), zap.Error(err))
			}
		}
	}

	c.publishStatus(ctx, o, from, note)
	return o, nil
}

// Order returns one of the owner's orders. Orders of other owners are
// reported as not found.
func (c *Coordinator) Order(ctx context.Context, ownerID, orderID string) (orders.Order, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.OwnerID != ownerID {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

// Orders lists the owner's orders, newest first.
func (c *Coordinator) Orders(ctx context.Context, ownerID string) ([]orders.Order, error) {
	return c.orders.ListByOwner(ctx, ownerID)
}

func (c *Coordinator) Summary(ctx context.Context, ownerID string) (orders.Summary, error) {
	list, err := c.orders.ListByOwner(ctx, ownerID)
	if err != nil {
		return orders.Summary{}, err
	}
	return orders.Summarize(list), nil
}

func (c *Coordinator) publishPlaced(ctx context.Context, o orders.Order) {
	if c.pub == nil {
		return
	}
	if err := c.pub.OrderPlaced(context.WithoutCancel(ctx), o); err != nil {
		c.log.Warn("publish order placed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (c *Coordinator) publishStatus(ctx context.Context, o orders.Order, from orders.Status, note string) {
	if c.pub == nil {
		return
	}
	if err := c.pub.OrderStatusChanged(context.WithoutCancel(ctx), o, from, note); err != nil {
		c.log.Warn("publish status change", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func snapshotItems(items []cart.Item, live map[string]inventory.Product) []orders.Item {
	out := make([]orders.Item, 0, len(items))
	for _, it := range items {
		p := live[it.ProductID]
		specs := make(map[string]string, len(it.Specifications))
		for k, v := range it.Specifications {
			specs[k] = v
		}
		out = append(out, orders.Item{
			ProductID:      it.ProductID,
			Name:           p.Name,
			Image:          p.Image,
			Price:          p.Price,
			Quantity:       it.Quantity,
			Specifications: specs,
		})
	}
	return out
}

func priceLines(items []orders.Item) []pricing.Line {
	out := make([]pricing.Line, len(items))
	for i, it := range items {
		out[i] = pricing.Line{Price: it.Price, Quantity: it.Quantity}
	}
	return out
}

func productIDs(o orders.Order) []string {
	out := make([]string, len(o.Items))
	for i, it := range o.Items {
		out[i] = it.ProductID
	}
	return out
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidPayment), errors.Is(err, ErrInvalidShipping):
		return "invalid"
	case errors.Is(err, lock.ErrTimeout):
		return "lock_timeout"
	}
	return ""
}
