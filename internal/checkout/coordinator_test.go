package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/cart"
	"github.com/ariefcatur/go-cart-reservations/internal/inventory"
	"github.com/ariefcatur/go-cart-reservations/internal/lock"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/ariefcatur/go-cart-reservations/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

var addr = orders.Address{
	FullName: "Ada Lovelace",
	Line1:    "12 Analytical St",
	City:     "London",
	State:    "LDN",
	ZipCode:  "N1",
	Country:  "UK",
	Phone:    "+44 20 0000",
}

// depletingLedger lets a test run code right before the nth Reserve call.
type depletingLedger struct {
	*inventory.Memory
	calls  atomic.Int32
	before map[int32]func()
}

func (l *depletingLedger) Reserve(ctx context.Context, ref, productID string, qty int) error {
	n := l.calls.Add(1)
	if fn, ok := l.before[n]; ok {
		fn()
	}
	return l.Memory.Reserve(ctx, ref, productID, qty)
}

type failingRepo struct {
	orders.Repository
	err error
}

func (r failingRepo) Create(context.Context, orders.Order) error { return r.err }

type recorder struct {
	mu      sync.Mutex
	placed  []string
	changed []orders.Status
}

func (r *recorder) OrderPlaced(_ context.Context, o orders.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, o.ID)
	return nil
}

func (r *recorder) OrderStatusChanged(_ context.Context, o orders.Order, _ orders.Status, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, o.Status)
	return nil
}

type env struct {
	co     *Coordinator
	carts  *cart.Service
	store  *cart.MemoryStore
	ledger *inventory.Memory
	repo   *orders.Memory
	pub    *recorder
}

type setup struct {
	ledger func(*inventory.Memory) inventory.Ledger
	repo   func(*orders.Memory) orders.Repository
}

func newEnv(t *testing.T, s setup) env {
	t.Helper()
	log := zaptest.NewLogger(t)
	mem := inventory.NewMemory(log)
	repo := orders.NewMemory()
	store := cart.NewMemoryStore()
	locks := lock.NewLocal()
	calc := pricing.NewCalculator(pricing.DefaultPolicy())
	pub := &recorder{}

	var ledger inventory.Ledger = mem
	if s.ledger != nil {
		ledger = s.ledger(mem)
	}
	var r orders.Repository = repo
	if s.repo != nil {
		r = s.repo(repo)
	}

	carts := cart.NewService(store, ledger, locks, calc, log, cart.WithPlacedOrders(r))
	co := New(Deps{
		Carts:     carts,
		Ledger:    ledger,
		Orders:    r,
		Sequence:  orders.NewMemorySequence(),
		Locks:     locks,
		Pricing:   calc,
		Publisher: pub,
		Log:       log,
	})
	return env{co: co, carts: carts, store: store, ledger: mem, repo: repo, pub: pub}
}

func (e env) product(t *testing.T, id, price string, stock int) {
	t.Helper()
	_, err := e.ledger.Upsert(context.Background(), inventory.ProductInput{ID: id, Name: id, Price: decimal.RequireFromString(price), Stock: stock})
	require.NoError(t, err)
}

func (e env) add(t *testing.T, owner, id string, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), owner, cart.AddRequest{ProductID: id, Quantity: qty})
	require.NoError(t, err)
}

func (e env) counters(t *testing.T, id string) (stock, reserved int) {
	t.Helper()
	p, err := e.ledger.Product(context.Background(), id)
	require.NoError(t, err)
	return p.Stock, p.Reserved
}

func (e env) storedCart(t *testing.T, owner string) (cart.Cart, bool) {
	t.Helper()
	c, ok, err := e.store.Get(context.Background(), owner)
	require.NoError(t, err)
	return c, ok
}

func TestCheckout_ReservesAndClearsCart(t *testing.T) {
	e := newEnv(t, setup{})
	e.product(t, "P1", "20", 5)
	e.add(t, "u1", "P1", 3)

	_, reserved := e.counters(t, "P1")
	assert.Zero(t, reserved, "adding to cart does not reserve")

	o, err := e.co.Checkout(context.Background(), "u1", Request{Address: addr})
	require.NoError(t, err)

	stock, reserved := e.counters(t, "P1")
	assert.Equal(t, 3, reserved)
	assert.Equal(t, 2, stock-reserved)
	_, ok := e.storedCart(t, "u1")
	assert.False(t, ok, "cart cleared")

	assert.Equal(t, orders.StatusPlaced, o.Status)
	require.Len(t, o.History, 1)
	assert.Equal(t, orders.StatusPlaced, o.History[0].Status)
	assert.Equal(t, orders.PaymentCashOnDelivery, o.Payment.Method)
	assert.Equal(t, orders.ShippingStandard, o.Shipping.Method)
	assert.True(t, o.Pricing.Subtotal.Equal(decimal.NewFromInt(60)))
	assert.True(t, o.Pricing.Tax.Equal(decimal.NewFromInt(6)))
	assert.True(t, o.Pricing.Shipping.Equal(decimal.NewFromInt(10)))
	assert.True(t, o.Pricing.Total.Equal(decimal.NewFromInt(76)))
	assert.Regexp(t, `^WM-\d{4}-000001$`, o.Number)

	stored, err := e.repo.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)

	holds, err := e.ledger.Holds(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, inventory.HoldReserved, holds[0].Status)

	assert.Equal(t, []string{o.ID}, e.pub.placed)
}

func TestCheckout_SecondBuyerLosesRace(t *testing.T) {
	e := newEnv(t, setup{})
	e.product(t, "P2", "10", 2)
	e.add(t, "A", "P2", 2)
	e.add(t, "B", "P2", 2)

	_, err := e.co.Checkout(context.Background(), "A", Request{Address: addr})
	require.NoError(t, err)
	stock, reserved := e.counters(t, "P2")
	assert.Equal(t, 2, reserved)
	assert.Zero(t, stock-reserved)

	_, err = e.co.Checkout(context.Background(), "B", Request{Address: addr})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	var se *inventory.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "P2", se.ProductID)

	c, ok := e.storedCart(t, "B")
	require.True(t, ok)
	assert.Equal(t, 2, c.Quantity("P2"))
	assert.Empty(t, c.PendingOrderID)

	list, _ := e.repo.ListByOwner(context.Background(), "B")
	assert.Empty(t, list)
}

func TestCancel_ReleasesOnce(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P3", "5", 10)
	e.add(t, "u1", "P3", 4)
	o, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.NoError(t, err)
	_, reserved := e.counters(t, "P3")
	require.Equal(t, 4, reserved)

	got, err := e.co.Cancel(ctx, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, orders.StatusCancelled, got.History[1].Status)
	_, reserved = e.counters(t, "P3")
	assert.Zero(t, reserved)

	_, err = e.co.Cancel(ctx, o.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	stock, reserved := e.counters(t, "P3")
	assert.Zero(t, reserved)
	assert.Equal(t, 10, stock)
}

func TestCancel_ConcurrentCallsReleaseOnce(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P1", "5", 10)
	e.product(t, "P2", "5", 10)
	// someone else's reservation must survive
	require.NoError(t, e.ledger.Reserve(ctx, "other", "P1", 3))
	e.add(t, "u1", "P1", 4)
	e.add(t, "u1", "P2", 2)
	o, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.NoError(t, err)

	var ok, terminal atomic.Int32
	g := new(errgroup.Group)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := e.co.Cancel(ctx, o.ID, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyTerminal):
				terminal.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 9, terminal.Load())

	_, r1 := e.counters(t, "P1")
	_, r2 := e.counters(t, "P2")
	assert.Equal(t, 3, r1)
	assert.Zero(t, r2)
}

func TestCheckout_ThirdOfFourFailsRollsBack(t *testing.T) {
	var mem *inventory.Memory
	e := newEnv(t, setup{ledger: func(m *inventory.Memory) inventory.Ledger {
		mem = m
		return &depletingLedger{Memory: m, before: map[int32]func(){
			// a concurrent buyer takes the last units of P3 just before
			// this checkout reserves it
			3: func() { _ = mem.Reserve(context.Background(), "rival", "P3", 2) },
		}}
	}})
	ctx := context.Background()
	for _, id := range []string{"P1", "P2", "P3", "P4"} {
		e.product(t, id, "10", 2)
		e.add(t, "u1", id, 1)
	}
	before, _ := e.storedCart(t, "u1")

	_, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	for _, id := range []string{"P1", "P2", "P4"} {
		_, reserved := e.counters(t, id)
		assert.Zero(t, reserved, id)
	}
	_, reserved := e.counters(t, "P3")
	assert.Equal(t, 2, reserved, "only the rival's hold remains")

	after, ok := e.storedCart(t, "u1")
	require.True(t, ok)
	assert.Equal(t, before.Items, after.Items)
	assert.Empty(t, after.PendingOrderID)

	list, _ := e.repo.ListByOwner(ctx, "u1")
	assert.Empty(t, list)
	assert.Empty(t, e.pub.placed)
}

func TestCheckout_PersistFailureRollsBack(t *testing.T) {
	boom := errors.New("db down")
	e := newEnv(t, setup{repo: func(m *orders.Memory) orders.Repository { return failingRepo{Repository: m, err: boom} }})
	e.product(t, "P1", "10", 5)
	e.add(t, "u1", "P1", 2)

	_, err := e.co.Checkout(context.Background(), "u1", Request{Address: addr})
	require.ErrorIs(t, err, boom)

	_, reserved := e.counters(t, "P1")
	assert.Zero(t, reserved)
	c, ok := e.storedCart(t, "u1")
	require.True(t, ok)
	assert.Equal(t, 2, c.Quantity("P1"))
	assert.Empty(t, c.PendingOrderID)
}

func TestCheckout_Validation(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()

	_, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	assert.ErrorIs(t, err, ErrEmptyCart)

	e.product(t, "gone", "10", 5)
	e.product(t, "short", "10", 5)
	e.product(t, "fine", "10", 5)
	e.add(t, "u1", "gone", 1)
	e.add(t, "u1", "short", 3)
	e.add(t, "u1", "fine", 1)
	require.NoError(t, e.ledger.Remove(ctx, "gone"))
	require.NoError(t, e.ledger.Reserve(ctx, "other", "short", 4))

	_, err = e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrItemUnavailable)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	var ie *ItemError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "gone", ie.ProductID)
	_, reserved := e.counters(t, "fine")
	assert.Zero(t, reserved)

	bad := addr
	bad.Phone = ""
	_, err = e.co.Checkout(ctx, "u1", Request{Address: bad})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = e.co.Checkout(ctx, "u1", Request{Address: addr, PaymentMethod: "card"})
	assert.ErrorIs(t, err, ErrInvalidPayment)

	_, err = e.co.Checkout(ctx, "u1", Request{Address: addr, ShippingMethod: "teleport"})
	assert.ErrorIs(t, err, ErrInvalidShipping)
}

func TestCheckout_DoubleSubmit(t *testing.T) {
	e := newEnv(t, setup{})
	e.product(t, "P1", "10", 5)
	e.add(t, "u1", "P1", 2)

	var placed, empty atomic.Int32
	g := new(errgroup.Group)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := e.co.Checkout(context.Background(), "u1", Request{Address: addr})
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, ErrEmptyCart):
				empty.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, placed.Load())
	assert.EqualValues(t, 1, empty.Load())
	_, reserved := e.counters(t, "P1")
	assert.Equal(t, 2, reserved)
}

func TestAdvance_DeliveryCommitsStock(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P1", "10", 5)
	e.add(t, "u1", "P1", 2)
	o, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.NoError(t, err)

	_, err = e.co.Advance(ctx, o.ID, orders.StatusShipped, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusShipped, orders.StatusDelivered} {
		o, err = e.co.Advance(ctx, o.ID, to, "")
		require.NoError(t, err)
		assert.Equal(t, to, o.Status)
	}
	assert.Len(t, o.History, 4)

	stock, reserved := e.counters(t, "P1")
	assert.Equal(t, 3, stock)
	assert.Zero(t, reserved)

	_, err = e.co.Cancel(ctx, o.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	_, err = e.co.Advance(ctx, o.ID, orders.StatusPlaced, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []orders.Status{orders.StatusConfirmed, orders.StatusShipped, orders.StatusDelivered}, e.pub.changed)
}

func TestAdvance_CancelledReleases(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P1", "10", 5)
	e.add(t, "u1", "P1", 2)
	o, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.NoError(t, err)
	_, err = e.co.Advance(ctx, o.ID, orders.StatusConfirmed, "")
	require.NoError(t, err)

	o, err = e.co.Advance(ctx, o.ID, orders.StatusCancelled, "out of stock at warehouse")
	require.NoError(t, err)
	assert.Equal(t, "out of stock at warehouse", o.History[len(o.History)-1].Note)
	_, reserved := e.counters(t, "P1")
	assert.Zero(t, reserved)
}

func TestOwnership(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P1", "10", 5)
	e.add(t, "u1", "P1", 1)
	o, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
	require.NoError(t, err)

	_, err = e.co.Order(ctx, "u2", o.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	_, err = e.co.CancelAs(ctx, "u2", o.ID, "")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	_, reserved := e.counters(t, "P1")
	assert.Equal(t, 1, reserved)

	_, err = e.co.CancelAs(ctx, "u1", o.ID, "")
	require.NoError(t, err)
	_, err = e.co.Cancel(ctx, "missing", "")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestOrdersAndSummary(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P1", "60", 10)

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	e.co.now = func() time.Time { tick++; return t0.Add(time.Duration(tick) * time.Minute) }

	var ids []string
	for i := 0; i < 3; i++ {
		e.add(t, "u1", "P1", 1)
		o, err := e.co.Checkout(ctx, "u1", Request{Address: addr})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	_, err := e.co.Cancel(ctx, ids[0], "")
	require.NoError(t, err)

	list, err := e.co.Orders(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, "WM-2024-000003", list[0].Number)

	s, err := e.co.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Status[orders.StatusPlaced])
	assert.Equal(t, 1, s.Status[orders.StatusCancelled])
	// 60 + 6 tax + 10 shipping, three times
	assert.True(t, s.TotalAmount.Equal(decimal.NewFromInt(228)), s.TotalAmount.String())
}

func TestSweeperReleasesHoldsWithoutOrder(t *testing.T) {
	e := newEnv(t, setup{})
	ctx := context.Background()
	e.product(t, "P1", "10", 5)

	// a checkout that died after reserving but before persisting
	require.NoError(t, e.ledger.Reserve(ctx, "never-persisted", "P1", 2))

	s := inventory.NewSweeper(e.ledger, orders.Liveness{Repo: e.repo}, 0, time.Minute, nil)
	time.Sleep(time.Millisecond)
	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, reserved := e.counters(t, "P1")
	assert.Zero(t, reserved)
}
