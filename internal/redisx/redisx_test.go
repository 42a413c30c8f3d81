package redisx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-cart-reservations/internal/cart"
	"github.com/ariefcatur/go-cart-reservations/internal/lock"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCartStore_RoundTrip(t *testing.T) {
	mr, rdb := newRedis(t)
	s := &CartStore{Redis: rdb}
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	c := cart.Cart{OwnerID: "u1", Items: []cart.Item{{
		ProductID: "p1", Name: "Mug", Price: decimal.RequireFromString("9.99"), Quantity: 2,
		Specifications: map[string]string{"color": "red"},
	}}}
	require.NoError(t, s.Put(ctx, c))
	assert.True(t, mr.Exists("cart:u1"))
	assert.Equal(t, TTLCart, mr.TTL("cart:u1"))

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, "red", got.Items[0].Specifications["color"])

	require.NoError(t, s.Delete(ctx, "u1"))
	_, ok, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCartStore_Corrupt(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("cart:u1", "{not json"))
	_, _, err := (&CartStore{Redis: rdb}).Get(context.Background(), "u1")
	assert.Error(t, err)
}

func TestLocker_MutualExclusion(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewLocker(rdb, time.Second, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	g := new(errgroup.Group)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			unlock, err := l.Lock(ctx, "cart:u1")
			if err != nil {
				return err
			}
			defer unlock()
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_TimeoutAndExpiry(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewLocker(rdb, time.Second, nil)

	unlock, err := l.Lock(context.Background(), "order:o1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "order:o1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrTimeout))

	// the holder died: after TTL the key is free again
	mr.FastForward(2 * time.Second)
	unlock2, err := l.Lock(context.Background(), "order:o1")
	require.NoError(t, err)

	// a stale unlock must not free someone else's lock
	unlock()
	assert.True(t, mr.Exists("lock:order:o1"))
	unlock2()
	unlock2()
	assert.False(t, mr.Exists("lock:order:o1"))
}

func TestSequence(t *testing.T) {
	_, rdb := newRedis(t)
	s := &Sequence{Redis: rdb}
	ctx := context.Background()

	a, err := s.Next(ctx, 2024)
	require.NoError(t, err)
	b, _ := s.Next(ctx, 2024)
	c, _ := s.Next(ctx, 2025)
	assert.Equal(t, []int64{1, 2, 1}, []int64{a, b, c})
}

func TestDedup(t *testing.T) {
	mr, rdb := newRedis(t)
	d := &Dedup{Redis: rdb, Service: "inventory"}
	ctx := context.Background()

	seen, err := d.Seen(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, d.Mark(ctx, "e1"))
	seen, _ = d.Seen(ctx, "e1")
	assert.True(t, seen)
	assert.Equal(t, TTLDedup, mr.TTL("dedup:inventory:e1"))
}

type countingRepo struct {
	*orders.Memory
	gets int
}

func (r *countingRepo) Get(ctx context.Context, id string) (orders.Order, error) {
	r.gets++
	return r.Memory.Get(ctx, id)
}

func TestOrderCache_ReadThroughAndInvalidate(t *testing.T) {
	mr, rdb := newRedis(t)
	repo := &countingRepo{Memory: orders.NewMemory()}
	c := NewOrderCache(repo, rdb, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	o := orders.Order{ID: "o1", OwnerID: "u1", Status: orders.StatusPlaced, CreatedAt: now, UpdatedAt: now,
		History: []orders.StatusEntry{{Status: orders.StatusPlaced, At: now}}}
	require.NoError(t, c.Create(ctx, o))
	assert.True(t, mr.Exists("order:o1"))

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPlaced, got.Status)
	assert.Zero(t, repo.gets, "served from cache")

	mr.Del("order:o1")
	_, err = c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets)
	assert.True(t, mr.Exists("order:o1"))

	_, err = c.UpdateStatus(ctx, "o1", orders.StatusPlaced, orders.StatusEntry{Status: orders.StatusCancelled, At: now})
	require.NoError(t, err)
	got, err = c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)

	// failed compare-and-set leaves nothing stale behind
	_, err = c.UpdateStatus(ctx, "o1", orders.StatusPlaced, orders.StatusEntry{Status: orders.StatusConfirmed, At: now})
	assert.ErrorIs(t, err, orders.ErrStatusConflict)
	assert.False(t, mr.Exists("order:o1"))

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	ok, err := c.Exists(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
}
