package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OrderCache is a read-through cache in front of an orders.Repository. The
// repository stays the source of truth: cache errors only cost a round trip.
type OrderCache struct {
	orders.Repository
	Redis *redis.Client
	Log   *zap.Logger
}

func NewOrderCache(repo orders.Repository, rdb *redis.Client, log *zap.Logger) *OrderCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderCache{Repository: repo, Redis: rdb, Log: log}
}

func (c *OrderCache) Get(ctx context.Context, id string) (orders.Order, error) {
	key := fmt.Sprintf(KeyOrder, id)
	if b, err := c.Redis.Get(ctx, key).Bytes(); err == nil {
		var o orders.Order
		if err := json.Unmarshal(b, &o); err == nil {
			return o, nil
		}
		c.Log.Warn("drop undecodable cached order", zap.String("order_id", id))
	}

	o, err := c.Repository.Get(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	c.put(ctx, o)
	return o, nil
}

func (c *OrderCache) Exists(ctx context.Context, id string) (bool, error) {
	if ok, err := Exists(ctx, c.Redis, fmt.Sprintf(KeyOrder, id)); err == nil && ok {
		return true, nil
	}
	return c.Repository.Exists(ctx, id)
}

func (c *OrderCache) Create(ctx context.Context, o orders.Order) error {
	if err := c.Repository.Create(ctx, o); err != nil {
		return err
	}
	c.put(ctx, o)
	return nil
}

func (c *OrderCache) UpdateStatus(ctx context.Context, id string, from orders.Status, entry orders.StatusEntry) (orders.Order, error) {
	// evicted before the write, so a failed update leaves nothing cached
	c.evict(ctx, id)
	o, err := c.Repository.UpdateStatus(ctx, id, from, entry)
	if err != nil {
		return orders.Order{}, err
	}
	c.put(ctx, o)
	return o, nil
}

func (c *OrderCache) put(ctx context.Context, o orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := c.Redis.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err(); err != nil {
		c.Log.Debug("cache order", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (c *OrderCache) evict(ctx context.Context, id string) {
	if err := c.Redis.Del(ctx, fmt.Sprintf(KeyOrder, id)).Err(); err != nil {
		c.Log.Warn("evict cached order", zap.String("order_id", id), zap.Error(err))
	}
}
