package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cart-reservations/internal/cart"
	"github.com/redis/go-redis/v9"
)

// CartStore keeps each cart as one JSON value. Writes for one owner are
// serialized by the cart lock, so plain GET/SET is enough.
type CartStore struct {
	Redis *redis.Client
}

var _ cart.Store = (*CartStore)(nil)

func (s *CartStore) Get(ctx context.Context, ownerID string) (cart.Cart, bool, error) {
	b, err := s.Redis.Get(ctx, fmt.Sprintf(KeyCart, ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.Cart{}, false, nil
	}
	if err != nil {
		return cart.Cart{}, false, err
	}
	var c cart.Cart
	if err := json.Unmarshal(b, &c); err != nil {
		return cart.Cart{}, false, fmt.Errorf("decode cart %s: %w", ownerID, err)
	}
	return c, true, nil
}

func (s *CartStore) Put(ctx context.Context, c cart.Cart) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, fmt.Sprintf(KeyCart, c.OwnerID), b, TTLCart).Err()
}

func (s *CartStore) Delete(ctx context.Context, ownerID string) error {
	return s.Redis.Del(ctx, fmt.Sprintf(KeyCart, ownerID)).Err()
}
