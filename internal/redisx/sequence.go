package redisx

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/redis/go-redis/v9"
)

// Sequence numbers orders per year with INCR.
type Sequence struct {
	Redis *redis.Client
}

var _ orders.Sequence = (*Sequence)(nil)

func (s *Sequence) Next(ctx context.Context, year int) (int64, error) {
	return s.Redis.Incr(ctx, fmt.Sprintf(KeyOrderSeq, year)).Result()
}
