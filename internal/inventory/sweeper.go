package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OrderLookup reports whether the order a hold was taken for still needs it:
// the order exists and is not cancelled.
type OrderLookup interface {
	Live(ctx context.Context, orderID string) (bool, error)
}

// Sweeper releases holds nobody owns anymore. That happens when a process
// dies between reserving and persisting the order, or between cancelling an
// order and releasing its holds.
type Sweeper struct {
	ledger   Ledger
	orders   OrderLookup
	grace    time.Duration
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewSweeper(ledger Ledger, orders OrderLookup, grace, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		ledger:   ledger,
		orders:   orders,
		grace:    grace,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if n, err := s.SweepOnce(ctx); err != nil {
			s.log.Error("hold sweep failed", zap.Error(err))
		} else if n > 0 {
			s.log.Info("released orphaned holds", zap.Int("holds", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce releases every reserved hold older than the grace period whose
// order is gone or cancelled. Returns the number of holds released.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	holds, err := s.ledger.StaleHolds(ctx, s.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}

	live := make(map[string]bool)
	released := 0
	for _, h := range holds {
		ok, seen := live[h.Ref]
		if !seen {
			ok, err = s.orders.Live(ctx, h.Ref)
			if err != nil {
				return released, err
			}
			live[h.Ref] = ok
		}
		if ok {
			continue
		}

		n, err := s.ledger.Release(ctx, h.Ref, h.ProductID)
		if err != nil {
			s.log.Warn("release orphaned hold",
				zap.String("ref", h.Ref),
				zap.String("product_id", h.ProductID),
				zap.Error(err))
			continue
		}
		if n > 0 {
			released++
		}
	}
	return released, nil
}
