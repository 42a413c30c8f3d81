package inventory

import (
	"context"
	"encoding/json"
	"errors"

	kafkax "github.com/ariefcatur/go-cart-reservations/internal/kafka"
	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper remembers which events were already applied.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// CatalogSync applies catalog.product.changed events to the ledger.
type CatalogSync struct {
	Catalog Catalog
	Dedup   Deduper // optional
	Log     *zap.Logger
}

// HandleProductChanged is installed as a consumer handler. A nil return
// commits the offset, so events that can never apply are logged and dropped.
func (s *CatalogSync) HandleProductChanged(ctx context.Context, m kafkago.Message) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn("drop undecodable catalog event", zap.Error(err), zap.Int64("offset", m.Offset))
		return nil
	}
	if env.EventType != orders.EventCatalogProductChanged {
		return nil
	}

	if s.Dedup != nil && env.EventID != "" {
		seen, err := s.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.ProductChangedPayload](env.Payload)
	if err != nil {
		log.Warn("drop catalog event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	log = log.With(zap.String("event_id", env.EventID), zap.String("product_id", p.ProductID))
	if err := s.apply(ctx, p); err != nil {
		switch {
		case errors.Is(err, ErrInvalidProduct),
			errors.Is(err, ErrStockBelowReserved),
			errors.Is(err, ErrHasReservations):
			log.Warn("catalog change rejected", zap.Error(err))
		case errors.Is(err, ErrNotFound) && p.Deleted:
			// already gone
		default:
			return err
		}
	}

	if s.Dedup != nil && env.EventID != "" {
		if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
			log.Warn("mark catalog event", zap.Error(err))
		}
	}
	return nil
}

func (s *CatalogSync) apply(ctx context.Context, p orders.ProductChangedPayload) error {
	if p.Deleted {
		return s.Catalog.Remove(ctx, p.ProductID)
	}
	_, err := s.Catalog.Upsert(ctx, ProductInput{
		ID:    p.ProductID,
		Name:  p.Name,
		Image: p.Image,
		Price: p.Price,
		Stock: p.Stock,
	})
	return err
}
