package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher wraps order events in an Envelope and hands them to the
// per-topic producers.
type Publisher struct {
	Placed        *Producer
	StatusChanged *Producer
	ServiceName   string
	now           func() time.Time
}

var _ orders.Publisher = (*Publisher)(nil)

func (p *Publisher) OrderPlaced(ctx context.Context, o orders.Order) error {
	payload := orders.OrderPlacedPayload{
		OrderID: o.ID,
		Number:  o.Number,
		UserID:  o.OwnerID,
		Items:   orders.ItemQuantities(o),
		Total:   o.Pricing.Total,
	}
	return p.publish(ctx, p.Placed, orders.EventOrderPlaced, o.ID, payload)
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, o orders.Order, from orders.Status, note string) error {
	payload := orders.OrderStatusChangedPayload{
		OrderID: o.ID,
		UserID:  o.OwnerID,
		From:    from,
		To:      o.Status,
		Note:    note,
	}
	if o.Status == orders.StatusCancelled {
		payload.Items = orders.ItemQuantities(o)
	}
	return p.publish(ctx, p.StatusChanged, orders.EventOrderStatusChanged, o.ID, payload)
}

func (p *Publisher) publish(ctx context.Context, to *Producer, eventType, orderID string, payload any) error {
	if to == nil {
		return nil
	}
	ev := NewEnvelope(p.ServiceName, eventType, orderID, payload, p.clock())
	return to.Publish(ctx, orders.PartitionKey(orderID), MustMarshal(ev), EventHeaders(eventType)...)
}

func (p *Publisher) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func NewEnvelope(producer, eventType, correlationID string, payload any, at time.Time) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
}

func EventHeaders(eventType string) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(1))},
	}
}
