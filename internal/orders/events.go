package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced           = "OrderPlaced"
	EventOrderStatusChanged    = "OrderStatusChanged"
	EventCatalogProductChanged = "CatalogProductChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "cart-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID string          `json:"order_id"`
	Number  string          `json:"order_number"`
	UserID  string          `json:"user_id"`
	Items   []ItemQty       `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

type OrderStatusChangedPayload struct {
	OrderID string    `json:"order_id"`
	UserID  string    `json:"user_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Note    string    `json:"note,omitempty"`
	Items   []ItemQty `json:"items,omitempty"` // set on cancellation: units released
}

// ProductChangedPayload is published by catalog management.
type ProductChangedPayload struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// Publisher emits order lifecycle events. Publishing is best effort: the
// order is already durable when these are called.
type Publisher interface {
	OrderPlaced(ctx context.Context, o Order) error
	OrderStatusChanged(ctx context.Context, o Order, from Status, note string) error
}

func ItemQuantities(o Order) []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}
