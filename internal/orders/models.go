package orders

import (
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/pricing"
	"github.com/shopspring/decimal"
)

// Item is copied from the cart when the order is placed and never re-read
// from the live product afterwards.
type Item struct {
	ProductID      string            `json:"product_id"`
	Name           string            `json:"name"`
	Image          string            `json:"image,omitempty"`
	Price          decimal.Decimal   `json:"price"`
	Quantity       int               `json:"quantity"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

type Address struct {
	FullName string `json:"full_name"`
	Line1    string `json:"address_line1"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zip_code"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
}

// Missing returns the names of the required fields left blank.
func (a Address) Missing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"full_name", a.FullName},
		{"address_line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
		{"country", a.Country},
		{"phone", a.Phone},
	} {
		if f.v == "" {
			out = append(out, f.name)
		}
	}
	return out
}

const (
	ShippingStandard  = "standard"
	ShippingExpress   = "express"
	ShippingOvernight = "overnight"

	PaymentCashOnDelivery = "cash_on_delivery"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type Shipping struct {
	Address Address `json:"address"`
	Method  string  `json:"method"`
}

type Payment struct {
	Method string `json:"method"`
	Status string `json:"status"`
}

type StatusEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"timestamp"`
	Note   string    `json:"note,omitempty"`
}

type Order struct {
	ID        string         `json:"id"`
	Number    string         `json:"order_number"`
	OwnerID   string         `json:"owner_id"`
	Items     []Item         `json:"items"`
	Pricing   pricing.Totals `json:"pricing"`
	Shipping  Shipping       `json:"shipping"`
	Payment   Payment        `json:"payment"`
	Status    Status         `json:"status"`
	History   []StatusEntry  `json:"status_history"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Units returns the total quantity across all items.
func (o Order) Units() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

type Summary struct {
	Total       int             `json:"total"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      map[Status]int  `json:"status"`
}

// Summarize counts orders per status and sums their totals.
func Summarize(list []Order) Summary {
	s := Summary{TotalAmount: decimal.Zero, Status: make(map[Status]int, len(AllStatuses))}
	for _, st := range AllStatuses {
		s.Status[st] = 0
	}
	for _, o := range list {
		s.Total++
		s.TotalAmount = s.TotalAmount.Add(o.Pricing.Total)
		s.Status[o.Status]++
	}
	return s
}
