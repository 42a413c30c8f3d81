// Package pricing turns line items into order totals. It has no I/O; carts
// and orders call the same Calculator so displayed and charged totals agree.
package pricing

import "github.com/shopspring/decimal"

type Policy struct {
	TaxRate          decimal.Decimal
	FreeShippingOver decimal.Decimal // subtotal strictly above this ships free
	FlatShipping     decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		TaxRate:          decimal.RequireFromString("0.10"),
		FreeShippingOver: decimal.NewFromInt(100),
		FlatShipping:     decimal.NewFromInt(10),
	}
}

type Line struct {
	Price    decimal.Decimal
	Quantity int
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

type Calculator struct {
	policy Policy
}

func NewCalculator(p Policy) Calculator {
	return Calculator{policy: p}
}

func (c Calculator) Policy() Policy { return c.policy }

// Compute returns the totals for lines. Lines with a non-positive quantity
// contribute nothing.
func (c Calculator) Compute(lines []Line) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(2)

	if subtotal.IsZero() {
		return Totals{
			Subtotal: decimal.Zero,
			Tax:      decimal.Zero,
			Shipping: decimal.Zero,
			Discount: decimal.Zero,
			Total:    decimal.Zero,
		}
	}

	tax := subtotal.Mul(c.policy.TaxRate).Round(2)
	shipping := c.policy.FlatShipping
	if subtotal.GreaterThan(c.policy.FreeShippingOver) {
		shipping = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: decimal.Zero,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}
