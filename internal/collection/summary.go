package collection

import "github.com/roach88/cartsync/internal/item"

// Pricing holds the checkout rules used by Summary.
type Pricing struct {
	// FreeShippingThreshold is the subtotal at or above which shipping is free.
	FreeShippingThreshold float64
	ShippingFee           float64
	// TaxRate is applied to the subtotal.
	TaxRate float64
}

// DefaultPricing matches the storefront's checkout page.
var DefaultPricing = Pricing{
	FreeShippingThreshold: 50,
	ShippingFee:           9.99,
	TaxRate:               0.08,
}

// Summary is a priced view of the cart.
type Summary struct {
	Lines    int     `json:"lines"`
	Units    int     `json:"units"`
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// Count is the number of units in the cart, or the number of items in any
// other collection.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind != item.Cart {
		return len(s.st.items)
	}
	n := 0
	for _, it := range s.st.items {
		n += it.Quantity
	}
	return n
}

// Total is the sum of price times quantity, rounded to cents.
func (s *Store) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, it := range s.st.items {
		total += it.LineTotal()
	}
	return item.RoundCents(total)
}

// Summary prices the cart. With selectedOnly set, only selected lines
// count.
func (s *Store) Summary(selectedOnly bool) Summary {
	return Price(s.Items(), s.pricing, selectedOnly)
}

// Price computes a Summary for items under p.
func Price(items []item.Item, p Pricing, selectedOnly bool) Summary {
	var sum Summary
	var subtotal float64
	for _, it := range items {
		if selectedOnly && !it.Selected {
			continue
		}
		sum.Lines++
		q := it.Quantity
		if q <= 0 {
			q = 1
		}
		sum.Units += q
		subtotal += it.LineTotal()
	}
	sum.Subtotal = item.RoundCents(subtotal)
	if sum.Lines > 0 && sum.Subtotal < p.FreeShippingThreshold {
		sum.Shipping = p.ShippingFee
	}
	sum.Tax = item.RoundCents(sum.Subtotal * p.TaxRate)
	sum.Total = item.RoundCents(sum.Subtotal + sum.Shipping + sum.Tax)
	return sum
}
