package pricing

import (
	"fmt"
	"math"

	"storefront-backend/internal/domain"
)

// Catalog is the trusted price source. Client-supplied prices and totals are
// display-only; every amount sent to a processor is recomputed from here.
type Catalog interface {
	PriceFor(itemID string) (cents int64, name string, ok bool)
}

type Product struct {
	ID         string
	Name       string
	PriceCents int64
}

type StaticCatalog struct {
	products map[string]Product
}

func NewStaticCatalog(products []Product) *StaticCatalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &StaticCatalog{products: m}
}

func (c *StaticCatalog) PriceFor(itemID string) (int64, string, bool) {
	p, ok := c.products[itemID]
	if !ok {
		return 0, "", false
	}
	return p.PriceCents, p.Name, true
}

// DefaultCatalog mirrors the storefront's product pages.
func DefaultCatalog() *StaticCatalog {
	return NewStaticCatalog([]Product{
		{ID: "starter-kit", Name: "Starter Kit", PriceCents: 3800},
		{ID: "refill-pack", Name: "Refill Pack", PriceCents: 1900},
		{ID: "gift-card-25", Name: "Gift Card $25", PriceCents: 2500},
		{ID: "bundle-family", Name: "Family Bundle", PriceCents: 8900},
	})
}

type Quoter struct {
	Catalog Catalog
	// TaxRate is a flat rate applied to the subtotal (the storefront charges
	// 8% regardless of destination).
	TaxRate float64
	// ShippingCents is the flat shipping fee, waived at or above
	// FreeShippingCents.
	ShippingCents     int64
	FreeShippingCents int64
}

func NewQuoter(c Catalog) *Quoter {
	return &Quoter{
		Catalog:           c,
		TaxRate:           0.08,
		ShippingCents:     1000,
		FreeShippingCents: 7500,
	}
}

type LineItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// Quote recomputes the order summary from catalog prices. discount is the
// already-resolved discount in cents (0 when no promo applies); it is clamped
// so the total never goes negative.
func (q *Quoter) Quote(items []LineItem, discountCents int64) ([]domain.OrderItem, domain.OrderSummary, error) {
	if len(items) == 0 {
		return nil, domain.OrderSummary{}, fmt.Errorf("no items")
	}
	out := make([]domain.OrderItem, 0, len(items))
	var subtotal int64
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, domain.OrderSummary{}, fmt.Errorf("item %s: quantity must be positive", it.ID)
		}
		price, name, ok := q.Catalog.PriceFor(it.ID)
		if !ok {
			return nil, domain.OrderSummary{}, fmt.Errorf("item %s: unknown product", it.ID)
		}
		out = append(out, domain.OrderItem{
			ID:             it.ID,
			Name:           name,
			UnitPriceCents: price,
			Quantity:       it.Quantity,
		})
		subtotal += price * int64(it.Quantity)
	}
	tax := int64(math.Round(float64(subtotal) * q.TaxRate))
	shipping := q.ShippingCents
	if subtotal >= q.FreeShippingCents {
		shipping = 0
	}
	discount := discountCents
	if max := subtotal + tax + shipping; discount > max {
		discount = max
	}
	if discount < 0 {
		discount = 0
	}
	sum := domain.OrderSummary{
		SubtotalCents: subtotal,
		TaxCents:      tax,
		ShippingCents: shipping,
		DiscountCents: discount,
		TotalCents:    subtotal + tax + shipping - discount,
	}
	return out, sum, nil
}
