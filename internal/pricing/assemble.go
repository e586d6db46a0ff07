package pricing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"storefront-backend/internal/domain"
)

// AssembleOrder builds the canonical order record from validated checkout
// data. Pure apart from the clock and the order-number suffix. The order
// number is collision-resistant for display purposes only; payment
// idempotency keys come from the processor-assigned ids instead.
func AssembleOrder(customer domain.Customer, shipping domain.Address, billing *domain.Address,
	items []domain.OrderItem, summary domain.OrderSummary, instructions, couponCode string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		OrderID:             NewOrderNumber(now),
		Items:               items,
		Customer:            customer,
		ShippingAddress:     shipping,
		BillingAddress:      billing,
		Summary:             summary,
		SpecialInstructions: instructions,
		CouponCode:          couponCode,
		Status:              domain.OrderCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NewOrderNumber returns "ORD-<yyyymmddHHMMSS>-<4 hex>".
func NewOrderNumber(now time.Time) string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102150405"), hex.EncodeToString(b))
}
