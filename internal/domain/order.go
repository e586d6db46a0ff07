package domain

import "time"

type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
	OrderCanceled  OrderStatus = "canceled"
)

type Customer struct {
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	MarketingConsent bool   `json:"marketingConsent"`
}

type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

type OrderItem struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int    `json:"quantity"`
	Image          string `json:"image,omitempty"`
}

// OrderSummary is the pricing breakdown in cents. Invariant:
// TotalCents == SubtotalCents + TaxCents + ShippingCents - DiscountCents,
// never negative.
type OrderSummary struct {
	SubtotalCents int64 `json:"subtotalCents"`
	TaxCents      int64 `json:"taxCents"`
	ShippingCents int64 `json:"shippingCents"`
	DiscountCents int64 `json:"discountCents"`
	TotalCents    int64 `json:"totalCents"`
}

// Order is the canonical record of a purchase. Immutable once created; later
// payment state lives processor-side and is reconciled in by PaymentRef.
type Order struct {
	OrderID             string       `json:"orderId"`
	Items               []OrderItem  `json:"items"`
	Customer            Customer     `json:"customer"`
	ShippingAddress     Address      `json:"shippingAddress"`
	BillingAddress      *Address     `json:"billingAddress,omitempty"`
	Summary             OrderSummary `json:"summary"`
	SpecialInstructions string       `json:"specialInstructions,omitempty"`
	CouponCode          string       `json:"couponCode,omitempty"`
	Status              OrderStatus  `json:"status"`
	// PaymentRef is the processor-assigned intent or subscription id. It is
	// the idempotency key for every confirmation side effect.
	PaymentRef string    `json:"paymentRef,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
