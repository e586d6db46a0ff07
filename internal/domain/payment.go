package domain

import (
	"math"
	"time"
)

// IntentStatus is the payment intent lifecycle as observed from the
// processor. requires_payment_method is both the initial state and the
// terminal failure state after a declined confirmation attempt.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

func (s IntentStatus) Terminal() bool {
	return s == IntentSucceeded || s == IntentCanceled
}

type SubscriptionStatus string

const (
	SubIncomplete        SubscriptionStatus = "incomplete"
	SubIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubActive            SubscriptionStatus = "active"
	SubTrialing          SubscriptionStatus = "trialing"
	SubPastDue           SubscriptionStatus = "past_due"
	SubCanceled          SubscriptionStatus = "canceled"
)

// PaymentIntent is the normalized view of a processor intent. Card details
// never go beyond brand and last4.
type PaymentIntent struct {
	ID           string       `json:"id"`
	Status       IntentStatus `json:"status"`
	AmountCents  int64        `json:"amountCents"`
	Currency     string       `json:"currency"`
	ClientSecret string       `json:"clientSecret,omitempty"`
	// ApproveURL is set by redirect-based providers instead of ClientSecret.
	ApproveURL  string `json:"approveUrl,omitempty"`
	MethodBrand string `json:"methodBrand,omitempty"`
	MethodLast4 string `json:"methodLast4,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type Subscription struct {
	ID               string             `json:"id"`
	CustomerID       string             `json:"customerId"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"currentPeriodEnd"`
	LatestInvoiceID  string             `json:"latestInvoiceId,omitempty"`
	IntentID         string             `json:"intentId,omitempty"`
	ClientSecret     string             `json:"clientSecret,omitempty"`
}

type Invoice struct {
	ID            string `json:"id"`
	AmountDue     int64  `json:"amountDueCents"`
	Paid          bool   `json:"paid"`
	IntentID      string `json:"intentId,omitempty"`
	ClientSecret  string `json:"clientSecret,omitempty"`
	HostedInvoice string `json:"hostedInvoiceUrl,omitempty"`
}

// Promo is a resolved promotion code.
type Promo struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	PercentOff  float64 `json:"percentOff,omitempty"`
	AmountOff   int64   `json:"amountOffCents,omitempty"`
	Description string  `json:"description"`
}

// DiscountCents applies the promo to a pre-discount amount in cents. Callers
// pass the full chargeable amount (subtotal plus tax and shipping) so a 100%
// code zeroes the order outright.
func (p Promo) DiscountCents(amount int64) int64 {
	if p.AmountOff > 0 {
		return p.AmountOff
	}
	return int64(math.Round(float64(amount) * p.PercentOff / 100))
}

// WebhookEvent is a normalized processor event after signature verification.
type WebhookEvent struct {
	ID       string
	Type     string
	Provider string
	// ObjectID is the intent, invoice or subscription the event refers to.
	ObjectID    string
	Status      string
	AmountCents int64
	Raw         []byte
}
