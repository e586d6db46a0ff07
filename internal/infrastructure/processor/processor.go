package processor

import (
	"context"
	"fmt"
	"net/http"

	"storefront-backend/internal/domain"
)

// Provider abstracts one payment processor behind the operations the
// checkout flow needs. Implementations are selected by configuration, never
// by flags scattered through handlers.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string) (domain.PaymentIntent, error)
	CancelIntent(ctx context.Context, id string) error
	// VerifyWebhook checks the cryptographic signature over the raw body and
	// returns the normalized event. Any verification failure is a
	// SignatureError; the payload must not be acted on.
	VerifyWebhook(header http.Header, body []byte) (domain.WebhookEvent, error)
}

// SubscriptionProvider is the optional recurring-billing capability.
type SubscriptionProvider interface {
	Provider
	EnsureCustomer(ctx context.Context, c domain.Customer) (string, error)
	ResolvePromoCode(ctx context.Context, code string) (domain.Promo, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (domain.Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (domain.Subscription, error)
	RetrieveInvoice(ctx context.Context, id string) (domain.Invoice, error)
	PayInvoice(ctx context.Context, id string) (domain.Invoice, error)
}

type IntentRequest struct {
	AmountCents int64
	Currency    string
	Email       string
	Description string
	// Token is the opaque payment-method token from the hosted-fields
	// widget. Empty for redirect-based confirmation flows.
	Token          string
	Metadata       map[string]string
	IdempotencyKey string
}

type SubscriptionRequest struct {
	CustomerID     string
	PriceID        string
	PromoID        string
	Metadata       map[string]string
	IdempotencyKey string
}

type ErrorKind string

const (
	KindDeclined  ErrorKind = "declined"
	KindTransient ErrorKind = "transient"
	KindInvalid   ErrorKind = "invalid"
	KindConfig    ErrorKind = "config"
	KindSignature ErrorKind = "signature"
)

// Error is a processor failure mapped into the small taxonomy the handlers
// understand. Message is synthesized from the code table; the raw processor
// error text stays server-side.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("processor: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("processor: %s [%s]: %s", e.Kind, e.Code, e.Message)
}

func Declined(code string) *Error {
	return &Error{Kind: KindDeclined, Code: code, Message: declineMessage(code)}
}

func Transient(msg string) *Error {
	return &Error{Kind: KindTransient, Message: msg}
}

func Invalid(msg string) *Error {
	return &Error{Kind: KindInvalid, Message: msg}
}

func BadSignature(msg string) *Error {
	return &Error{Kind: KindSignature, Message: msg}
}

// declineMessage is the fixed code-to-human-message table. Unknown codes fall
// back to a generic decline so nothing vendor-internal leaks to the browser.
func declineMessage(code string) string {
	switch code {
	case "card_declined", "generic_decline", "do_not_honor":
		return "Your card was declined. Please try a different payment method."
	case "insufficient_funds":
		return "Your card has insufficient funds."
	case "expired_card":
		return "Your card has expired. Please use a different card."
	case "incorrect_cvc", "invalid_cvc":
		return "The card's security code is incorrect."
	case "incorrect_number", "invalid_number":
		return "The card number is incorrect."
	case "processing_error":
		return "An error occurred while processing your card. Please try again."
	case "instrument_declined":
		return "The payment was declined by your bank. Please try another method."
	default:
		return "Your payment could not be completed. Please try a different payment method."
	}
}
