package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/checkout"
	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/processor"
	"storefront-backend/internal/pricing"
)

type OrderRepo interface {
	PutOrder(*domain.Order) error
	GetOrder(id string) (*domain.Order, bool)
	GetOrderByPaymentRef(ref string) (*domain.Order, bool)
	ListOrders(page, pageSize int) ([]domain.Order, int)
}

type promoResolver interface {
	ResolvePromoCode(ctx context.Context, code string) (domain.Promo, error)
}

// PaymentService orchestrates intent and subscription creation against the
// configured processor.
type PaymentService struct {
	Provider processor.Provider
	Orders   OrderRepo
	Quoter   *pricing.Quoter
	Audit    audit.Logger
	Currency string
}

type CreatePaymentRequest struct {
	Items               []pricing.LineItem
	Customer            domain.Customer
	ShippingAddress     domain.Address
	BillingAddress      *domain.Address
	Token               string
	PromotionCode       string
	SpecialInstructions string
}

type CreatePaymentResult struct {
	Order     domain.Order
	Intent    domain.PaymentIntent
	FreeOrder bool
}

// CreatePayment validates the checkout data, recomputes pricing server-side
// and opens a payment intent. A zero total (100% discount) skips the
// processor entirely but still validates and still emits the same audit
// trail.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResult, error) {
	if errs := validateContact(req.Customer, req.ShippingAddress); len(errs) > 0 {
		return CreatePaymentResult{}, errs
	}
	discount, promo := s.resolveDiscount(ctx, req.PromotionCode, req.Items)
	items, summary, err := s.Quoter.Quote(req.Items, discount)
	if err != nil {
		return CreatePaymentResult{}, ValidationError{"items": err.Error()}
	}
	order := pricing.AssembleOrder(req.Customer, req.ShippingAddress, req.BillingAddress,
		items, summary, req.SpecialInstructions, promo.Code)
	order.Provider = s.Provider.Name()

	if summary.TotalCents == 0 {
		order.Status = domain.OrderConfirmed
		order.PaymentRef = "free_" + order.OrderID
		order.UpdatedAt = time.Now().UTC()
		if err := s.Orders.PutOrder(&order); err != nil {
			return CreatePaymentResult{}, err
		}
		s.Audit.Event(audit.EventFreeOrderConfirmed, "orderId", order.OrderID, "coupon", promo.Code)
		s.Audit.Event(audit.EventIntentCreated, "orderId", order.OrderID, "amountCents", int64(0), "free", true)
		return CreatePaymentResult{Order: order, FreeOrder: true}, nil
	}

	intent, err := s.Provider.CreateIntent(ctx, processor.IntentRequest{
		AmountCents:    summary.TotalCents,
		Currency:       s.Currency,
		Email:          req.Customer.Email,
		Description:    "Order " + order.OrderID,
		Token:          req.Token,
		Metadata:       map[string]string{"order_id": order.OrderID},
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		s.Audit.Error(audit.EventIntentFailed, "orderId", order.OrderID, "err", err.Error())
		return CreatePaymentResult{}, err
	}
	order.Status = domain.OrderPending
	order.PaymentRef = intent.ID
	order.UpdatedAt = time.Now().UTC()
	if err := s.Orders.PutOrder(&order); err != nil {
		return CreatePaymentResult{}, err
	}
	s.Audit.Event(audit.EventIntentCreated,
		"orderId", order.OrderID, "intentId", intent.ID,
		"amountCents", summary.TotalCents, "provider", s.Provider.Name())
	return CreatePaymentResult{Order: order, Intent: intent}, nil
}

// CancelPayment voids the intent for an abandoned checkout and releases the
// order. A confirmed order cannot be canceled through this path; refunds are a
// separate, manual process.
func (s *PaymentService) CancelPayment(ctx context.Context, intentID string) error {
	if strings.TrimSpace(intentID) == "" {
		return ValidationError{"paymentIntentId": "paymentIntentId required"}
	}
	order, ok := s.Orders.GetOrderByPaymentRef(intentID)
	if !ok {
		return ErrNotFound("order")
	}
	if order.Status == domain.OrderConfirmed {
		return ErrConflict("order already confirmed")
	}
	if err := s.Provider.CancelIntent(ctx, intentID); err != nil {
		return err
	}
	order.Status = domain.OrderCanceled
	order.UpdatedAt = time.Now().UTC()
	if err := s.Orders.PutOrder(order); err != nil {
		return err
	}
	s.Audit.Event(audit.EventIntentCanceled, "intentId", intentID, "orderId", order.OrderID)
	return nil
}

type CreateSubscriptionRequest struct {
	PriceID         string
	Customer        domain.Customer
	ShippingAddress domain.Address
	PromotionCode   string
}

type CreateSubscriptionResult struct {
	Subscription domain.Subscription
	Order        domain.Order
	// ClientSecret is empty when the first invoice was settled synchronously.
	ClientSecret string
}

// CreateSubscription runs the recurring-billing flow: find-or-create the
// processor customer, resolve the promo best-effort, create the subscription
// in a payment-required state and extract its first invoice. A zero
// amount-due invoice is paid synchronously. If the invoice cannot be
// retrieved after the subscription exists, the error is fatal: the
// subscription is dangling processor-side and must not look like success.
func (s *PaymentService) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (CreateSubscriptionResult, error) {
	sp, ok := s.Provider.(processor.SubscriptionProvider)
	if !ok {
		return CreateSubscriptionResult{}, &processor.Error{
			Kind:    processor.KindConfig,
			Message: "configured payment provider does not support subscriptions",
		}
	}
	if errs := validateContact(req.Customer, req.ShippingAddress); len(errs) > 0 {
		return CreateSubscriptionResult{}, errs
	}
	if req.PriceID == "" {
		return CreateSubscriptionResult{}, ValidationError{"priceId": "priceId required"}
	}

	customerID, err := sp.EnsureCustomer(ctx, req.Customer)
	if err != nil {
		return CreateSubscriptionResult{}, err
	}

	promoID := ""
	promoCode := ""
	if req.PromotionCode != "" {
		promo, err := sp.ResolvePromoCode(ctx, req.PromotionCode)
		if err != nil {
			// Best effort only. A lookup failure degrades to "no discount".
			s.Audit.Warn(audit.EventPromoLookupFailed, "code", req.PromotionCode, "err", err.Error())
		} else {
			promoID = promo.ID
			promoCode = promo.Code
		}
	}

	sub, err := sp.CreateSubscription(ctx, processor.SubscriptionRequest{
		CustomerID:     customerID,
		PriceID:        req.PriceID,
		PromoID:        promoID,
		Metadata:       map[string]string{"price_id": req.PriceID},
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return CreateSubscriptionResult{}, err
	}
	s.Audit.Event(audit.EventSubCreated, "subscriptionId", sub.ID, "customerId", customerID, "status", string(sub.Status))

	if sub.LatestInvoiceID == "" {
		return CreateSubscriptionResult{}, ErrConflict("subscription created but first invoice missing")
	}
	invoice, err := sp.RetrieveInvoice(ctx, sub.LatestInvoiceID)
	if err != nil {
		// The subscription now exists processor-side in a dangling state.
		s.Audit.Error(audit.EventInvoiceFailed, "subscriptionId", sub.ID, "invoiceId", sub.LatestInvoiceID, "err", err.Error())
		return CreateSubscriptionResult{}, ErrConflict("subscription created but first invoice unavailable")
	}

	order := pricing.AssembleOrder(req.Customer, req.ShippingAddress, nil,
		[]domain.OrderItem{{ID: req.PriceID, Name: "Subscription " + req.PriceID, UnitPriceCents: invoice.AmountDue, Quantity: 1}},
		domain.OrderSummary{SubtotalCents: invoice.AmountDue, TotalCents: invoice.AmountDue},
		"", promoCode)
	order.Provider = s.Provider.Name()
	order.PaymentRef = sub.ID
	order.Status = domain.OrderPending

	result := CreateSubscriptionResult{Subscription: sub, Order: order}
	if invoice.AmountDue == 0 {
		if _, err := sp.PayInvoice(ctx, invoice.ID); err == nil {
			s.Audit.Event(audit.EventInvoicePaid, "subscriptionId", sub.ID, "invoiceId", invoice.ID, "amountCents", int64(0))
			result.Subscription.Status = domain.SubActive
			order.Status = domain.OrderConfirmed
		}
	} else {
		result.ClientSecret = invoice.ClientSecret
		if result.ClientSecret == "" {
			result.ClientSecret = sub.ClientSecret
		}
	}
	order.UpdatedAt = time.Now().UTC()
	if err := s.Orders.PutOrder(&order); err != nil {
		return CreateSubscriptionResult{}, err
	}
	result.Order = order
	return result, nil
}

// VerifyPromo backs the promo-validation endpoint. Unlike the checkout path
// this is not best-effort: an unknown code is reported as invalid.
func (s *PaymentService) VerifyPromo(ctx context.Context, code string) (domain.Promo, error) {
	pr, ok := s.Provider.(promoResolver)
	if !ok {
		return domain.Promo{}, &processor.Error{
			Kind:    processor.KindConfig,
			Message: "configured payment provider does not support promotion codes",
		}
	}
	if code == "" {
		return domain.Promo{}, ValidationError{"code": "code required"}
	}
	return pr.ResolvePromoCode(ctx, code)
}

// resolveDiscount turns a promo code into a discount in cents, best-effort.
func (s *PaymentService) resolveDiscount(ctx context.Context, code string, items []pricing.LineItem) (int64, domain.Promo) {
	if code == "" {
		return 0, domain.Promo{}
	}
	pr, ok := s.Provider.(promoResolver)
	if !ok {
		s.Audit.Warn(audit.EventPromoLookupFailed, "code", code, "err", "provider lacks promo support")
		return 0, domain.Promo{}
	}
	promo, err := pr.ResolvePromoCode(ctx, code)
	if err != nil {
		s.Audit.Warn(audit.EventPromoLookupFailed, "code", code, "err", err.Error())
		return 0, domain.Promo{}
	}
	// Percent-off applies to the full pre-discount amount, the same basis the
	// quote clamps against, so a 100% code zeroes the order.
	_, sum, err := s.Quoter.Quote(items, 0)
	if err != nil {
		return 0, domain.Promo{}
	}
	return promo.DiscountCents(sum.TotalCents), promo
}

// validateContact runs the checkout state machine over the supplied data so
// the server enforces the same per-step rules as the client.
func validateContact(c domain.Customer, ship domain.Address) ValidationError {
	sess := checkout.NewSession("server")
	sess.SetCustomer(c)
	if !sess.Advance() {
		return ValidationError(sess.Errors)
	}
	sess.SetShippingAddress(ship)
	if !sess.Advance() {
		return ValidationError(sess.Errors)
	}
	return nil
}
