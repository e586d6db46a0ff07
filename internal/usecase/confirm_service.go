package usecase

import (
	"context"
	"math"
	"strings"
	"time"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/processor"
)

type EventRepo interface {
	// MarkEventProcessed reports whether this is the first delivery of the
	// event id.
	MarkEventProcessed(eventID string) (bool, error)
}

// Outcome is the typed terminal result of a confirmation attempt. TimedOut is
// distinct from Failed: the payment may still complete, so the user is told
// to check their confirmation email rather than that payment failed.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Backoff describes the polling schedule: attempt n waits
// Base * Multiplier^(n-1), for at most MaxAttempts attempts.
type Backoff struct {
	Base        time.Duration
	Multiplier  float64
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Multiplier: 1.5, MaxAttempts: 10}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1)))
}

// ConfirmService reconciles client-driven confirmation calls with the
// processor's view of the world, and applies webhook events. Both paths
// compute the same terminal state from the processor, so racing them is
// harmless: "already confirmed" is success.
type ConfirmService struct {
	Provider processor.Provider
	Orders   OrderRepo
	Events   EventRepo
	Audit    audit.Logger
	Backoff  Backoff
	// sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (s *ConfirmService) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *ConfirmService) backoff() Backoff {
	if s.Backoff.MaxAttempts == 0 {
		return DefaultBackoff()
	}
	return s.Backoff
}

type ConfirmPaymentResult struct {
	Outcome Outcome
	Order   domain.Order
	Intent  domain.PaymentIntent
}

// ConfirmPayment finalizes a one-time payment. Idempotent on the processor
// intent id: repeated calls return the same result and never duplicate order
// side effects.
func (s *ConfirmService) ConfirmPayment(ctx context.Context, intentID string) (ConfirmPaymentResult, error) {
	if strings.TrimSpace(intentID) == "" {
		return ConfirmPaymentResult{}, ValidationError{"paymentIntentId": "paymentIntentId required"}
	}
	order, ok := s.Orders.GetOrderByPaymentRef(intentID)
	if !ok {
		// Free orders carry a synthetic ref and are already confirmed.
		return ConfirmPaymentResult{}, ErrNotFound("order")
	}
	if order.Status == domain.OrderConfirmed {
		intent, _ := s.Provider.RetrieveIntent(ctx, intentID)
		return ConfirmPaymentResult{Outcome: OutcomeSucceeded, Order: *order, Intent: intent}, nil
	}

	bo := s.backoff()
	var intent domain.PaymentIntent
	var err error
	for attempt := 1; attempt <= bo.MaxAttempts; attempt++ {
		intent, err = s.Provider.RetrieveIntent(ctx, intentID)
		if err != nil {
			return ConfirmPaymentResult{}, err
		}
		s.Audit.Event(audit.EventPaymentPollObserved, "intentId", intentID, "status", string(intent.Status), "attempt", attempt)
		switch intent.Status {
		case domain.IntentSucceeded:
			s.markConfirmed(order, intentID)
			return ConfirmPaymentResult{Outcome: OutcomeSucceeded, Order: *order, Intent: intent}, nil
		case domain.IntentRequiresPaymentMethod, domain.IntentCanceled:
			s.markFailed(order, intentID, intent)
			msg := intent.LastError
			if msg == "" {
				msg = "Your payment could not be completed. Please try a different payment method."
			}
			return ConfirmPaymentResult{Outcome: OutcomeFailed, Order: *order, Intent: intent},
				&DeclinedError{Message: msg, Status: string(intent.Status)}
		}
		if attempt < bo.MaxAttempts {
			if err := s.sleep(ctx, bo.Delay(attempt)); err != nil {
				return ConfirmPaymentResult{}, err
			}
		}
	}
	s.Audit.Warn(audit.EventReconcileTimedOut, "intentId", intentID, "status", string(intent.Status))
	return ConfirmPaymentResult{Outcome: OutcomeTimedOut, Order: *order, Intent: intent}, nil
}

type ConfirmSubscriptionResult struct {
	Outcome      Outcome
	Order        domain.Order
	Subscription domain.Subscription
}

// ConfirmSubscription polls until the subscription leaves incomplete. The
// loop is cancellable through ctx and bounded by the backoff attempt count.
func (s *ConfirmService) ConfirmSubscription(ctx context.Context, subscriptionID string) (ConfirmSubscriptionResult, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return ConfirmSubscriptionResult{}, ValidationError{"subscriptionId": "subscriptionId required"}
	}
	sp, ok := s.Provider.(processor.SubscriptionProvider)
	if !ok {
		return ConfirmSubscriptionResult{}, &processor.Error{
			Kind:    processor.KindConfig,
			Message: "configured payment provider does not support subscriptions",
		}
	}
	order, haveOrder := s.Orders.GetOrderByPaymentRef(subscriptionID)
	if haveOrder && order.Status == domain.OrderConfirmed {
		sub, _ := sp.RetrieveSubscription(ctx, subscriptionID)
		return ConfirmSubscriptionResult{Outcome: OutcomeSucceeded, Order: *order, Subscription: sub}, nil
	}

	bo := s.backoff()
	var sub domain.Subscription
	var err error
	for attempt := 1; attempt <= bo.MaxAttempts; attempt++ {
		sub, err = sp.RetrieveSubscription(ctx, subscriptionID)
		if err != nil {
			return ConfirmSubscriptionResult{}, err
		}
		switch sub.Status {
		case domain.SubActive, domain.SubTrialing:
			s.Audit.Event(audit.EventSubActivated, "subscriptionId", sub.ID, "status", string(sub.Status))
			if haveOrder {
				s.markConfirmed(order, subscriptionID)
				return ConfirmSubscriptionResult{Outcome: OutcomeSucceeded, Order: *order, Subscription: sub}, nil
			}
			return ConfirmSubscriptionResult{Outcome: OutcomeSucceeded, Subscription: sub}, nil
		case domain.SubIncompleteExpired, domain.SubCanceled:
			if haveOrder {
				order.Status = domain.OrderFailed
				order.UpdatedAt = time.Now().UTC()
				_ = s.Orders.PutOrder(order)
			}
			s.Audit.Error(audit.EventIntentFailed, "subscriptionId", sub.ID, "status", string(sub.Status))
			return ConfirmSubscriptionResult{Outcome: OutcomeFailed, Subscription: sub},
				&DeclinedError{Message: "The subscription payment could not be completed.", Status: string(sub.Status)}
		}
		if attempt < bo.MaxAttempts {
			if err := s.sleep(ctx, bo.Delay(attempt)); err != nil {
				return ConfirmSubscriptionResult{}, err
			}
		}
	}
	s.Audit.Warn(audit.EventReconcileTimedOut, "subscriptionId", subscriptionID, "status", string(sub.Status))
	return ConfirmSubscriptionResult{Outcome: OutcomeTimedOut, Subscription: sub}, nil
}

// HandleWebhookEvent applies a signature-verified processor event. Duplicate
// event ids are logged and otherwise ignored; event types without a clear
// idempotent update are log-only.
func (s *ConfirmService) HandleWebhookEvent(ev domain.WebhookEvent) error {
	first, err := s.Events.MarkEventProcessed(ev.ID)
	if err != nil {
		return err
	}
	if !first {
		s.Audit.Event(audit.EventWebhookDuplicate, "eventId", ev.ID, "type", ev.Type)
		return nil
	}
	s.Audit.Event(audit.EventWebhookReceived, "eventId", ev.ID, "type", ev.Type, "provider", ev.Provider, "objectId", ev.ObjectID)

	switch ev.Type {
	case "payment_intent.succeeded", "CHECKOUT.ORDER.APPROVED", "PAYMENT.CAPTURE.COMPLETED":
		if order, ok := s.Orders.GetOrderByPaymentRef(ev.ObjectID); ok {
			s.markConfirmed(order, ev.ObjectID)
		}
	case "payment_intent.payment_failed", "PAYMENT.CAPTURE.DENIED":
		if order, ok := s.Orders.GetOrderByPaymentRef(ev.ObjectID); ok && order.Status != domain.OrderConfirmed {
			order.Status = domain.OrderFailed
			order.UpdatedAt = time.Now().UTC()
			_ = s.Orders.PutOrder(order)
			s.Audit.Error(audit.EventIntentFailed, "intentId", ev.ObjectID, "eventId", ev.ID)
		}
	case "invoice.paid", "invoice.payment_succeeded":
		s.Audit.Event(audit.EventInvoicePaid, "invoiceId", ev.ObjectID, "eventId", ev.ID)
	case "invoice.payment_failed":
		s.Audit.Warn(audit.EventInvoiceFailed, "invoiceId", ev.ObjectID, "eventId", ev.ID)
	case "customer.subscription.updated":
		if ev.Status == string(domain.SubActive) || ev.Status == string(domain.SubTrialing) {
			if order, ok := s.Orders.GetOrderByPaymentRef(ev.ObjectID); ok {
				s.markConfirmed(order, ev.ObjectID)
			}
			s.Audit.Event(audit.EventSubActivated, "subscriptionId", ev.ObjectID, "eventId", ev.ID)
		}
	case "customer.subscription.deleted", "BILLING.SUBSCRIPTION.CANCELLED":
		if order, ok := s.Orders.GetOrderByPaymentRef(ev.ObjectID); ok && order.Status != domain.OrderCanceled {
			order.Status = domain.OrderCanceled
			order.UpdatedAt = time.Now().UTC()
			_ = s.Orders.PutOrder(order)
		}
		s.Audit.Event(audit.EventSubCanceled, "subscriptionId", ev.ObjectID, "eventId", ev.ID)
	}
	return nil
}

// markConfirmed transitions an order to confirmed exactly once; the order-paid
// side effects key off the processor-assigned ref, never a local counter.
func (s *ConfirmService) markConfirmed(order *domain.Order, ref string) {
	if order.Status == domain.OrderConfirmed {
		return
	}
	order.Status = domain.OrderConfirmed
	order.UpdatedAt = time.Now().UTC()
	_ = s.Orders.PutOrder(order)
	s.Audit.Event(audit.EventIntentSucceeded, "paymentRef", ref, "orderId", order.OrderID)
	s.Audit.Event(audit.EventOrderConfirmed, "orderId", order.OrderID, "paymentRef", ref, "amountCents", order.Summary.TotalCents)
}

func (s *ConfirmService) markFailed(order *domain.Order, ref string, intent domain.PaymentIntent) {
	if order.Status == domain.OrderFailed {
		return
	}
	order.Status = domain.OrderFailed
	order.UpdatedAt = time.Now().UTC()
	_ = s.Orders.PutOrder(order)
	s.Audit.Error(audit.EventIntentFailed, "paymentRef", ref, "orderId", order.OrderID, "status", string(intent.Status))
}
