package processor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-backend/internal/domain"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClient talks to the Stripe REST API (form-encoded v1 endpoints).
// Implements Provider and SubscriptionProvider.
type StripeClient struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	HTTP          *http.Client
	// SignatureTolerance bounds webhook timestamp skew. Zero means 5 minutes.
	SignatureTolerance time.Duration
}

func (c *StripeClient) Name() string { return "stripe" }

type stripeError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type stripeErrorResp struct {
	Error stripeError `json:"error"`
}

type stripeIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ClientSecret     string `json:"client_secret"`
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
	LatestCharge *struct {
		PaymentMethodDetails struct {
			Card struct {
				Brand string `json:"brand"`
				Last4 string `json:"last4"`
			} `json:"card"`
		} `json:"payment_method_details"`
	} `json:"latest_charge"`
}

func (c *StripeClient) CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if req.Email != "" {
		form.Set("receipt_email", req.Email)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	if req.Token != "" {
		form.Set("payment_method", req.Token)
		form.Set("confirm", "true")
	} else {
		form.Set("automatic_payment_methods[enabled]", "true")
	}
	form.Add("expand[]", "latest_charge")
	var out stripeIntent
	if err := c.call(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &out); err != nil {
		return domain.PaymentIntent{}, err
	}
	return c.toIntent(out), nil
}

func (c *StripeClient) RetrieveIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	form := url.Values{}
	form.Add("expand[]", "latest_charge")
	var out stripeIntent
	if err := c.call(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), form, "", &out); err != nil {
		return domain.PaymentIntent{}, err
	}
	return c.toIntent(out), nil
}

func (c *StripeClient) CancelIntent(ctx context.Context, id string) error {
	var out stripeIntent
	return c.call(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(id)+"/cancel", url.Values{}, "", &out)
}

func (c *StripeClient) toIntent(in stripeIntent) domain.PaymentIntent {
	pi := domain.PaymentIntent{
		ID:           in.ID,
		Status:       normalizeStripeStatus(in.Status),
		AmountCents:  in.Amount,
		Currency:     strings.ToUpper(in.Currency),
		ClientSecret: in.ClientSecret,
	}
	if in.LastPaymentError != nil {
		code := in.LastPaymentError.DeclineCode
		if code == "" {
			code = in.LastPaymentError.Code
		}
		pi.LastError = declineMessage(code)
	}
	if in.LatestCharge != nil {
		pi.MethodBrand = in.LatestCharge.PaymentMethodDetails.Card.Brand
		pi.MethodLast4 = in.LatestCharge.PaymentMethodDetails.Card.Last4
	}
	return pi
}

func normalizeStripeStatus(s string) domain.IntentStatus {
	switch s {
	case "requires_confirmation":
		return domain.IntentRequiresAction
	case "requires_capture":
		return domain.IntentProcessing
	default:
		return domain.IntentStatus(s)
	}
}

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (c *StripeClient) EnsureCustomer(ctx context.Context, cust domain.Customer) (string, error) {
	q := url.Values{}
	q.Set("email", cust.Email)
	q.Set("limit", "1")
	var list struct {
		Data []stripeCustomer `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/customers", q, "", &list); err != nil {
		return "", err
	}
	if len(list.Data) > 0 {
		return list.Data[0].ID, nil
	}
	form := url.Values{}
	form.Set("email", cust.Email)
	form.Set("name", strings.TrimSpace(cust.FirstName+" "+cust.LastName))
	if cust.Phone != "" {
		form.Set("phone", cust.Phone)
	}
	var created stripeCustomer
	if err := c.call(ctx, http.MethodPost, "/v1/customers", form, "", &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *StripeClient) ResolvePromoCode(ctx context.Context, code string) (domain.Promo, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("active", "true")
	q.Set("limit", "1")
	var list struct {
		Data []struct {
			ID     string `json:"id"`
			Code   string `json:"code"`
			Coupon struct {
				Name       string  `json:"name"`
				PercentOff float64 `json:"percent_off"`
				AmountOff  int64   `json:"amount_off"`
			} `json:"coupon"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/promotion_codes", q, "", &list); err != nil {
		return domain.Promo{}, err
	}
	if len(list.Data) == 0 {
		return domain.Promo{}, Invalid("promotion code not found")
	}
	d := list.Data[0]
	desc := d.Coupon.Name
	if desc == "" {
		if d.Coupon.PercentOff > 0 {
			desc = fmt.Sprintf("%.0f%% off", d.Coupon.PercentOff)
		} else {
			desc = fmt.Sprintf("$%.2f off", float64(d.Coupon.AmountOff)/100)
		}
	}
	return domain.Promo{
		ID:          d.ID,
		Code:        d.Code,
		PercentOff:  d.Coupon.PercentOff,
		AmountOff:   d.Coupon.AmountOff,
		Description: desc,
	}, nil
}

type stripeInvoice struct {
	ID            string `json:"id"`
	AmountDue     int64  `json:"amount_due"`
	Paid          bool   `json:"paid"`
	HostedInvoice string `json:"hosted_invoice_url"`
	PaymentIntent *struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	} `json:"payment_intent"`
}

type stripeSubscription struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Customer         string `json:"customer"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	LatestInvoice    *stripeInvoice
}

// latest_invoice arrives as an id string or, when expanded, an object.
func (s *stripeSubscription) UnmarshalJSON(b []byte) error {
	type alias struct {
		ID               string          `json:"id"`
		Status           string          `json:"status"`
		Customer         string          `json:"customer"`
		CurrentPeriodEnd int64           `json:"current_period_end"`
		LatestInvoice    json.RawMessage `json:"latest_invoice"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	s.ID = a.ID
	s.Status = a.Status
	s.Customer = a.Customer
	s.CurrentPeriodEnd = a.CurrentPeriodEnd
	if len(a.LatestInvoice) > 0 && a.LatestInvoice[0] == '{' {
		var inv stripeInvoice
		if err := json.Unmarshal(a.LatestInvoice, &inv); err != nil {
			return err
		}
		s.LatestInvoice = &inv
	} else if len(a.LatestInvoice) > 0 && a.LatestInvoice[0] == '"' {
		var id string
		_ = json.Unmarshal(a.LatestInvoice, &id)
		if id != "" {
			s.LatestInvoice = &stripeInvoice{ID: id}
		}
	}
	return nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (domain.Subscription, error) {
	form := url.Values{}
	form.Set("customer", req.CustomerID)
	form.Set("items[0][price]", req.PriceID)
	form.Set("payment_behavior", "default_incomplete")
	form.Set("payment_settings[save_default_payment_method]", "on_subscription")
	form.Add("expand[]", "latest_invoice.payment_intent")
	if req.PromoID != "" {
		form.Set("promotion_code", req.PromoID)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out stripeSubscription
	if err := c.call(ctx, http.MethodPost, "/v1/subscriptions", form, req.IdempotencyKey, &out); err != nil {
		return domain.Subscription{}, err
	}
	return c.toSubscription(out), nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	q := url.Values{}
	q.Add("expand[]", "latest_invoice.payment_intent")
	var out stripeSubscription
	if err := c.call(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), q, "", &out); err != nil {
		return domain.Subscription{}, err
	}
	return c.toSubscription(out), nil
}

func (c *StripeClient) toSubscription(in stripeSubscription) domain.Subscription {
	sub := domain.Subscription{
		ID:               in.ID,
		CustomerID:       in.Customer,
		Status:           domain.SubscriptionStatus(in.Status),
		CurrentPeriodEnd: time.Unix(in.CurrentPeriodEnd, 0).UTC(),
	}
	if in.LatestInvoice != nil {
		sub.LatestInvoiceID = in.LatestInvoice.ID
		if in.LatestInvoice.PaymentIntent != nil {
			sub.IntentID = in.LatestInvoice.PaymentIntent.ID
			sub.ClientSecret = in.LatestInvoice.PaymentIntent.ClientSecret
		}
	}
	return sub
}

func (c *StripeClient) RetrieveInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	q := url.Values{}
	q.Add("expand[]", "payment_intent")
	var out stripeInvoice
	if err := c.call(ctx, http.MethodGet, "/v1/invoices/"+url.PathEscape(id), q, "", &out); err != nil {
		return domain.Invoice{}, err
	}
	return toInvoice(out), nil
}

func (c *StripeClient) PayInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	var out stripeInvoice
	if err := c.call(ctx, http.MethodPost, "/v1/invoices/"+url.PathEscape(id)+"/pay", url.Values{}, "", &out); err != nil {
		return domain.Invoice{}, err
	}
	return toInvoice(out), nil
}

func toInvoice(in stripeInvoice) domain.Invoice {
	inv := domain.Invoice{
		ID:            in.ID,
		AmountDue:     in.AmountDue,
		Paid:          in.Paid,
		HostedInvoice: in.HostedInvoice,
	}
	if in.PaymentIntent != nil {
		inv.IntentID = in.PaymentIntent.ID
		inv.ClientSecret = in.PaymentIntent.ClientSecret
	}
	return inv
}

// VerifyWebhook checks the Stripe-Signature header (t=...,v1=...) against an
// HMAC-SHA256 of "<timestamp>.<raw body>". The raw bytes must be exactly as
// received; any body transformation upstream breaks the signature.
func (c *StripeClient) VerifyWebhook(header http.Header, body []byte) (domain.WebhookEvent, error) {
	sig := header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return domain.WebhookEvent{}, BadSignature("missing signature header")
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(sig, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return domain.WebhookEvent{}, BadSignature("malformed signature header")
	}
	tsec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.WebhookEvent{}, BadSignature("malformed timestamp")
	}
	tol := c.SignatureTolerance
	if tol == 0 {
		tol = 5 * time.Minute
	}
	if d := time.Since(time.Unix(tsec, 0)); d > tol || d < -tol {
		return domain.WebhookEvent{}, BadSignature("timestamp outside tolerance")
	}
	mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	ok := false
	for _, s := range sigs {
		if hmac.Equal([]byte(expected), []byte(s)) {
			ok = true
			break
		}
	}
	if !ok {
		return domain.WebhookEvent{}, BadSignature("signature mismatch")
	}

	var ev struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount int64  `json:"amount"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.WebhookEvent{}, Invalid("invalid event payload")
	}
	return domain.WebhookEvent{
		ID:          ev.ID,
		Type:        ev.Type,
		Provider:    c.Name(),
		ObjectID:    ev.Data.Object.ID,
		Status:      ev.Data.Object.Status,
		AmountCents: ev.Data.Object.Amount,
		Raw:         body,
	}, nil
}

func (c *StripeClient) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return &Error{Kind: KindConfig, Message: "stripe secret key not configured"}
	}
	base := c.BaseURL
	if base == "" {
		base = stripeAPIBase
	}
	var req *http.Request
	var err error
	if method == http.MethodGet {
		u := base + path
		if len(form) > 0 {
			u += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, base+path, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Transient("stripe unreachable")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.Unmarshal(body, out)
	}
	return c.mapError(resp.StatusCode, body)
}

func (c *StripeClient) mapError(status int, body []byte) error {
	var er stripeErrorResp
	_ = json.Unmarshal(body, &er)
	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindConfig, Message: "stripe credentials rejected"}
	case status == http.StatusTooManyRequests:
		return Transient("stripe rate limited")
	case status >= 500:
		return Transient("stripe unavailable")
	case er.Error.Type == "card_error":
		code := er.Error.DeclineCode
		if code == "" {
			code = er.Error.Code
		}
		return Declined(code)
	default:
		return Invalid("stripe rejected the request")
	}
}
