package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"storefront-backend/internal/domain"
)

const paypalAPIBase = "https://api-m.paypal.com"

// PayPalClient talks to the PayPal Orders v2 API. Redirect-based one-time
// payments only; it does not implement SubscriptionProvider.
type PayPalClient struct {
	ClientID  string
	Secret    string
	WebhookID string
	BaseURL   string
	HTTP      *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExp    time.Time
}

func (c *PayPalClient) Name() string { return "paypal" }

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (c *PayPalClient) CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id": req.Metadata["order_id"],
			"amount": map[string]any{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         centsToDecimal(req.AmountCents),
			},
		}},
	}
	var out paypalOrder
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", body, req.IdempotencyKey, &out); err != nil {
		return domain.PaymentIntent{}, err
	}
	return c.toIntent(out), nil
}

func (c *PayPalClient) RetrieveIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	var out paypalOrder
	if err := c.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(id), nil, "", &out); err != nil {
		return domain.PaymentIntent{}, err
	}
	// An approved order still needs a capture call to collect funds.
	if out.Status == "APPROVED" {
		var captured paypalOrder
		if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(id)+"/capture", map[string]any{}, "", &captured); err != nil {
			return domain.PaymentIntent{}, err
		}
		captured.PurchaseUnits = out.PurchaseUnits
		return c.toIntent(captured), nil
	}
	return c.toIntent(out), nil
}

func (c *PayPalClient) CancelIntent(ctx context.Context, id string) error {
	// Orders v2 has no cancel; unapproved orders simply expire.
	return nil
}

func (c *PayPalClient) toIntent(in paypalOrder) domain.PaymentIntent {
	pi := domain.PaymentIntent{
		ID:     in.ID,
		Status: normalizePayPalStatus(in.Status),
	}
	if len(in.PurchaseUnits) > 0 {
		pi.Currency = in.PurchaseUnits[0].Amount.CurrencyCode
		pi.AmountCents = decimalToCents(in.PurchaseUnits[0].Amount.Value)
	}
	for _, l := range in.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			pi.ApproveURL = l.Href
			break
		}
	}
	return pi
}

func normalizePayPalStatus(s string) domain.IntentStatus {
	switch s {
	case "CREATED", "PAYER_ACTION_REQUIRED":
		return domain.IntentRequiresAction
	case "APPROVED", "SAVED":
		return domain.IntentProcessing
	case "COMPLETED":
		return domain.IntentSucceeded
	case "VOIDED":
		return domain.IntentCanceled
	default:
		return domain.IntentRequiresPaymentMethod
	}
}

// VerifyWebhook delegates to PayPal's verify-webhook-signature endpoint with
// the transmission headers and the raw body.
func (c *PayPalClient) VerifyWebhook(header http.Header, body []byte) (domain.WebhookEvent, error) {
	transmissionID := header.Get("Paypal-Transmission-Id")
	transmissionSig := header.Get("Paypal-Transmission-Sig")
	transmissionTime := header.Get("Paypal-Transmission-Time")
	certURL := header.Get("Paypal-Cert-Url")
	authAlgo := header.Get("Paypal-Auth-Algo")
	if transmissionID == "" || transmissionSig == "" || transmissionTime == "" {
		return domain.WebhookEvent{}, BadSignature("missing transmission headers")
	}
	verifyReq := map[string]any{
		"transmission_id":   transmissionID,
		"transmission_sig":  transmissionSig,
		"transmission_time": transmissionTime,
		"cert_url":          certURL,
		"auth_algo":         authAlgo,
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.call(context.Background(), http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyReq, "", &out); err != nil {
		return domain.WebhookEvent{}, BadSignature("verification call failed")
	}
	if out.VerificationStatus != "SUCCESS" {
		return domain.WebhookEvent{}, BadSignature("signature mismatch")
	}

	var ev struct {
		ID       string `json:"id"`
		Type     string `json:"event_type"`
		Resource struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.WebhookEvent{}, Invalid("invalid event payload")
	}
	return domain.WebhookEvent{
		ID:       ev.ID,
		Type:     ev.Type,
		Provider: c.Name(),
		ObjectID: ev.Resource.ID,
		Status:   ev.Resource.Status,
		Raw:      body,
	}, nil
}

func (c *PayPalClient) call(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	base := c.BaseURL
	if base == "" {
		base = paypalAPIBase
	}
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("PayPal-Request-Id", idempotencyKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Transient("paypal unreachable")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, out)
	}
	return c.mapError(resp.StatusCode, raw)
}

func (c *PayPalClient) mapError(status int, body []byte) error {
	var er struct {
		Name    string `json:"name"`
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	_ = json.Unmarshal(body, &er)
	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindConfig, Message: "paypal credentials rejected"}
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient("paypal unavailable")
	case len(er.Details) > 0 && er.Details[0].Issue == "INSTRUMENT_DECLINED":
		return Declined("instrument_declined")
	default:
		return Invalid("paypal rejected the request")
	}
}

func (c *PayPalClient) token(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.Secret) == "" {
		return "", &Error{Kind: KindConfig, Message: "paypal credentials not configured"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExp) {
		return c.accessToken, nil
	}
	base := c.BaseURL
	if base == "" {
		base = paypalAPIBase
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", Transient("paypal unreachable")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: KindConfig, Message: "paypal token request failed"}
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &Error{Kind: KindConfig, Message: "paypal token missing"}
	}
	c.accessToken = out.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(out.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

func (c *PayPalClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func centsToDecimal(cents int64) string {
	neg := ""
	if cents < 0 {
		neg = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", neg, cents/100, cents%100)
}

func decimalToCents(v string) int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	neg := int64(1)
	if strings.HasPrefix(v, "-") {
		neg = -1
		v = v[1:]
	}
	whole, frac := v, "0"
	if i := strings.IndexByte(v, '.'); i >= 0 {
		whole, frac = v[:i], v[i+1:]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	frac = frac[:2]
	var w, f int64
	fmt.Sscanf(whole, "%d", &w)
	fmt.Sscanf(frac, "%d", &f)
	return neg * (w*100 + f)
}
