package processor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"storefront-backend/internal/domain"
)

func stripeSig(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t + "."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", t, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifyWebhook(t *testing.T) {
	c := &StripeClient{WebhookSecret: "whsec_test"}
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded","amount":5104}}}`)
	h := http.Header{}
	h.Set("Stripe-Signature", stripeSig("whsec_test", time.Now(), body))

	ev, err := c.VerifyWebhook(h, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != "payment_intent.succeeded" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ObjectID != "pi_1" || ev.AmountCents != 5104 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Provider != "stripe" {
		t.Fatalf("provider = %q", ev.Provider)
	}
}

func TestStripeVerifyWebhookRejects(t *testing.T) {
	c := &StripeClient{WebhookSecret: "whsec_test"}
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	cases := []struct {
		name string
		sig  string
	}{
		{"missing header", ""},
		{"malformed header", "garbage"},
		{"wrong secret", stripeSig("whsec_other", time.Now(), body)},
		{"stale timestamp", stripeSig("whsec_test", time.Now().Add(-time.Hour), body)},
		{"future timestamp", stripeSig("whsec_test", time.Now().Add(time.Hour), body)},
	}
	for _, tc := range cases {
		h := http.Header{}
		if tc.sig != "" {
			h.Set("Stripe-Signature", tc.sig)
		}
		_, err := c.VerifyWebhook(h, body)
		pe, ok := err.(*Error)
		if !ok || pe.Kind != KindSignature {
			t.Fatalf("%s: err = %T %v", tc.name, err, err)
		}
	}
}

func TestStripeVerifyWebhookTamperedBody(t *testing.T) {
	c := &StripeClient{WebhookSecret: "whsec_test"}
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	h := http.Header{}
	h.Set("Stripe-Signature", stripeSig("whsec_test", time.Now(), body))

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'X'
	if _, err := c.VerifyWebhook(h, tampered); err == nil {
		t.Fatalf("tampered body accepted")
	}
}

func TestNormalizeStripeStatus(t *testing.T) {
	cases := map[string]domain.IntentStatus{
		"succeeded":             domain.IntentSucceeded,
		"processing":            domain.IntentProcessing,
		"requires_confirmation": domain.IntentRequiresAction,
		"requires_capture":      domain.IntentProcessing,
		"canceled":              domain.IntentCanceled,
	}
	for in, want := range cases {
		if got := normalizeStripeStatus(in); got != want {
			t.Fatalf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripeMapError(t *testing.T) {
	c := &StripeClient{}
	cases := []struct {
		status int
		body   string
		kind   ErrorKind
	}{
		{401, `{}`, KindConfig},
		{429, `{}`, KindTransient},
		{502, `{}`, KindTransient},
		{402, `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds"}}`, KindDeclined},
		{400, `{"error":{"type":"invalid_request_error"}}`, KindInvalid},
	}
	for _, tc := range cases {
		err := c.mapError(tc.status, []byte(tc.body))
		pe, ok := err.(*Error)
		if !ok || pe.Kind != tc.kind {
			t.Fatalf("status %d: err = %T %v, want kind %s", tc.status, err, err, tc.kind)
		}
	}
}

func TestStripeDeclineCodePreferred(t *testing.T) {
	c := &StripeClient{}
	err := c.mapError(402, []byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds"}}`))
	pe := err.(*Error)
	if pe.Code != "insufficient_funds" {
		t.Fatalf("code = %q, want decline_code", pe.Code)
	}
	if pe.Message != "Your card has insufficient funds." {
		t.Fatalf("message = %q", pe.Message)
	}
}

func TestStripeCreateIntent(t *testing.T) {
	var gotPath, gotIdem, gotAuth string
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIdem = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = r.ParseForm()
		gotForm = r.PostForm
		fmt.Fprint(w, `{"id":"pi_1","status":"requires_payment_method","amount":5104,"currency":"usd","client_secret":"pi_1_secret"}`)
	}))
	defer srv.Close()

	c := &StripeClient{SecretKey: "sk_test", BaseURL: srv.URL}
	intent, err := c.CreateIntent(context.Background(), IntentRequest{
		AmountCents:    5104,
		Currency:       "USD",
		Metadata:       map[string]string{"order_id": "ORD-1"},
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotPath != "/v1/payment_intents" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotForm.Get("amount") != "5104" || gotForm.Get("currency") != "usd" {
		t.Fatalf("form = %v", gotForm)
	}
	if gotForm.Get("metadata[order_id]") != "ORD-1" {
		t.Fatalf("metadata = %v", gotForm)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("intent = %+v", intent)
	}
	if intent.Status != domain.IntentRequiresPaymentMethod {
		t.Fatalf("status = %s", intent.Status)
	}
	if gotIdem != "idem-1" {
		t.Fatalf("idempotency key = %q", gotIdem)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestStripeRetrieveIntentCardDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pi_1","status":"succeeded","amount":5104,"currency":"usd",
			"latest_charge":{"payment_method_details":{"card":{"brand":"visa","last4":"4242"}}}}`)
	}))
	defer srv.Close()

	c := &StripeClient{SecretKey: "sk_test", BaseURL: srv.URL}
	intent, err := c.RetrieveIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if intent.MethodBrand != "visa" || intent.MethodLast4 != "4242" {
		t.Fatalf("intent = %+v", intent)
	}
}

func TestStripeMissingKeyIsConfigError(t *testing.T) {
	c := &StripeClient{}
	_, err := c.RetrieveIntent(context.Background(), "pi_1")
	pe, ok := err.(*Error)
	if !ok || pe.Kind != KindConfig {
		t.Fatalf("err = %T %v", err, err)
	}
}

func TestStripeSubscriptionLatestInvoiceForms(t *testing.T) {
	// latest_invoice arrives expanded on create, as a bare id on retrieve.
	var sub stripeSubscription
	expanded := `{"id":"sub_1","status":"incomplete","customer":"cus_1","current_period_end":1767225600,
		"latest_invoice":{"id":"in_1","amount_due":1499,"payment_intent":{"id":"pi_9","client_secret":"pi_9_secret"}}}`
	if err := sub.UnmarshalJSON([]byte(expanded)); err != nil {
		t.Fatalf("unmarshal expanded: %v", err)
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.ID != "in_1" {
		t.Fatalf("sub = %+v", sub)
	}
	c := &StripeClient{}
	d := c.toSubscription(sub)
	if d.LatestInvoiceID != "in_1" || d.IntentID != "pi_9" || d.ClientSecret != "pi_9_secret" {
		t.Fatalf("domain sub = %+v", d)
	}

	var sub2 stripeSubscription
	bare := `{"id":"sub_1","status":"active","customer":"cus_1","latest_invoice":"in_2"}`
	if err := sub2.UnmarshalJSON([]byte(bare)); err != nil {
		t.Fatalf("unmarshal bare: %v", err)
	}
	if sub2.LatestInvoice == nil || sub2.LatestInvoice.ID != "in_2" {
		t.Fatalf("sub2 = %+v", sub2)
	}
}
