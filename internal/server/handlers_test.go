package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/config"
	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/processor"
	"storefront-backend/internal/infrastructure/ratelimit"
	"storefront-backend/internal/infrastructure/repo"
	"storefront-backend/internal/pricing"
	"storefront-backend/internal/usecase"
)

// stubProvider verifies webhooks by a shared-secret header and scripts the
// intent status, standing in for a real processor.
type stubProvider struct {
	intentStatus domain.IntentStatus
	lastError    string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) CreateIntent(ctx context.Context, req processor.IntentRequest) (domain.PaymentIntent, error) {
	return domain.PaymentIntent{
		ID:           "pi_1",
		Status:       domain.IntentRequiresAction,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		ClientSecret: "pi_1_secret",
	}, nil
}

func (p *stubProvider) RetrieveIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	st := p.intentStatus
	if st == "" {
		st = domain.IntentSucceeded
	}
	return domain.PaymentIntent{ID: id, Status: st, LastError: p.lastError, MethodBrand: "visa", MethodLast4: "4242"}, nil
}

func (p *stubProvider) CancelIntent(ctx context.Context, id string) error { return nil }

func (p *stubProvider) VerifyWebhook(h http.Header, body []byte) (domain.WebhookEvent, error) {
	if h.Get("X-Test-Signature") != "valid" {
		return domain.WebhookEvent{}, processor.BadSignature("signature mismatch")
	}
	var ev domain.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.WebhookEvent{}, processor.Invalid("bad payload")
	}
	ev.Provider = p.Name()
	ev.Raw = body
	return ev, nil
}

type testEnv struct {
	srv    *Server
	orders *repo.MemoryOrderRepo
	rec    *audit.Recorder
	prov   *stubProvider
	tokens *usecase.TokenService
}

func newTestEnv(limit int) *testEnv {
	prov := &stubProvider{}
	orders := repo.NewMemoryOrderRepo()
	rec := audit.NewRecorder()
	quoter := pricing.NewQuoter(pricing.DefaultCatalog())
	payments := &usecase.PaymentService{
		Provider: prov, Orders: orders, Quoter: quoter, Audit: rec, Currency: "USD",
	}
	confirms := &usecase.ConfirmService{
		Provider: prov, Orders: orders, Events: repo.NewMemoryEventRepo(), Audit: rec,
		Backoff: usecase.Backoff{Base: time.Millisecond, Multiplier: 1.5, MaxAttempts: 2},
		Sleep:   func(ctx context.Context, d time.Duration) error { return nil },
	}
	tokens := &usecase.TokenService{Secret: "test-secret"}
	cfg := config.Default()
	cfg.Env = "test"
	srv := New(cfg, payments, confirms, tokens, orders, prov,
		ratelimit.NewMemoryLimiter(limit, time.Minute), rec)
	return &testEnv{srv: srv, orders: orders, rec: rec, prov: prov, tokens: tokens}
}

func (e *testEnv) post(path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedOrder(ref string, status domain.OrderStatus) *domain.Order {
	o := &domain.Order{
		OrderID:    "ORD-20260314092653-abcd",
		Status:     status,
		PaymentRef: ref,
		Customer:   domain.Customer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Summary:    domain.OrderSummary{TotalCents: 5104},
		CreatedAt:  time.Now().UTC(),
	}
	_ = e.orders.PutOrder(o)
	return o
}

const createPaymentBody = `{
	"items":[{"id":"starter-kit","quantity":1}],
	"customer":{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com"},
	"shippingAddress":{"firstName":"Ada","lastName":"Lovelace","address1":"12 Analytical Way",
		"city":"London","state":"LN","zipCode":"12345","country":"GB"}
}`

func TestCreatePaymentIntentEndpoint(t *testing.T) {
	e := newTestEnv(100)
	w := e.post("/api/create-payment-intent", createPaymentBody, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		PaymentIntentID string `json:"paymentIntentId"`
		ClientSecret    string `json:"clientSecret"`
		Amount          int64  `json:"amount"`
		OrderID         string `json:"orderId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PaymentIntentID != "pi_1" || resp.ClientSecret != "pi_1_secret" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Amount != 5104 {
		t.Fatalf("amount = %d", resp.Amount)
	}
	if resp.OrderID == "" {
		t.Fatalf("no order id")
	}
}

func TestCreatePaymentIntentValidation(t *testing.T) {
	e := newTestEnv(100)
	body := `{"items":[{"id":"starter-kit","quantity":1}],
		"customer":{"firstName":"Ada","lastName":"Lovelace","email":"not-an-email"},
		"shippingAddress":{"firstName":"Ada","lastName":"Lovelace","address1":"12 Analytical Way",
			"city":"London","state":"LN","zipCode":"12345","country":"GB"}}`
	w := e.post("/api/create-payment-intent", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "validation_error" {
		t.Fatalf("error = %q", resp.Error)
	}
	if _, ok := resp.Fields["email"]; !ok {
		t.Fatalf("fields = %v", resp.Fields)
	}
}

func TestConfirmPaymentDeclinedResponse(t *testing.T) {
	e := newTestEnv(100)
	e.seedOrder("pi_1", domain.OrderPending)
	e.prov.intentStatus = domain.IntentRequiresPaymentMethod
	e.prov.lastError = "Your card was declined."

	w := e.post("/api/confirm-payment", `{"paymentIntentId":"pi_1"}`, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error   string `json:"error"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "payment_failed" {
		t.Fatalf("error = %q", resp.Error)
	}
	if resp.Status != "requires_payment_method" {
		t.Fatalf("status field = %q", resp.Status)
	}
	if resp.Message != "Your card was declined." {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestConfirmPaymentReturnsOrderToken(t *testing.T) {
	e := newTestEnv(100)
	e.seedOrder("pi_1", domain.OrderPending)

	w := e.post("/api/confirm-payment", `{"paymentIntentId":"pi_1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success       bool   `json:"success"`
		OrderToken    string `json:"orderToken"`
		OrderID       string `json:"orderId"`
		PaymentMethod struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"paymentMethod"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.OrderToken == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.PaymentMethod.Brand != "visa" || resp.PaymentMethod.Last4 != "4242" {
		t.Fatalf("payment method = %+v", resp.PaymentMethod)
	}

	// The token fetches the receipt.
	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+resp.OrderID, nil)
	req.Header.Set("Authorization", "Bearer "+resp.OrderToken)
	rw := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("receipt status = %d body = %s", rw.Code, rw.Body.String())
	}
}

func TestConfirmPaymentTimeoutResponse(t *testing.T) {
	e := newTestEnv(100)
	e.seedOrder("pi_1", domain.OrderPending)
	e.prov.intentStatus = domain.IntentProcessing

	w := e.post("/api/confirm-payment", `{"paymentIntentId":"pi_1"}`, nil)
	// Still-processing is 200 with success=false, never a 5xx.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Status != "processing" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCancelPaymentEndpoint(t *testing.T) {
	e := newTestEnv(100)
	e.seedOrder("pi_1", domain.OrderPending)

	w := e.post("/api/cancel-payment", `{"paymentIntentId":"pi_1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Canceled bool `json:"canceled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Canceled {
		t.Fatalf("resp = %+v", resp)
	}
	stored, _ := e.orders.GetOrderByPaymentRef("pi_1")
	if stored.Status != domain.OrderCanceled {
		t.Fatalf("order status = %s", stored.Status)
	}
}

func TestCancelPaymentConfirmedReturns409(t *testing.T) {
	e := newTestEnv(100)
	e.seedOrder("pi_1", domain.OrderConfirmed)

	w := e.post("/api/cancel-payment", `{"paymentIntentId":"pi_1"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "conflict" {
		t.Fatalf("error = %q", resp.Error)
	}
	stored, _ := e.orders.GetOrderByPaymentRef("pi_1")
	if stored.Status != domain.OrderConfirmed {
		t.Fatalf("order status = %s", stored.Status)
	}
}

func TestWebhookSignatureRejected(t *testing.T) {
	e := newTestEnv(100)
	w := e.post("/api/webhook", `{"ID":"evt_1","Type":"payment_intent.succeeded"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if e.rec.Count(audit.EventSignatureRejected) != 1 {
		t.Fatalf("rejection not audited")
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	e := newTestEnv(100)
	e.seedOrder("pi_1", domain.OrderPending)
	body := `{"ID":"evt_1","Type":"payment_intent.succeeded","ObjectID":"pi_1"}`
	hdr := map[string]string{"X-Test-Signature": "valid"}

	for i := 0; i < 2; i++ {
		w := e.post("/api/webhook", body, hdr)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery #%d status = %d", i+1, w.Code)
		}
	}
	stored, _ := e.orders.GetOrderByPaymentRef("pi_1")
	if stored.Status != domain.OrderConfirmed {
		t.Fatalf("order status = %s", stored.Status)
	}
	if e.rec.Count(audit.EventOrderConfirmed) != 1 {
		t.Fatalf("confirmed events = %d, want 1", e.rec.Count(audit.EventOrderConfirmed))
	}
	if e.rec.Count(audit.EventWebhookDuplicate) != 1 {
		t.Fatalf("duplicate not logged")
	}
}

func TestRateLimitReturns429(t *testing.T) {
	e := newTestEnv(1)
	e.seedOrder("pi_1", domain.OrderPending)
	body := `{"paymentIntentId":"pi_1"}`

	if w := e.post("/api/confirm-payment", body, nil); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := e.post("/api/confirm-payment", body, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
}

func TestRateLimitSparesPromoAndReceipts(t *testing.T) {
	e := newTestEnv(1)
	e.seedOrder("pi_1", domain.OrderPending)
	if w := e.post("/api/confirm-payment", `{"paymentIntentId":"pi_1"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	// The promo endpoint is outside the limited group.
	if w := e.post("/api/verify-promo", `{"code":"SAVE10"}`, nil); w.Code == http.StatusTooManyRequests {
		t.Fatalf("promo endpoint rate limited")
	}
}

func TestCardDataScanBlocksRawPANs(t *testing.T) {
	e := newTestEnv(100)
	body := `{"items":[{"id":"starter-kit","quantity":1}],
		"customer":{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com"},
		"paymentToken":"4242 4242 4242 4242",
		"shippingAddress":{"firstName":"Ada","lastName":"Lovelace","address1":"12 Analytical Way",
			"city":"London","state":"LN","zipCode":"12345","country":"GB"}}`
	w := e.post("/api/create-payment-intent", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "security_violation" {
		t.Fatalf("error = %q", resp.Error)
	}
	if e.rec.Count(audit.EventCardDataRejected) != 1 {
		t.Fatalf("rejection not audited")
	}
}

func TestCardDataScanAllowsOrderTotals(t *testing.T) {
	e := newTestEnv(100)
	// Plausible totals and zip codes must not trip the scanner.
	w := e.post("/api/create-payment-intent", createPaymentBody, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestGetOrderRequiresToken(t *testing.T) {
	e := newTestEnv(100)
	o := e.seedOrder("pi_1", domain.OrderConfirmed)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+o.OrderID, nil)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", w.Code)
	}

	// A token for a different order must not unlock this one.
	other, _ := e.tokens.IssueOrderToken("ORD-other", "ada@example.com")
	req = httptest.NewRequest(http.MethodGet, "/api/orders/"+o.OrderID, nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status with mismatched token = %d", w.Code)
	}

	good, _ := e.tokens.IssueOrderToken(o.OrderID, "ada@example.com")
	req = httptest.NewRequest(http.MethodGet, "/api/orders/"+o.OrderID, nil)
	req.Header.Set("Authorization", "Bearer "+good)
	w = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status with valid token = %d body = %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(100)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
