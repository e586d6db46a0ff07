package audit

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Event names for payment lifecycle transitions. Every transition is emitted
// regardless of whether the HTTP response succeeds.
const (
	EventIntentCreated       = "PAYMENT_INTENT_CREATED"
	EventIntentSucceeded     = "PAYMENT_INTENT_SUCCEEDED"
	EventIntentFailed        = "PAYMENT_INTENT_FAILED"
	EventIntentCanceled      = "PAYMENT_INTENT_CANCELED"
	EventFreeOrderConfirmed  = "FREE_ORDER_CONFIRMED"
	EventOrderConfirmed      = "ORDER_CONFIRMED"
	EventSubCreated          = "SUBSCRIPTION_CREATED"
	EventSubActivated        = "SUBSCRIPTION_ACTIVATED"
	EventSubCanceled         = "SUBSCRIPTION_CANCELED"
	EventInvoicePaid         = "INVOICE_PAID"
	EventInvoiceFailed       = "INVOICE_PAYMENT_FAILED"
	EventWebhookReceived     = "WEBHOOK_RECEIVED"
	EventWebhookDuplicate    = "WEBHOOK_DUPLICATE"
	EventSignatureRejected   = "WEBHOOK_SIGNATURE_REJECTED"
	EventPromoLookupFailed   = "PROMO_LOOKUP_FAILED"
	EventCardDataRejected    = "CARD_DATA_REJECTED"
	EventReconcileTimedOut   = "RECONCILIATION_TIMED_OUT"
	EventPaymentPollObserved = "PAYMENT_POLL_OBSERVED"
)

// Logger is the append-only audit sink. kv is alternating key/value pairs,
// slog style.
type Logger interface {
	Event(name string, kv ...any)
	Warn(name string, kv ...any)
	Error(name string, kv ...any)
}

type slogLogger struct {
	l *slog.Logger
}

// NewJSON writes one JSON line per audit event.
func NewJSON(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &slogLogger{l: slog.New(slog.NewJSONHandler(w, nil))}
}

func (s *slogLogger) Event(name string, kv ...any) {
	s.l.Info(name, kv...)
}

func (s *slogLogger) Warn(name string, kv ...any) {
	s.l.Warn(name, kv...)
}

func (s *slogLogger) Error(name string, kv ...any) {
	s.l.Error(name, kv...)
}

// FileSink appends audit lines to a log file, creating it on first use.
func FileSink(path string) (io.Writer, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Recorded is one captured event, for assertions in tests.
type Recorded struct {
	Name  string
	Level string
	KV    []any
}

// Recorder collects events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Event(name string, kv ...any) { r.add("info", name, kv) }
func (r *Recorder) Warn(name string, kv ...any)  { r.add("warn", name, kv) }
func (r *Recorder) Error(name string, kv ...any) { r.add("error", name, kv) }

func (r *Recorder) add(level, name string, kv []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Name: name, Level: level, KV: kv})
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}
