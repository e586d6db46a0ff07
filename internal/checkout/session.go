package checkout

import (
	"regexp"
	"strings"
	"time"

	"storefront-backend/internal/domain"
)

type Step int

const (
	StepCustomer Step = 1
	StepShipping Step = 2
	StepPayment  Step = 3
	StepReview   Step = 4
)

type PaymentStatus string

const (
	PaymentIdle       PaymentStatus = "idle"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
)

// PaymentInfo never carries raw card fields, only the opaque token minted by
// the hosted-fields widget and a billing snapshot.
type PaymentInfo struct {
	Method         string          `json:"paymentMethod"`
	Token          string          `json:"token"`
	BillingAddress *domain.Address `json:"billingAddress,omitempty"`
}

// Session is one checkout attempt: step progression, collected data and the
// orthogonal payment status. It is owned by a single client and discarded on
// success or abandonment.
type Session struct {
	ID              string            `json:"id"`
	Step            Step              `json:"step"`
	Customer        *domain.Customer  `json:"customer,omitempty"`
	ShippingAddress *domain.Address   `json:"shippingAddress,omitempty"`
	BillingAddress  *domain.Address   `json:"billingAddress,omitempty"`
	BillingSame     bool              `json:"billingSameAsShipping"`
	Payment         *PaymentInfo      `json:"paymentInfo,omitempty"`
	PaymentStatus   PaymentStatus     `json:"paymentStatus"`
	Errors          map[string]string `json:"errors"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		Step:          StepCustomer,
		PaymentStatus: PaymentIdle,
		Errors:        map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Advance moves to the next step when the current step validates. On failure
// the session stays put and Errors holds per-field messages. Errors are
// replaced wholesale on every pass so a partial fix never shows stale text.
func (s *Session) Advance() bool {
	s.clearErrors()
	switch s.Step {
	case StepCustomer:
		s.validateCustomer()
	case StepShipping:
		s.validateShipping()
	case StepPayment:
		s.validatePayment()
	case StepReview:
		return false
	}
	if len(s.Errors) > 0 {
		return false
	}
	s.Step++
	s.UpdatedAt = time.Now().UTC()
	return true
}

// Retreat steps back without clearing previously entered data.
func (s *Session) Retreat() bool {
	if s.Step <= StepCustomer {
		return false
	}
	s.Step--
	s.UpdatedAt = time.Now().UTC()
	return true
}

func (s *Session) SetCustomer(c domain.Customer) {
	s.Customer = &c
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) SetShippingAddress(a domain.Address) {
	s.ShippingAddress = &a
	if s.BillingSame {
		cp := a
		s.BillingAddress = &cp
	}
	s.UpdatedAt = time.Now().UTC()
}

// SetBillingSameAsShipping toggles the "same as shipping" flag. When true the
// billing address is snapshotted from shipping.
func (s *Session) SetBillingSameAsShipping(same bool) {
	s.BillingSame = same
	if same && s.ShippingAddress != nil {
		cp := *s.ShippingAddress
		s.BillingAddress = &cp
	}
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) SetBillingAddress(a domain.Address) {
	s.BillingSame = false
	s.BillingAddress = &a
	s.UpdatedAt = time.Now().UTC()
}

// SetPaymentInfo rejects anything card-number-shaped in the token field; raw
// card data must never reach the server.
func (s *Session) SetPaymentInfo(p PaymentInfo) bool {
	s.clearErrors()
	if looksLikeCardNumber(p.Token) {
		s.Errors["token"] = "raw card data is not accepted"
		return false
	}
	if p.BillingAddress == nil && s.BillingAddress != nil {
		cp := *s.BillingAddress
		p.BillingAddress = &cp
	}
	s.Payment = &p
	s.UpdatedAt = time.Now().UTC()
	return true
}

// MarkProcessing starts a payment attempt. Allowed from idle and, on user
// retry, from failed. succeeded is terminal for the session.
func (s *Session) MarkProcessing() bool {
	if s.PaymentStatus != PaymentIdle && s.PaymentStatus != PaymentFailed {
		return false
	}
	s.PaymentStatus = PaymentProcessing
	s.UpdatedAt = time.Now().UTC()
	return true
}

func (s *Session) MarkSucceeded() bool {
	if s.PaymentStatus != PaymentProcessing {
		return false
	}
	s.PaymentStatus = PaymentSucceeded
	s.UpdatedAt = time.Now().UTC()
	return true
}

func (s *Session) MarkFailed() bool {
	if s.PaymentStatus != PaymentProcessing {
		return false
	}
	s.PaymentStatus = PaymentFailed
	s.UpdatedAt = time.Now().UTC()
	return true
}

func (s *Session) clearErrors() {
	s.Errors = map[string]string{}
}

func (s *Session) validateCustomer() {
	c := s.Customer
	if c == nil {
		s.Errors["customer"] = "customer info required"
		return
	}
	if strings.TrimSpace(c.FirstName) == "" {
		s.Errors["firstName"] = "first name required"
	}
	if strings.TrimSpace(c.LastName) == "" {
		s.Errors["lastName"] = "last name required"
	}
	if !validEmail(c.Email) {
		s.Errors["email"] = "valid email required"
	}
}

func (s *Session) validateShipping() {
	a := s.ShippingAddress
	if a == nil {
		s.Errors["shippingAddress"] = "shipping address required"
		return
	}
	validateAddress(a, s.Errors, "")
	if !s.BillingSame && s.BillingAddress != nil {
		validateAddress(s.BillingAddress, s.Errors, "billing.")
	}
}

func (s *Session) validatePayment() {
	// Entering payment is only legal once customer and shipping are set.
	if s.Customer == nil {
		s.Errors["customer"] = "customer info required"
	}
	if s.ShippingAddress == nil {
		s.Errors["shippingAddress"] = "shipping address required"
	}
	if len(s.Errors) > 0 {
		return
	}
	if s.Payment == nil {
		s.Errors["paymentInfo"] = "payment info required"
		return
	}
	if strings.TrimSpace(s.Payment.Method) == "" {
		s.Errors["paymentMethod"] = "payment method required"
	}
}

func validateAddress(a *domain.Address, errs map[string]string, prefix string) {
	if strings.TrimSpace(a.Address1) == "" {
		errs[prefix+"address1"] = "street address required"
	}
	if strings.TrimSpace(a.City) == "" {
		errs[prefix+"city"] = "city required"
	}
	if strings.TrimSpace(a.State) == "" {
		errs[prefix+"state"] = "state required"
	}
	if strings.TrimSpace(a.ZipCode) == "" {
		errs[prefix+"zipCode"] = "zip code required"
	}
	if strings.TrimSpace(a.Country) == "" {
		errs[prefix+"country"] = "country required"
	}
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

var cardRe = regexp.MustCompile(`^\d{12,19}$`)

func looksLikeCardNumber(s string) bool {
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
	return cardRe.MatchString(stripped)
}
