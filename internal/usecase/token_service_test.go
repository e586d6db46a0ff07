package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestOrderTokenRoundTrip(t *testing.T) {
	svc := &TokenService{Secret: "test-secret"}
	tok, err := svc.IssueOrderToken("ORD-1", "ada@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	orderID, email, err := svc.VerifyOrderToken(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if orderID != "ORD-1" || email != "ada@example.com" {
		t.Fatalf("claims = %q %q", orderID, email)
	}
}

func TestOrderTokenWrongSecret(t *testing.T) {
	tok, err := (&TokenService{Secret: "secret-a"}).IssueOrderToken("ORD-1", "ada@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := (&TokenService{Secret: "secret-b"}).VerifyOrderToken(tok); err == nil {
		t.Fatalf("token verified with wrong secret")
	}
}

func TestOrderTokenTampered(t *testing.T) {
	svc := &TokenService{Secret: "test-secret"}
	tok, err := svc.IssueOrderToken("ORD-1", "ada@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("token parts = %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, _, err := svc.VerifyOrderToken(tampered); err == nil {
		t.Fatalf("tampered token verified")
	}
}

func TestOrderTokenExpiry(t *testing.T) {
	svc := &TokenService{Secret: "test-secret"}
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"order_id": "ORD-1",
		"email":    "ada@example.com",
		"exp":      time.Now().Add(-time.Hour).Unix(),
	})
	tok, err := expired.SignedString([]byte(svc.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := svc.VerifyOrderToken(tok); err == nil {
		t.Fatalf("expired token verified")
	}
}
