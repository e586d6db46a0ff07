package usecase

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService issues short-lived order-access tokens so a guest can fetch
// their receipt after checkout without an account. The token binds the order
// id to the customer email that placed it.
type TokenService struct {
	Secret string
	TTL    time.Duration
}

func (s *TokenService) ttl() time.Duration {
	if s.TTL <= 0 {
		return 24 * time.Hour
	}
	return s.TTL
}

func (s *TokenService) IssueOrderToken(orderID, email string) (string, error) {
	claims := jwt.MapClaims{
		"order_id": orderID,
		"email":    email,
		"exp":      time.Now().Add(s.ttl()).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.Secret))
}

func (s *TokenService) VerifyOrderToken(token string) (string, string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", err
	}
	if !parsed.Valid {
		return "", "", ErrBadRequest("invalid token")
	}
	m, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrBadRequest("invalid claims")
	}
	orderID, _ := m["order_id"].(string)
	email, _ := m["email"].(string)
	if orderID == "" {
		return "", "", ErrBadRequest("invalid token")
	}
	return orderID, email, nil
}
