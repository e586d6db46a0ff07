package config

import (
	"os"
	"strconv"
)

// Config is read once at startup and treated as immutable afterwards.
type Config struct {
	Env  string
	Port int

	// PaymentProvider selects the processor implementation: stripe or paypal.
	PaymentProvider string
	Currency        string

	StripeSecretKey     string
	StripeWebhookSecret string
	PayPalClientID      string
	PayPalSecret        string
	PayPalWebhookID     string

	OrderTokenSecret string
	NotifyEmail      string

	PostgresDSN string
	RedisAddr   string

	RateLimitPerMinute int
	AuditLogPath       string
}

func Default() Config {
	return Config{
		Env:                "dev",
		Port:               5000,
		PaymentProvider:    "stripe",
		Currency:           "USD",
		RateLimitPerMinute: 10,
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

func fromEnv(c Config) Config {
	if v := os.Getenv("SHOP_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("SHOP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("SHOP_PAYMENT_PROVIDER"); v != "" {
		c.PaymentProvider = v
	}
	if v := os.Getenv("SHOP_CURRENCY"); v != "" {
		c.Currency = v
	}
	if v := os.Getenv("SHOP_STRIPE_SECRET_KEY"); v != "" {
		c.StripeSecretKey = v
	}
	if v := os.Getenv("SHOP_STRIPE_WEBHOOK_SECRET"); v != "" {
		c.StripeWebhookSecret = v
	}
	if v := os.Getenv("SHOP_PAYPAL_CLIENT_ID"); v != "" {
		c.PayPalClientID = v
	}
	if v := os.Getenv("SHOP_PAYPAL_SECRET"); v != "" {
		c.PayPalSecret = v
	}
	if v := os.Getenv("SHOP_PAYPAL_WEBHOOK_ID"); v != "" {
		c.PayPalWebhookID = v
	}
	if v := os.Getenv("SHOP_ORDER_TOKEN_SECRET"); v != "" {
		c.OrderTokenSecret = v
	}
	if v := os.Getenv("SHOP_NOTIFY_EMAIL"); v != "" {
		c.NotifyEmail = v
	}
	if v := os.Getenv("SHOP_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("SHOP_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("SHOP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SHOP_AUDIT_LOG_PATH"); v != "" {
		c.AuditLogPath = v
	}
	return c
}
