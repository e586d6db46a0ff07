package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/config"
	"storefront-backend/internal/env"
	"storefront-backend/internal/infrastructure/processor"
	"storefront-backend/internal/infrastructure/ratelimit"
	"storefront-backend/internal/infrastructure/repo"
	"storefront-backend/internal/pricing"
	"storefront-backend/internal/server"
	"storefront-backend/internal/usecase"
)

func main() {
	env.Load(".env", ".env.local")
	envDefaults := config.EnvDefaults()

	envName := flag.String("env", envDefaults.Env, "")
	port := flag.Int("port", envDefaults.Port, "")
	provider := flag.String("provider", envDefaults.PaymentProvider, "")
	currency := flag.String("currency", envDefaults.Currency, "")
	pgDSN := flag.String("postgres-dsn", envDefaults.PostgresDSN, "")
	redisAddr := flag.String("redis-addr", envDefaults.RedisAddr, "")
	auditPath := flag.String("audit-log", envDefaults.AuditLogPath, "")
	flag.Parse()

	cfg := envDefaults
	cfg.Env = *envName
	cfg.Port = *port
	cfg.PaymentProvider = *provider
	cfg.Currency = *currency
	cfg.PostgresDSN = *pgDSN
	cfg.RedisAddr = *redisAddr
	cfg.AuditLogPath = *auditPath

	var auditLog audit.Logger
	if cfg.AuditLogPath != "" {
		w, err := audit.FileSink(cfg.AuditLogPath)
		if err != nil {
			log.Fatalf("audit log: %v", err)
		}
		auditLog = audit.NewJSON(w)
	} else {
		auditLog = audit.NewJSON(os.Stdout)
	}

	var orders usecase.OrderRepo
	var events usecase.EventRepo
	if cfg.PostgresDSN != "" {
		pg, err := repo.NewPostgresRepo(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		orders = pg
		events = pg
	} else {
		orders = repo.NewMemoryOrderRepo()
		events = repo.NewMemoryEventRepo()
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimitPerMinute, time.Minute)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	var prov processor.Provider
	switch cfg.PaymentProvider {
	case "paypal":
		prov = &processor.PayPalClient{
			ClientID:  cfg.PayPalClientID,
			Secret:    cfg.PayPalSecret,
			WebhookID: cfg.PayPalWebhookID,
		}
	default:
		prov = &processor.StripeClient{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		}
	}

	quoter := pricing.NewQuoter(pricing.DefaultCatalog())
	payments := &usecase.PaymentService{
		Provider: prov,
		Orders:   orders,
		Quoter:   quoter,
		Audit:    auditLog,
		Currency: cfg.Currency,
	}
	confirms := &usecase.ConfirmService{
		Provider: prov,
		Orders:   orders,
		Events:   events,
		Audit:    auditLog,
		Backoff:  usecase.DefaultBackoff(),
	}
	tokens := &usecase.TokenService{Secret: cfg.OrderTokenSecret}

	srv := server.New(cfg, payments, confirms, tokens, orders, prov, limiter, auditLog)
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("storefront-backend listening on %s (provider=%s env=%s)", addr, prov.Name(), cfg.Env)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}
