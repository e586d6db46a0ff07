package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/config"
	"storefront-backend/internal/infrastructure/processor"
	"storefront-backend/internal/infrastructure/ratelimit"
	"storefront-backend/internal/usecase"
)

type Server struct {
	cfg      config.Config
	payments *usecase.PaymentService
	confirms *usecase.ConfirmService
	tokens   *usecase.TokenService
	orders   usecase.OrderRepo
	provider processor.Provider
	limiter  ratelimit.Limiter
	audit    audit.Logger
	engine   *gin.Engine
}

func New(cfg config.Config, payments *usecase.PaymentService, confirms *usecase.ConfirmService,
	tokens *usecase.TokenService, orders usecase.OrderRepo, provider processor.Provider,
	limiter ratelimit.Limiter, log audit.Logger) *Server {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		payments: payments,
		confirms: confirms,
		tokens:   tokens,
		orders:   orders,
		provider: provider,
		limiter:  limiter,
		audit:    log,
		engine:   gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())
	if s.cfg.Env == "dev" {
		s.engine.Use(gin.Logger())
	}
	s.engine.Use(corsMiddleware())

	s.engine.GET("/healthz", s.handleHealth)

	// The webhook route stays outside the scanned group so nothing touches
	// the body before signature verification.
	s.engine.POST("/api/webhook", s.handleWebhook)

	api := s.engine.Group("/api")
	api.Use(cardDataScan(s.audit))

	paying := api.Group("")
	paying.Use(rateLimitMiddleware(s.limiter))
	paying.POST("/create-payment-intent", s.handleCreatePaymentIntent)
	paying.POST("/confirm-payment", s.handleConfirmPayment)
	paying.POST("/cancel-payment", s.handleCancelPayment)
	paying.POST("/create-subscription", s.handleCreateSubscription)
	paying.POST("/confirm-subscription", s.handleConfirmSubscription)

	api.POST("/verify-promo", s.handleVerifyPromo)
	api.GET("/orders/:id", s.handleGetOrder)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": s.provider.Name()})
}

// writeErr maps the error taxonomy onto the fixed status set: 400 validation,
// 402 payment failed, 404, 409 conflict, 429 (middleware), 500 internal,
// 503 misconfigured. Raw processor error text never reaches the client.
func (s *Server) writeErr(c *gin.Context, err error) {
	var ve usecase.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Please correct the highlighted fields.",
			"fields":  map[string]string(ve),
		})
		return
	}
	var de *usecase.DeclinedError
	if errors.As(err, &de) {
		body := gin.H{"error": "payment_failed", "message": de.Message}
		if de.Code != "" {
			body["code"] = de.Code
		}
		if de.Status != "" {
			body["status"] = de.Status
		}
		c.JSON(http.StatusPaymentRequired, body)
		return
	}
	var pe *processor.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case processor.KindDeclined:
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment_failed", "message": pe.Message, "code": pe.Code})
		case processor.KindConfig:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "misconfigured", "message": "Payments are temporarily unavailable."})
		case processor.KindTransient:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processor_error", "message": "A temporary error occurred. Please try again."})
		case processor.KindSignature:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "signature verification failed"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": pe.Message})
		}
		return
	}
	var cf usecase.ErrConflict
	if errors.As(err, &cf) {
		// Dangling-subscription and already-confirmed conflicts; distinct from
		// a generic 500 so operators can spot them in client reports.
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": cf.Error()})
		return
	}
	var nf usecase.ErrNotFound
	if errors.As(err, &nf) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": nf.Error()})
		return
	}
	var br usecase.ErrBadRequest
	if errors.As(err, &br) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": br.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Something went wrong. Please try again."})
}
