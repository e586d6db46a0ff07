package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/domain"
	"storefront-backend/internal/pricing"
	"storefront-backend/internal/usecase"
)

type createPaymentReq struct {
	Items    []pricing.LineItem `json:"items" binding:"required,min=1"`
	Customer domain.Customer    `json:"customer" binding:"required"`
	Shipping domain.Address     `json:"shippingAddress" binding:"required"`
	Billing  *domain.Address    `json:"billingAddress"`
	// Summary is client-computed display data; charging always uses the
	// server-side quote.
	Summary             *domain.OrderSummary `json:"summary"`
	PaymentToken        string               `json:"paymentToken"`
	PromotionCode       string               `json:"promotionCode"`
	SpecialInstructions string               `json:"specialInstructions"`
}

func (s *Server) handleCreatePaymentIntent(c *gin.Context) {
	var req createPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, usecase.ValidationError{"body": "invalid request body"})
		return
	}
	res, err := s.payments.CreatePayment(c.Request.Context(), usecase.CreatePaymentRequest{
		Items:               req.Items,
		Customer:            req.Customer,
		ShippingAddress:     req.Shipping,
		BillingAddress:      req.Billing,
		Token:               req.PaymentToken,
		PromotionCode:       req.PromotionCode,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if res.FreeOrder {
		token, _ := s.tokens.IssueOrderToken(res.Order.OrderID, res.Order.Customer.Email)
		c.JSON(http.StatusOK, gin.H{
			"freeOrder":  true,
			"orderId":    res.Order.OrderID,
			"amount":     int64(0),
			"orderToken": token,
		})
		return
	}
	resp := gin.H{
		"paymentIntentId": res.Intent.ID,
		"amount":          res.Intent.AmountCents,
		"orderId":         res.Order.OrderID,
	}
	if res.Intent.ClientSecret != "" {
		resp["clientSecret"] = res.Intent.ClientSecret
	}
	if res.Intent.ApproveURL != "" {
		resp["approveUrl"] = res.Intent.ApproveURL
	}
	c.JSON(http.StatusOK, resp)
}

type confirmPaymentReq struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

func (s *Server) handleConfirmPayment(c *gin.Context) {
	var req confirmPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, usecase.ValidationError{"paymentIntentId": "paymentIntentId required"})
		return
	}
	res, err := s.confirms.ConfirmPayment(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	switch res.Outcome {
	case usecase.OutcomeSucceeded:
		token, _ := s.tokens.IssueOrderToken(res.Order.OrderID, res.Order.Customer.Email)
		resp := gin.H{
			"success":    true,
			"orderId":    res.Order.OrderID,
			"orderToken": token,
		}
		if res.Intent.MethodBrand != "" {
			resp["paymentMethod"] = gin.H{"brand": res.Intent.MethodBrand, "last4": res.Intent.MethodLast4}
		}
		c.JSON(http.StatusOK, resp)
	case usecase.OutcomeTimedOut:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"status":  "processing",
			"message": "Your payment is still processing. Please check your email for confirmation.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "unexpected confirmation outcome"})
	}
}

type cancelPaymentReq struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

func (s *Server) handleCancelPayment(c *gin.Context) {
	var req cancelPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, usecase.ValidationError{"paymentIntentId": "paymentIntentId required"})
		return
	}
	if err := s.payments.CancelPayment(c.Request.Context(), req.PaymentIntentID); err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": true})
}

type createSubscriptionReq struct {
	PriceID       string          `json:"priceId" binding:"required"`
	Customer      domain.Customer `json:"customer" binding:"required"`
	Shipping      domain.Address  `json:"shippingAddress" binding:"required"`
	PromotionCode string          `json:"promotionCode"`
}

func (s *Server) handleCreateSubscription(c *gin.Context) {
	var req createSubscriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, usecase.ValidationError{"body": "invalid request body"})
		return
	}
	res, err := s.payments.CreateSubscription(c.Request.Context(), usecase.CreateSubscriptionRequest{
		PriceID:         req.PriceID,
		Customer:        req.Customer,
		ShippingAddress: req.Shipping,
		PromotionCode:   req.PromotionCode,
	})
	if err != nil {
		s.writeErr(c, err)
		return
	}
	resp := gin.H{
		"subscriptionId": res.Subscription.ID,
		"customerId":     res.Subscription.CustomerID,
		"status":         string(res.Subscription.Status),
		"orderId":        res.Order.OrderID,
	}
	if res.ClientSecret != "" {
		resp["clientSecret"] = res.ClientSecret
	}
	c.JSON(http.StatusOK, resp)
}

type confirmSubscriptionReq struct {
	SubscriptionID string `json:"subscriptionId" binding:"required"`
	CustomerID     string `json:"customerId"`
}

func (s *Server) handleConfirmSubscription(c *gin.Context) {
	var req confirmSubscriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, usecase.ValidationError{"subscriptionId": "subscriptionId required"})
		return
	}
	res, err := s.confirms.ConfirmSubscription(c.Request.Context(), req.SubscriptionID)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	switch res.Outcome {
	case usecase.OutcomeSucceeded:
		token, _ := s.tokens.IssueOrderToken(res.Order.OrderID, res.Order.Customer.Email)
		c.JSON(http.StatusOK, gin.H{
			"status":           string(res.Subscription.Status),
			"orderId":          res.Order.OrderID,
			"currentPeriodEnd": res.Subscription.CurrentPeriodEnd.Format(time.RFC3339),
			"orderToken":       token,
		})
	case usecase.OutcomeTimedOut:
		c.JSON(http.StatusOK, gin.H{
			"status":  "processing",
			"message": "Your subscription is still being set up. Please check your email for confirmation.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "unexpected confirmation outcome"})
	}
}

type verifyPromoReq struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) handleVerifyPromo(c *gin.Context) {
	var req verifyPromoReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, usecase.ValidationError{"code": "code required"})
		return
	}
	promo, err := s.payments.VerifyPromo(c.Request.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		// An unknown or unusable code is a negative answer, not an error.
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "discount": promo.Description})
}

// handleWebhook verifies the processor signature over the exact bytes
// received, then applies the event. The body must reach verification
// untransformed. Internally handled errors still return {received:true} so
// the processor does not retry non-retryable conditions; only signature
// failures return 4xx.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": "unable to read body"})
		return
	}
	ev, err := s.provider.VerifyWebhook(c.Request.Header, body)
	if err != nil {
		s.audit.Error(audit.EventSignatureRejected, "provider", s.provider.Name(), "err", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "signature verification failed"})
		return
	}
	if err := s.confirms.HandleWebhookEvent(ev); err != nil {
		s.audit.Error(audit.EventWebhookReceived, "eventId", ev.ID, "err", err.Error())
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id := c.Param("id")
	auth := c.GetHeader("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "order token required"})
		return
	}
	orderID, _, err := s.tokens.VerifyOrderToken(token)
	if err != nil || orderID != id {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "order token invalid"})
		return
	}
	order, ok := s.orders.GetOrder(id)
	if !ok {
		s.writeErr(c, usecase.ErrNotFound("order"))
		return
	}
	c.JSON(http.StatusOK, order)
}
