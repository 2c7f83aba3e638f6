package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/imrishuroy/esim-settlement/internal/gatewaycfg"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/payments"
	"github.com/imrishuroy/esim-settlement/internal/validation"
)

// RegisterPaymentRoutes registers payment init and the gateway callbacks.
func RegisterPaymentRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := cfg.logger()
	cb := &callbacks{
		verifier:   cfg.Verifier,
		reconciler: cfg.Reconciler,
		metrics:    cfg.recorder(),
		log:        log,
		validate:   v,
		tracer:     otel.Tracer("payments-callbacks"),
	}

	r.POST("/api/payments/robokassa", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.InitPaymentRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		id, err := payments.ParseOrderID(req.OrderID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order_id"})
			return
		}
		o, err := cfg.Orders.Get(ctx, id)
		if err != nil {
			log.Error("order lookup failed", "order_id", id, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return
		}
		if o == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		if o.PaymentStatus != orders.PaymentPending {
			c.JSON(http.StatusConflict, gin.H{"error": "order_not_payable", "payment_status": o.PaymentStatus})
			return
		}

		desc := strings.TrimSpace(req.Description)
		if desc == "" {
			desc = o.PlanName
		}
		redirect, err := cfg.Builder.Build(ctx, payments.Request{
			OrderID:       o.OrderID,
			Amount:        o.Amount,
			Description:   desc,
			CustomerEmail: o.CustomerEmail,
			Domain:        cfg.StoreDomain,
		})
		if err != nil {
			status, code := initError(err)
			log.Warn("payment init rejected", "order_id", id, "err", err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": o.OrderID, "redirect_url": redirect})
	})

	r.POST("/api/payments/robokassa/result", cb.result)
	r.GET("/api/payments/robokassa/result", cb.result)
	r.GET("/api/payments/robokassa/success", cb.success)
	r.POST("/api/payments/robokassa/success", cb.success)
	r.GET("/api/payments/robokassa/fail", cb.fail)
	r.POST("/api/payments/robokassa/fail", cb.fail)
}

func initError(err error) (int, string) {
	switch {
	case errors.Is(err, payments.ErrInvalidOrderID):
		return http.StatusBadRequest, "invalid_order_id"
	case errors.Is(err, payments.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, payments.ErrMissingDomain):
		return http.StatusBadRequest, "missing_domain"
	case errors.Is(err, gatewaycfg.ErrConfigurationUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	default:
		return http.StatusInternalServerError, "payment_init_failed"
	}
}
