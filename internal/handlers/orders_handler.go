package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/payments"
	"github.com/imrishuroy/esim-settlement/internal/validation"
)

const defaultCurrency = "RUB"

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := cfg.logger()

	r.POST("/api/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		amount, err := payments.FormatAmount(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
			return
		}
		currency := strings.ToUpper(req.Currency)
		if currency == "" {
			currency = defaultCurrency
		}

		p, err := cfg.Checkout.Place(ctx, idempKey, orders.Order{
			Amount:        amount,
			Currency:      currency,
			CustomerEmail: req.CustomerEmail,
			PackageID:     req.PackageID,
			PlanName:      req.PlanName,
		})
		if err != nil {
			log.Error("checkout failed", "idempotency_key", idempKey, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed"})
			return
		}

		status := http.StatusCreated
		if p.Replayed {
			status = http.StatusOK
		} else {
			log.Info("order placed", "order_id", p.Order.OrderID, "amount", p.Order.Amount)
		}
		c.Header("Location", "/api/orders/"+p.Order.OrderID)
		c.JSON(status, p.Order)
	})

	r.GET("/api/orders/:id", func(c *gin.Context) {
		id, err := payments.ParseOrderID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order_id"})
			return
		}
		o, err := cfg.Orders.Get(c.Request.Context(), id)
		if err != nil {
			log.Error("order lookup failed", "order_id", id, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return
		}
		if o == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, o)
	})
}
