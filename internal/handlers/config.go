package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/esim-settlement/internal/events"
	"github.com/imrishuroy/esim-settlement/internal/metrics"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/payments"
)

// RequestIDHeader carries the correlation id in and out of the API.
const RequestIDHeader = "X-Request-Id"

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Checkout    orders.Checkout
	Orders      orders.Repository
	Reconciler  *orders.Reconciler
	Builder     *payments.Builder
	Verifier    *payments.Verifier
	Metrics     metrics.Recorder
	Logger      *slog.Logger
	StoreDomain string // public storefront host used for gateway return URLs
}

func (cfg HandlerConfig) logger() *slog.Logger {
	if cfg.Logger == nil {
		return slog.Default()
	}
	return cfg.Logger
}

func (cfg HandlerConfig) recorder() metrics.Recorder {
	if cfg.Metrics == nil {
		return metrics.Nop{}
	}
	return cfg.Metrics
}

// Correlation propagates X-Request-Id, generating one when absent, onto the
// request context and the response.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(events.WithCorrelationID(c.Request.Context(), id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
