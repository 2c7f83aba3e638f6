package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/esim-settlement/internal/metrics"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/payments"
	"github.com/imrishuroy/esim-settlement/internal/validation"
)

// Storefront pages the shopper is sent back to.
const (
	successPage = "/payment/success"
	failedPage  = "/payment/failed"
)

// Reasons reported to the failure page.
const (
	reasonInvalidSignature = "invalid_signature"
	reasonProcessingError  = "processing_error"
	reasonCancelled        = "payment_cancelled"
)

type callbacks struct {
	verifier   *payments.Verifier
	reconciler *orders.Reconciler
	metrics    metrics.Recorder
	log        *slog.Logger
	validate   *validatorv10.Validate
	tracer     trace.Tracer
}

// result handles the gateway's server-to-server notification. The gateway
// treats anything but "OK<InvId>" as a failed delivery and retries.
func (h *callbacks) result(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "RobokassaResult")
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("result callback panicked", "panic", rec)
			h.metrics.Incr(ctx, metrics.ResultError)
			c.String(http.StatusInternalServerError, "error")
		}
	}()

	var n payments.Notification
	if err := validation.Bind(c, &n, h.validate); err != nil {
		h.log.Warn("result callback malformed", "err", err)
		h.metrics.Incr(ctx, metrics.ResultBadSignature)
		c.String(http.StatusBadRequest, "bad sign")
		return
	}

	log := h.log.With("order_id", n.OrderID(), "out_sum", n.Amount())
	span.SetAttributes(attribute.String("order_id", n.OrderID()))
	if err := h.verifier.VerifyResult(ctx, n); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if isRejected(err) {
			log.Warn("result callback rejected", "err", err)
			h.metrics.Incr(ctx, metrics.ResultBadSignature)
			c.String(http.StatusBadRequest, "bad sign")
			return
		}
		log.Error("result callback verification failed", "err", err)
		h.metrics.Incr(ctx, metrics.ResultError)
		c.String(http.StatusInternalServerError, "error")
		return
	}

	out, err := h.reconciler.MarkPaid(ctx, n.OrderID())
	if err != nil {
		span.RecordError(err)
		log.Error("result callback settlement failed", "err", err)
		h.metrics.Incr(ctx, metrics.ResultError)
		c.String(http.StatusInternalServerError, "error")
		return
	}
	if !out.Found {
		log.Warn("result callback for unknown order")
	}
	span.SetAttributes(attribute.Bool("transitioned", out.Transitioned))

	h.metrics.Incr(ctx, metrics.ResultAcknowledged)
	c.String(http.StatusOK, "OK"+n.OrderID())
}

// success handles the shopper's browser return after payment.
func (h *callbacks) success(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "RobokassaSuccess")
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("success callback panicked", "panic", rec)
			h.metrics.Incr(ctx, metrics.SuccessError)
			redirectFailed(c, reasonProcessingError, "")
		}
	}()

	var n payments.Notification
	if err := validation.Bind(c, &n, h.validate); err != nil {
		h.log.Warn("success callback malformed", "err", err)
		h.metrics.Incr(ctx, metrics.SuccessBadSignature)
		redirectFailed(c, reasonInvalidSignature, "")
		return
	}

	log := h.log.With("order_id", n.OrderID(), "out_sum", n.Amount())
	span.SetAttributes(attribute.String("order_id", n.OrderID()))
	variant, err := h.verifier.VerifySuccess(ctx, n)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if isRejected(err) {
			log.Warn("success callback rejected", "err", err)
			h.metrics.Incr(ctx, metrics.SuccessBadSignature)
			redirectFailed(c, reasonInvalidSignature, "")
			return
		}
		log.Error("success callback verification failed", "err", err)
		h.metrics.Incr(ctx, metrics.SuccessError)
		redirectFailed(c, reasonProcessingError, "")
		return
	}
	log.Debug("success signature verified", "variant", variant.Name)
	span.SetAttributes(attribute.String("signature_variant", variant.Name))

	out, err := h.reconciler.MarkPaidAndProcessing(ctx, n.OrderID())
	if err != nil {
		span.RecordError(err)
		log.Error("success callback settlement failed", "err", err)
		h.metrics.Incr(ctx, metrics.SuccessError)
		redirectFailed(c, reasonProcessingError, "")
		return
	}

	q := url.Values{}
	q.Set("order", n.OrderID())
	q.Set("amount", n.Amount())
	q.Set("payment_method", orders.MethodRobokassa)
	if out.Found {
		setIf(q, "plan_id", out.Order.PackageID)
		setIf(q, "email", out.Order.CustomerEmail)
		setIf(q, "name", out.Order.PlanName)
	} else {
		// the payment is genuine; the shopper still sees the success page
		log.Warn("success callback for unknown order")
		h.metrics.Incr(ctx, metrics.SuccessOrderNotFound)
	}

	h.metrics.Incr(ctx, metrics.SuccessRedirected)
	c.Redirect(http.StatusFound, successPage+"?"+q.Encode())
}

// fail handles the gateway's return when the shopper cancels. It never
// touches the order.
func (h *callbacks) fail(c *gin.Context) {
	invID := c.Query("InvId")
	if invID == "" {
		invID = c.PostForm("InvId")
	}
	h.log.Info("payment cancelled by shopper", "order_id", invID)
	redirectFailed(c, reasonCancelled, invID)
}

func redirectFailed(c *gin.Context, reason, orderID string) {
	q := url.Values{}
	q.Set("reason", reason)
	setIf(q, "order", orderID)
	c.Redirect(http.StatusFound, failedPage+"?"+q.Encode())
}

func setIf(q url.Values, k, v string) {
	if v != "" {
		q.Set(k, v)
	}
}

func isRejected(err error) bool {
	return errors.Is(err, payments.ErrBadSignature) || errors.Is(err, payments.ErrMalformedNotification)
}
