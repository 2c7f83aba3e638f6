package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/esim-settlement/internal/events"
	"github.com/imrishuroy/esim-settlement/internal/idempotency"
	"github.com/imrishuroy/esim-settlement/internal/metrics"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/tracing"
)

// Provisioner issues the eSIM for a paid order.
type Provisioner interface {
	Provision(ctx context.Context, ev events.OrderPaid) error
}

// logProvisioner only records the request; the carrier integration lives elsewhere.
type logProvisioner struct {
	log *slog.Logger
}

func (p logProvisioner) Provision(ctx context.Context, ev events.OrderPaid) error {
	p.log.Info("provisioning esim", "order_id", ev.OrderID, "package_id", ev.PackageID)
	return nil
}

// Processor handles order.paid messages and drives the order to completed.
type Processor struct {
	idempStore *idempotency.Store
	orderStore *orders.Store
	provision  Provisioner
	metrics    metrics.Recorder
	log        *slog.Logger
	tracer     trace.Tracer
}

// NewProcessor creates a new worker processor.
func NewProcessor(idemp *idempotency.Store, store *orders.Store, prov Provisioner, rec metrics.Recorder, log *slog.Logger) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Processor{
		idempStore: idemp,
		orderStore: store,
		provision:  prov,
		metrics:    rec,
		log:        log,
		tracer:     otel.Tracer("provisioning-worker"),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.log.Error("worker error", "message_id", rec.MessageId, "err", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec lambdaevents.SQSMessage) error {
	ctx, span := p.tracer.Start(tracing.ExtractAttributes(ctx, stringAttributes(rec)), "ProvisionPaidOrder")
	defer span.End()

	var msg events.OrderPaid
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.EventID == "" || msg.OrderID == "" {
		return fmt.Errorf("invalid message body: event_id and order_id are required")
	}

	log := p.log.With("order_id", msg.OrderID, "event_id", msg.EventID, "correlation_id", msg.CorrelationID)
	ctx = events.WithCorrelationID(ctx, msg.CorrelationID)

	created, err := p.idempStore.CreateIfNotExists(ctx, msg.EventID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !created {
		prev, err := p.idempStore.Get(ctx, msg.EventID)
		if err != nil {
			return fmt.Errorf("idempotency check: %w", err)
		}
		if prev != nil && prev.Status != idempotency.StatusInProgress {
			log.Info("duplicate event skipped", "previous_status", prev.Status)
			return nil
		}
		// an earlier delivery died midway; the status steps below are safe to repeat
	}

	order, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order not found: %s", msg.OrderID)
	}
	if order.PaymentStatus != orders.PaymentPaid {
		log.Error("order is not paid, refusing to provision", "payment_status", order.PaymentStatus)
		return p.idempStore.MarkFailed(ctx, msg.EventID, "order not paid: "+order.PaymentStatus)
	}

	// pending -> processing; the browser return may already have done this
	err = p.orderStore.UpdateStatus(ctx, msg.OrderID, orders.StatusPending, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		current, gerr := p.orderStore.Get(ctx, msg.OrderID)
		if gerr != nil {
			return fmt.Errorf("failed to fetch order: %w", gerr)
		}
		if current == nil {
			return fmt.Errorf("order not found: %s", msg.OrderID)
		}
		switch current.Status {
		case orders.StatusProcessing:
		case orders.StatusCompleted:
			log.Info("order already completed")
			return p.done(ctx, msg.EventID, msg.OrderID)
		default:
			log.Error("order cannot be provisioned", "status", current.Status)
			return p.idempStore.MarkFailed(ctx, msg.EventID, "order status "+current.Status)
		}
	} else if err != nil {
		return fmt.Errorf("failed to update status to processing: %w", err)
	}

	if err := p.orderStore.IncrementAttempts(ctx, msg.OrderID); err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}

	if err := p.provision.Provision(ctx, msg); err != nil {
		return fmt.Errorf("provision order %s: %w", msg.OrderID, err)
	}

	err = p.orderStore.UpdateStatus(ctx, msg.OrderID, orders.StatusProcessing, orders.StatusCompleted)
	if err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
		return fmt.Errorf("failed to update status to completed: %w", err)
	}

	p.metrics.Incr(ctx, metrics.OrderProvisioned)
	log.Info("order completed")
	return p.done(ctx, msg.EventID, msg.OrderID)
}

func (p *Processor) done(ctx context.Context, eventID, orderID string) error {
	response := fmt.Sprintf(`{"order_id":%q,"status":%q}`, orderID, orders.StatusCompleted)
	if err := p.idempStore.MarkDone(ctx, eventID, response, http.StatusOK); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	return nil
}

func stringAttributes(rec lambdaevents.SQSMessage) map[string]string {
	out := make(map[string]string, len(rec.MessageAttributes))
	for k, v := range rec.MessageAttributes {
		if v.StringValue != nil {
			out[k] = *v.StringValue
		}
	}
	return out
}
