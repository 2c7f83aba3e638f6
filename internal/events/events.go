package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/tracing"
)

// TypeOrderPaid is the event type published after an order is settled.
const TypeOrderPaid = "order.paid"

// OrderPaid is the payload sent from the reconciler -> SQS -> provisioning worker.
type OrderPaid struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	PackageID     string    `json:"package_id,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	PaidAt        time.Time `json:"paid_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Sender sends a message body with string attributes.
type Sender interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string) error
}

type correlationKey struct{}

// WithCorrelationID stores the request correlation id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Notifier publishes order.paid events. It implements orders.Notifier.
type Notifier struct {
	sender  Sender
	nowFunc func() time.Time
}

// NewNotifier returns a Notifier over sender.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender, nowFunc: time.Now}
}

// OrderPaid implements orders.Notifier.
func (n *Notifier) OrderPaid(ctx context.Context, o orders.Order) error {
	ev := NewOrderPaid(o, n.nowFunc())
	ev.CorrelationID = CorrelationID(ctx)

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", TypeOrderPaid, err)
	}
	attrs := tracing.InjectAttributes(ctx, map[string]string{
		"event_type":     ev.Type,
		"order_id":       ev.OrderID,
		"correlation_id": ev.CorrelationID,
	})
	return n.sender.Send(ctx, string(body), attrs)
}

// NewOrderPaid builds the event for o with a fresh event id.
func NewOrderPaid(o orders.Order, now time.Time) OrderPaid {
	paidAt := now.UTC()
	if o.PaidAt != nil {
		paidAt = o.PaidAt.UTC()
	}
	return OrderPaid{
		EventID:       uuid.NewString(),
		Type:          TypeOrderPaid,
		OrderID:       o.OrderID,
		PackageID:     o.PackageID,
		CustomerEmail: o.CustomerEmail,
		Amount:        o.Amount,
		Currency:      o.Currency,
		PaidAt:        paidAt,
	}
}
