package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/imrishuroy/esim-settlement/internal/metrics"
)

// Repository is the order storage the reconciler needs. ApplyTransition must be
// a single atomic conditional write.
type Repository interface {
	Get(ctx context.Context, orderID string) (*Order, error)
	ApplyTransition(ctx context.Context, orderID string, t Transition) (*Order, error)
}

// Notifier is told about every effective pending -> paid transition.
type Notifier interface {
	OrderPaid(ctx context.Context, o Order) error
}

// Outcome reports what a settlement call did. Found is false when no order
// matches the id; Transitioned is true only for the call that moved the order.
type Outcome struct {
	Order        *Order
	Found        bool
	Transitioned bool
}

// Reconciler applies gateway settlements to stored orders. Repeated or
// concurrent calls for the same order transition it at most once.
type Reconciler struct {
	repo    Repository
	notify  Notifier
	metrics metrics.Recorder
	log     *slog.Logger
}

// NewReconciler returns a Reconciler. notify may be nil.
func NewReconciler(repo Repository, notify Notifier, rec metrics.Recorder, log *slog.Logger) *Reconciler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Reconciler{repo: repo, notify: notify, metrics: rec, log: log}
}

// MarkPaid moves payment_status pending -> paid. Used by the server-notification channel.
func (r *Reconciler) MarkPaid(ctx context.Context, orderID string) (Outcome, error) {
	return r.apply(ctx, orderID, settle)
}

// MarkPaidAndProcessing moves payment_status pending -> paid and status
// pending -> processing. If the status has already left pending while the
// payment is still open, only the payment is settled.
func (r *Reconciler) MarkPaidAndProcessing(ctx context.Context, orderID string) (Outcome, error) {
	out, err := r.apply(ctx, orderID, settleAndProcess)
	if err != nil || !out.Found || out.Transitioned {
		return out, err
	}
	if out.Order.PaymentStatus == PaymentPending {
		return r.apply(ctx, orderID, settle)
	}
	return out, nil
}

func (r *Reconciler) apply(ctx context.Context, orderID string, t Transition) (Outcome, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Outcome{}, nil
	}

	o, err := r.repo.ApplyTransition(ctx, orderID, t)
	switch {
	case err == nil:
		r.log.Info("order paid", "order_id", orderID, "status", o.Status, "payment_status", o.PaymentStatus)
		r.metrics.Incr(ctx, metrics.OrderPaid)
		r.paid(ctx, *o)
		return Outcome{Order: o, Found: true, Transitioned: true}, nil

	case errors.Is(err, ErrNotFound):
		r.log.Warn("settlement for unknown order", "order_id", orderID)
		return Outcome{}, nil

	case errors.Is(err, ErrStatusMismatch):
		switch o.PaymentStatus {
		case PaymentPaid:
			r.log.Info("order already paid, settlement is a no-op", "order_id", orderID)
			r.metrics.Incr(ctx, metrics.DuplicateSettlement)
		case PaymentPending:
			// status precondition failed; caller decides
		default:
			r.log.Warn("settlement ignored for order in payment state",
				"order_id", orderID, "payment_status", o.PaymentStatus, "status", o.Status)
		}
		return Outcome{Order: o, Found: true}, nil

	default:
		return Outcome{}, fmt.Errorf("settle order %s: %w", orderID, err)
	}
}

func (r *Reconciler) paid(ctx context.Context, o Order) {
	if r.notify == nil {
		return
	}
	if err := r.notify.OrderPaid(ctx, o); err != nil {
		// the transition stands; provisioning has to be replayed from the order state
		r.log.Error("order paid notification failed", "order_id", o.OrderID, "err", err)
		r.metrics.Incr(ctx, metrics.PublishFailed)
	}
}
