package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/imrishuroy/esim-settlement/internal/idempotency"
)

// Placement is the result of placing an order.
type Placement struct {
	Order    Order
	Replayed bool // true when the idempotency key was seen before
}

// Checkout creates pending orders under a client idempotency key.
type Checkout interface {
	Place(ctx context.Context, idempotencyKey string, o Order) (Placement, error)
}

// DynamoCheckout allocates ids from a Sequence and writes the order together
// with its idempotency record in one transaction.
type DynamoCheckout struct {
	store      *Store
	seq        *Sequence
	idemp      *idempotency.Store
	idempTable string
	ttlWindow  time.Duration
	nowFunc    func() time.Time
}

// NewDynamoCheckout wires a DynamoCheckout.
func NewDynamoCheckout(store *Store, seq *Sequence, idemp *idempotency.Store, idempTable string, ttlWindow time.Duration) *DynamoCheckout {
	return &DynamoCheckout{
		store:      store,
		seq:        seq,
		idemp:      idemp,
		idempTable: idempTable,
		ttlWindow:  ttlWindow,
		nowFunc:    time.Now,
	}
}

// Place implements Checkout.
func (c *DynamoCheckout) Place(ctx context.Context, idempotencyKey string, o Order) (Placement, error) {
	if p, ok, err := c.replay(ctx, idempotencyKey); err != nil || ok {
		return p, err
	}

	id, err := c.seq.Next(ctx)
	if err != nil {
		return Placement{}, err
	}

	now := c.nowFunc().UTC()
	o.OrderID = strconv.FormatInt(id, 10)
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending
	o.CreatedAt = now

	rec := idempotency.IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		Status:         idempotency.StatusDone,
		OrderID:        o.OrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(c.ttlWindow).Unix(),
	}

	err = c.store.CreateWithIdempotencyTransaction(ctx, c.idempTable, rec, o)
	if errors.Is(err, ErrIdempotencyConflict) {
		// a concurrent request with the same key won; the id we drew is burned
		p, ok, rerr := c.replay(ctx, idempotencyKey)
		if rerr != nil {
			return Placement{}, rerr
		}
		if ok {
			return p, nil
		}
		return Placement{}, err
	}
	if err != nil {
		return Placement{}, err
	}

	stored, err := c.store.Get(ctx, o.OrderID)
	if err != nil || stored == nil {
		o.UpdatedAt = now
		return Placement{Order: o}, nil
	}
	return Placement{Order: *stored}, nil
}

func (c *DynamoCheckout) replay(ctx context.Context, key string) (Placement, bool, error) {
	rec, err := c.idemp.Get(ctx, key)
	if err != nil {
		return Placement{}, false, fmt.Errorf("idempotency check: %w", err)
	}
	if rec == nil {
		return Placement{}, false, nil
	}
	o, err := c.store.Get(ctx, rec.OrderID)
	if err != nil {
		return Placement{}, false, err
	}
	if o == nil {
		return Placement{}, false, fmt.Errorf("idempotency key %s references missing order %s", key, rec.OrderID)
	}
	return Placement{Order: *o, Replayed: true}, true, nil
}
