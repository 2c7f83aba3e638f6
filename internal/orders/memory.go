package orders

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps orders in process. It has no native conditional write, so
// every transition runs under one mutex. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	orders  map[string]Order
	keys    map[string]string // idempotency key -> order id
	lastID  int64
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  map[string]Order{},
		keys:    map[string]string{},
		nowFunc: time.Now,
	}
}

// Put stores or replaces an order as is.
func (m *MemoryStore) Put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
	if id, err := strconv.ParseInt(o.OrderID, 10, 64); err == nil && id > m.lastID {
		m.lastID = id
	}
}

// Get returns a copy of the order or (nil, nil).
func (m *MemoryStore) Get(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// ApplyTransition has the same contract as Store.ApplyTransition.
func (m *MemoryStore) ApplyTransition(ctx context.Context, orderID string, t Transition) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.PaymentStatus != t.FromPayment || (t.FromStatus != "" && o.Status != t.FromStatus) {
		return &o, ErrStatusMismatch
	}

	now := m.nowFunc().UTC()
	o.PaymentStatus = t.ToPayment
	if t.ToPayment == PaymentPaid {
		o.PaidAt = &now
	}
	if t.Method != "" {
		o.PaymentMethod = t.Method
	}
	if t.FromStatus != "" {
		o.Status = t.ToStatus
	}
	o.UpdatedAt = now
	m.orders[orderID] = o
	return &o, nil
}

// Place implements Checkout.
func (m *MemoryStore) Place(ctx context.Context, idempotencyKey string, o Order) (Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.keys[idempotencyKey]; ok {
		return Placement{Order: m.orders[id], Replayed: true}, nil
	}

	m.lastID++
	now := m.nowFunc().UTC()
	o.OrderID = strconv.FormatInt(m.lastID, 10)
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending
	o.CreatedAt = now
	o.UpdatedAt = now
	m.orders[o.OrderID] = o
	m.keys[idempotencyKey] = o.OrderID
	return Placement{Order: o}, nil
}
