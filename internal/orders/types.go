package orders

import (
	"errors"
	"time"
)

// Order statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// MethodRobokassa is recorded on orders settled through the hosted payment page.
const MethodRobokassa = "robokassa"

var (
	// ErrNotFound means no order matches the id.
	ErrNotFound = errors.New("order not found")
	// ErrStatusMismatch means a conditional transition found the order in another state.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderExists means an order with the same id is already stored.
	ErrOrderExists = errors.New("order already exists")
	// ErrIdempotencyConflict means the idempotency key was used by a concurrent request.
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID       string     `dynamodbav:"order_id" json:"order_id"` // PK, positive integer as decimal string
	Amount        string     `dynamodbav:"amount" json:"amount"`     // major currency units, e.g. "500.00"
	Currency      string     `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	Status        string     `dynamodbav:"status" json:"status"`
	PaymentStatus string     `dynamodbav:"payment_status" json:"payment_status"`
	PaymentMethod string     `dynamodbav:"payment_method,omitempty" json:"payment_method,omitempty"`
	CustomerEmail string     `dynamodbav:"customer_email,omitempty" json:"customer_email,omitempty"`
	PackageID     string     `dynamodbav:"package_id,omitempty" json:"package_id,omitempty"`
	PlanName      string     `dynamodbav:"plan_name,omitempty" json:"plan_name,omitempty"`
	PaidAt        *time.Time `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt     time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	Attempts      int        `dynamodbav:"attempts,omitempty" json:"-"`
}

// Transition is a compare-and-swap on the payment status and, optionally, the
// order status. Both expected values must hold for the write to apply.
type Transition struct {
	FromPayment string
	ToPayment   string
	FromStatus  string // empty leaves status out of the condition and the update
	ToStatus    string
	Method      string // recorded as payment_method when set
}

var (
	// settle is the server-notification transition.
	settle = Transition{
		FromPayment: PaymentPending,
		ToPayment:   PaymentPaid,
		Method:      MethodRobokassa,
	}
	// settleAndProcess is the browser-return transition.
	settleAndProcess = Transition{
		FromPayment: PaymentPending,
		ToPayment:   PaymentPaid,
		FromStatus:  StatusPending,
		ToStatus:    StatusProcessing,
		Method:      MethodRobokassa,
	}
)
