package validation

// CreateOrderRequest is the payload for POST /api/orders
type CreateOrderRequest struct {
	PackageID     string `json:"package_id" validate:"required"`
	PlanName      string `json:"plan_name" validate:"required,max=200"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	Amount        string `json:"amount" validate:"required,amount"` // major units, e.g. "500" or "499.99"
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
}

// InitPaymentRequest is the payload for POST /api/payments/robokassa
type InitPaymentRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	Description string `json:"description" validate:"omitempty,max=500"`
}
