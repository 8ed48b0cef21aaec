package models

import "time"

// Product represents a product in the remote catalog
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// CartItem is a cart line as returned by the cart endpoint
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Order is the server-side record of a checkout attempt. The client
// never writes Status; it only observes it.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"totalAmount"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// OrderItem is a line item snapshotted at order creation time
type OrderItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// PaymentIntent is the processor-side handle issued per payment attempt
type PaymentIntent struct {
	ID               string  `json:"id,omitempty"`
	OrderID          string  `json:"orderId"`
	ProcessorOrderID string  `json:"razorpayOrderId"`
	Amount           float64 `json:"amount"`
	Status           string  `json:"status,omitempty"`
}

// Order statuses. Valid transitions: CREATED -> PAID, CREATED -> FAILED.
const (
	OrderStatusCreated = "CREATED"
	OrderStatusPaid    = "PAID"
	OrderStatusFailed  = "FAILED"
)

// IsTerminalOrderStatus reports whether no further transitions are possible
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusPaid || status == OrderStatusFailed
}

// Payment statuses
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// Payment modes accepted by the payment-creation endpoint
const (
	PaymentModeMock     = "MOCK"
	PaymentModeRazorpay = "RAZORPAY"
)
