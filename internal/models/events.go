package models

import "time"

// Event types published to the checkout analytics topic
const (
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypePaymentAttempted = "PAYMENT_ATTEMPTED"
	EventTypePaymentResolved  = "PAYMENT_RESOLVED"
	EventTypePaymentDismissed = "PAYMENT_DISMISSED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when the client creates an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string  `json:"order_id"`
	UserID      string  `json:"user_id"`
	TotalAmount float64 `json:"total_amount"`
	ItemCount   int     `json:"item_count"`
}

// PaymentAttemptedEvent published when a payment attempt starts
type PaymentAttemptedEvent struct {
	BaseEvent
	OrderID          string  `json:"order_id"`
	Path             string  `json:"path"`
	ProcessorOrderID string  `json:"processor_order_id"`
	Amount           float64 `json:"amount"`
}

// PaymentResolvedEvent published when an attempt reaches a terminal outcome
type PaymentResolvedEvent struct {
	BaseEvent
	OrderID             string `json:"order_id"`
	Status              string `json:"status"`
	ProcessorPaymentID  string `json:"processor_payment_id,omitempty"`
	VerificationPending bool   `json:"verification_pending"`
	Reason              string `json:"reason,omitempty"`
}

// PaymentDismissedEvent published when the user abandons the gateway flow
type PaymentDismissedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
}
