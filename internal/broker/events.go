package broker

import (
	"context"
	"fmt"

	"storefront-client/internal/models"
)

// EventPublisher publishes checkout analytics events, keyed by order so
// consumers see one order's events in sequence
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentAttempted publishes PaymentAttempted event
func (ep *EventPublisher) PublishPaymentAttempted(ctx context.Context, event *models.PaymentAttemptedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentResolved publishes PaymentResolved event
func (ep *EventPublisher) PublishPaymentResolved(ctx context.Context, event *models.PaymentResolvedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentDismissed publishes PaymentDismissed event
func (ep *EventPublisher) PublishPaymentDismissed(ctx context.Context, event *models.PaymentDismissedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order-%s", orderID)
}
