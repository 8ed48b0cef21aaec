package checkout

import (
	"context"
	"fmt"
	"time"

	"storefront-client/internal/api"
	"storefront-client/internal/gateway"
	"storefront-client/internal/models"
	"storefront-client/internal/util"

	"go.uber.org/zap"
)

// PollOrderStatus runs the bounded status poll loop for the tracked
// order until it reaches a terminal state, the attempt cap is hit, or
// the attempt is superseded. It is started automatically on the
// simulated path; callers may also invoke it directly as a safety net.
func (c *Coordinator) PollOrderStatus(ctx context.Context, orderID string) error {
	c.mu.Lock()
	att := c.current
	c.mu.Unlock()

	if att == nil || att.order.ID != orderID {
		return fmt.Errorf("order %s is not the tracked order", orderID)
	}

	c.pollUntilTerminal(ctx, att)
	return nil
}

// pollUntilTerminal checks the order's status at a fixed interval.
// Transient fetch errors are logged and the loop keeps going: a network
// blip must not abandon a payment that may still complete. Each tick
// re-checks that att is still the active attempt so superseded loops go
// quiet without an explicit cancel signal.
func (c *Coordinator) pollUntilTerminal(ctx context.Context, att *attempt) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for tick := 0; tick < c.cfg.PollMaxAttempts; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.isCurrent(att) {
			return
		}

		util.PollTicksTotal.Inc()

		order, err := c.api.GetOrder(ctx, att.order.ID)
		if err != nil {
			c.logger.Warn("Order status poll failed, will retry",
				zap.String("order_id", att.order.ID),
				zap.Error(err))
			continue
		}

		switch order.Status {
		case models.OrderStatusPaid:
			c.resolve(att, Outcome{
				OrderID: order.ID,
				Status:  models.OrderStatusPaid,
				Message: "Payment completed",
			})
			return
		case models.OrderStatusFailed:
			c.resolve(att, Outcome{
				OrderID: order.ID,
				Status:  models.OrderStatusFailed,
				Message: "Payment failed",
			})
			return
		}
	}

	util.PollTimeoutsTotal.Inc()
	c.logger.Warn("Order status poll hit attempt cap",
		zap.String("order_id", att.order.ID),
		zap.Int("attempts", c.cfg.PollMaxAttempts))

	c.resolve(att, Outcome{
		OrderID:             att.order.ID,
		Status:              models.OrderStatusCreated,
		Message:             "Payment still pending after polling window; check order status later",
		VerificationPending: true,
	})
}

// HandleGatewaySuccess is invoked when the hosted checkout reports a
// completed payment. The processor's proof is forwarded for server-side
// verification; under the optimistic policy a failed verification call
// still yields a success outcome flagged as pending verification.
func (c *Coordinator) HandleGatewaySuccess(ctx context.Context, payload gateway.SuccessPayload) {
	ctx, span := util.StartSpan(ctx, "Coordinator.HandleGatewaySuccess")
	defer span.End()

	att := c.attemptForIntent(payload.ProcessorOrderID)
	if att == nil {
		c.logger.Info("Ignoring gateway success for stale intent",
			zap.String("processor_order_id", payload.ProcessorOrderID))
		return
	}

	err := c.api.VerifyPayment(ctx, &api.VerifyPaymentRequest{
		OrderID:            att.order.ID,
		ProcessorOrderID:   payload.ProcessorOrderID,
		ProcessorPaymentID: payload.ProcessorPaymentID,
		Signature:          payload.Signature,
	})
	if err == nil {
		c.resolve(att, Outcome{
			OrderID:            att.order.ID,
			Status:             models.OrderStatusPaid,
			ProcessorPaymentID: payload.ProcessorPaymentID,
			Message:            "Payment verified",
		})
		return
	}

	c.logger.Error("Payment verification failed",
		zap.String("order_id", att.order.ID),
		zap.String("processor_payment_id", payload.ProcessorPaymentID),
		zap.Error(err))

	if c.cfg.OptimisticVerify {
		// The processor already confirmed success on its side; trust
		// that signal and flag the missing server verification.
		util.VerifyFallbacksTotal.Inc()
		c.resolve(att, Outcome{
			OrderID:             att.order.ID,
			Status:              models.OrderStatusPaid,
			ProcessorPaymentID:  payload.ProcessorPaymentID,
			Message:             "Payment reported successful; server verification pending",
			VerificationPending: true,
		})
		return
	}

	c.resolve(att, Outcome{
		OrderID:             att.order.ID,
		Status:              models.OrderStatusCreated,
		ProcessorPaymentID:  payload.ProcessorPaymentID,
		Message:             "Payment reported successful but could not be verified",
		VerificationPending: true,
	})
}

// HandleGatewayFailure is invoked when the processor reports a failed
// payment. The failure is surfaced as the terminal negative outcome;
// the server-recorded order status is left to the server.
func (c *Coordinator) HandleGatewayFailure(payload gateway.FailurePayload) {
	att := c.currentAttempt()
	if att == nil {
		return
	}
	c.handleGatewayFailureFor(att, payload)
}

// handleGatewayFailureFor resolves att on a processor-reported failure.
// A superseded attempt's session can still fire this; it must not touch
// whatever attempt replaced it.
func (c *Coordinator) handleGatewayFailureFor(att *attempt, payload gateway.FailurePayload) {
	if !c.isCurrent(att) {
		c.logger.Info("Ignoring gateway failure for superseded attempt",
			zap.String("order_id", att.order.ID))
		return
	}

	message := payload.Description
	if message == "" {
		message = "Payment was not completed"
	}

	c.resolve(att, Outcome{
		OrderID: att.order.ID,
		Status:  models.OrderStatusFailed,
		Message: message,
	})
}

// HandleGatewayDismissal is invoked when the user abandons the checkout
// before completing it. The order stays CREATED and retryable; no
// terminal outcome is delivered.
func (c *Coordinator) HandleGatewayDismissal() {
	att := c.currentAttempt()
	if att == nil {
		return
	}
	c.handleGatewayDismissalFor(att)
}

// handleGatewayDismissalFor clears att on user dismissal. Superseding
// cancels the old session's context, which the gateway reports as a
// dismissal; that late signal belongs to att alone and must not clear
// the attempt that superseded it.
func (c *Coordinator) handleGatewayDismissalFor(att *attempt) {
	c.mu.Lock()
	if c.current != att || att.resolved {
		c.mu.Unlock()
		return
	}
	att.resolved = true
	c.current = nil
	c.mu.Unlock()

	if att.cancel != nil {
		att.cancel()
	}

	util.PaymentsDismissedTotal.Inc()
	c.logger.Info("Payment dismissed by user", zap.String("order_id", att.order.ID))

	c.publishPaymentDismissed(att)

	if c.observer != nil {
		c.observer.PaymentDismissed(att.order.ID)
	}
}

// resolve delivers the terminal outcome for att exactly once. The first
// resolver wins; competing pollers and late callbacks for the same or a
// superseded attempt are no-ops. Only the current attempt may deliver:
// an attempt superseded between its staleness check and this call is
// dropped here.
func (c *Coordinator) resolve(att *attempt, outcome Outcome) {
	c.mu.Lock()
	if att.resolved || c.current != att {
		c.mu.Unlock()
		return
	}
	att.resolved = true
	if c.current == att {
		c.current = nil
	}
	c.mu.Unlock()

	if att.cancel != nil {
		att.cancel()
	}

	util.PaymentsResolvedTotal.WithLabelValues(outcome.Status).Inc()
	c.logger.Info("Payment attempt resolved",
		zap.String("order_id", outcome.OrderID),
		zap.String("status", outcome.Status),
		zap.Bool("verification_pending", outcome.VerificationPending))

	c.recordOutcome(outcome)
	c.publishPaymentResolved(outcome)

	if c.observer != nil {
		c.observer.PaymentResolved(outcome)
	}
}

// isCurrent reports whether att is still the active, unresolved attempt
func (c *Coordinator) isCurrent(att *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == att && !att.resolved
}

func (c *Coordinator) currentAttempt() *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// attemptForIntent returns the current attempt only if it owns the
// given processor order id; late callbacks from superseded intents get
// nil.
func (c *Coordinator) attemptForIntent(processorOrderID string) *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.intent == nil {
		return nil
	}
	if c.current.intent.ProcessorOrderID != processorOrderID {
		return nil
	}
	return c.current
}

func (c *Coordinator) recordOutcome(outcome Outcome) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.RecordOutcome(ctx, outcome); err != nil {
		c.logger.Error("Failed to record payment outcome",
			zap.String("order_id", outcome.OrderID),
			zap.Error(err))
	}
}

func (c *Coordinator) publishPaymentResolved(outcome Outcome) {
	if c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := &models.PaymentResolvedEvent{
		BaseEvent:           newBaseEvent(models.EventTypePaymentResolved),
		OrderID:             outcome.OrderID,
		Status:              outcome.Status,
		ProcessorPaymentID:  outcome.ProcessorPaymentID,
		VerificationPending: outcome.VerificationPending,
		Reason:              outcome.Message,
	}
	if err := c.events.PublishPaymentResolved(ctx, event); err != nil {
		c.logger.Error("Failed to publish PaymentResolved event", zap.Error(err))
	}
}

func (c *Coordinator) publishPaymentDismissed(att *attempt) {
	if c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := &models.PaymentDismissedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentDismissed),
		OrderID:   att.order.ID,
	}
	if err := c.events.PublishPaymentDismissed(ctx, event); err != nil {
		c.logger.Error("Failed to publish PaymentDismissed event", zap.Error(err))
	}
}
