package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"storefront-client/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Simulated is an in-process stand-in for the hosted checkout page,
// used in development and tests. It settles after a fixed delay with a
// configurable success rate and signs its payloads the way the real
// processor does, so the backend's verification endpoint accepts them.
type Simulated struct {
	secret      string
	settleDelay time.Duration
	successRate float64
	logger      *zap.Logger
}

// NewSimulated creates a simulated gateway. The secret must match the
// backend's configured processor secret for signatures to verify.
func NewSimulated(secret string, settleDelay time.Duration, successRate float64) *Simulated {
	return &Simulated{
		secret:      secret,
		settleDelay: settleDelay,
		successRate: successRate,
		logger:      util.GetLogger(),
	}
}

// Open starts a simulated checkout session. It returns immediately and
// fires exactly one callback after the settle delay, unless the context
// is cancelled first, in which case it fires OnDismiss.
func (s *Simulated) Open(ctx context.Context, opts Options, cb Callbacks) error {
	if opts.ProcessorOrderID == "" {
		return fmt.Errorf("simulated gateway: missing processor order id")
	}

	s.logger.Info("Simulated checkout opened",
		zap.String("processor_order_id", opts.ProcessorOrderID),
		zap.Int64("amount", opts.Amount),
		zap.String("currency", opts.Currency))

	go func() {
		select {
		case <-ctx.Done():
			if cb.OnDismiss != nil {
				cb.OnDismiss()
			}
			return
		case <-time.After(s.settleDelay):
		}

		if rand.Float64() < s.successRate {
			paymentID := "pay_" + uuid.New().String()[:12]
			cb.OnSuccess(SuccessPayload{
				ProcessorOrderID:   opts.ProcessorOrderID,
				ProcessorPaymentID: paymentID,
				Signature:          s.sign(opts.ProcessorOrderID, paymentID),
			})
			return
		}

		cb.OnFailure(FailurePayload{
			Code:        "PAYMENT_DECLINED",
			Description: "Payment was declined by the simulated processor",
		})
	}()

	return nil
}

// sign produces the processor's signature over orderID|paymentID
func (s *Simulated) sign(processorOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(processorOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
