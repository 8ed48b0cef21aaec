package gateway

import "context"

// Options configures one interactive checkout session. Amount is in the
// currency's minor unit (paise for INR), matching the processor's wire
// format.
type Options struct {
	Key              string
	Amount           int64
	Currency         string
	Name             string
	Description      string
	ProcessorOrderID string
	Prefill          Prefill
}

// Prefill pre-populates the checkout form
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// SuccessPayload is the proof of payment the processor hands back on
// user-side success
type SuccessPayload struct {
	ProcessorOrderID   string `json:"razorpay_order_id"`
	ProcessorPaymentID string `json:"razorpay_payment_id"`
	Signature          string `json:"razorpay_signature"`
}

// FailurePayload describes a processor-reported payment failure
type FailurePayload struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
}

// Callbacks receive the outcome of an interactive checkout session.
// Exactly one of the three fires per session.
type Callbacks struct {
	OnSuccess func(SuccessPayload)
	OnFailure func(FailurePayload)
	OnDismiss func()
}

// Checkout is the externally hosted interactive payment capability.
// Open returns once the session has been started; the outcome arrives
// later through the callbacks.
type Checkout interface {
	Open(ctx context.Context, opts Options, cb Callbacks) error
}
