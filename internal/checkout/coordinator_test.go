package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-client/internal/api"
	"storefront-client/internal/gateway"
	"storefront-client/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiStub is an in-process stand-in for the storefront backend
type apiStub struct {
	mu sync.Mutex

	// per-order sequence of statuses returned by GET /orders/{id};
	// the last entry repeats
	statusSeq map[string][]string
	// number of leading GET /orders/{id} calls answered with a 500
	statusFailures int

	createOrderStatus int
	createOrderBody   string

	verifyStatus int
	configFails  int

	getOrderCalls      int
	verifyCalls        int
	configCalls        int
	createPaymentCalls int
}

func newAPIStub() *apiStub {
	return &apiStub{
		statusSeq:    map[string][]string{},
		verifyStatus: http.StatusOK,
	}
}

func (s *apiStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, body := s.createOrderStatus, s.createOrderBody
		s.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		orderID := strings.TrimPrefix(r.URL.Path, "/orders/")

		s.mu.Lock()
		s.getOrderCalls++
		if s.statusFailures > 0 {
			s.statusFailures--
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"temporarily unavailable"}`))
			return
		}
		seq := s.statusSeq[orderID]
		status := models.OrderStatusCreated
		if len(seq) > 0 {
			status = seq[0]
			if len(seq) > 1 {
				s.statusSeq[orderID] = seq[1:]
			}
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.Order{
			ID:     orderID,
			Status: status,
		})
	})

	mux.HandleFunc("/payments/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID string  `json:"orderId"`
			Amount  float64 `json:"amount"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		s.createPaymentCalls++
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.PaymentIntent{
			OrderID:          req.OrderID,
			ProcessorOrderID: "rzp_" + req.OrderID,
			Amount:           req.Amount,
		})
	})

	mux.HandleFunc("/payments/verify", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.verifyCalls++
		status := s.verifyStatus
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"message":"Invalid payment signature"}`))
		}
	})

	mux.HandleFunc("/config/razorpay", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.configCalls++
		fail := s.configFails > 0
		if fail {
			s.configFails--
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"config unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"keyId":"rzp_test_key"}`))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (s *apiStub) orderCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrderCalls
}

// recordingObserver captures notifications for assertions
type recordingObserver struct {
	mu        sync.Mutex
	resolved  []Outcome
	dismissed []string
	resolvedC chan Outcome
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{resolvedC: make(chan Outcome, 16)}
}

func (o *recordingObserver) PaymentResolved(outcome Outcome) {
	o.mu.Lock()
	o.resolved = append(o.resolved, outcome)
	o.mu.Unlock()
	o.resolvedC <- outcome
}

func (o *recordingObserver) PaymentDismissed(orderID string) {
	o.mu.Lock()
	o.dismissed = append(o.dismissed, orderID)
	o.mu.Unlock()
}

func (o *recordingObserver) dismissals() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.dismissed))
	copy(out, o.dismissed)
	return out
}

func (o *recordingObserver) outcomes() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Outcome, len(o.resolved))
	copy(out, o.resolved)
	return out
}

func (o *recordingObserver) waitForOutcome(t *testing.T, timeout time.Duration) Outcome {
	t.Helper()
	select {
	case outcome := <-o.resolvedC:
		return outcome
	case <-time.After(timeout):
		t.Fatal("timed out waiting for terminal outcome")
		return Outcome{}
	}
}

// fakeGateway records Open calls and hands each session's callbacks to
// the test
type fakeGateway struct {
	mu     sync.Mutex
	opened []gateway.Options
	cbs    []gateway.Callbacks
}

func (f *fakeGateway) Open(ctx context.Context, opts gateway.Options, cb gateway.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, opts)
	f.cbs = append(f.cbs, cb)
	return nil
}

func (f *fakeGateway) callbacks() gateway.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cbs[len(f.cbs)-1]
}

func (f *fakeGateway) callbacksAt(i int) gateway.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cbs[i]
}

func newTestCoordinator(t *testing.T, stub *apiStub, gw gateway.Checkout, cfg Config) (*Coordinator, *recordingObserver) {
	t.Helper()
	ts := stub.server(t)
	client := api.NewClient(ts.URL, 2*time.Second)
	observer := newRecordingObserver()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return NewCoordinator(client, gw, observer, nil, nil, cfg), observer
}

func testOrder(id string, amount float64) *models.Order {
	return &models.Order{
		ID:          id,
		UserID:      "user123",
		TotalAmount: amount,
		Status:      models.OrderStatusCreated,
		Items: []models.OrderItem{
			{ProductID: "p1", ProductName: "Gaming Headphones", Quantity: 1, Price: amount},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	stub := newAPIStub()
	stub.createOrderBody = `{"id":"ord-1","userId":"user123","totalAmount":5500.0,"status":"CREATED","items":[{"productId":"p1","productName":"Gaming Headphones","quantity":1,"price":5500.0}]}`

	coordinator, _ := newTestCoordinator(t, stub, nil, Config{})

	order, err := coordinator.CreateOrder(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, 5500.0, order.TotalAmount)
	assert.Len(t, order.Items, 1)
}

func TestCreateOrderSurfacesServerMessage(t *testing.T) {
	stub := newAPIStub()
	stub.createOrderStatus = http.StatusBadRequest
	stub.createOrderBody = `{"message":"Cart is empty"}`

	coordinator, _ := newTestCoordinator(t, stub, nil, Config{})

	_, err := coordinator.CreateOrder(context.Background(), "user123")
	require.Error(t, err)

	apiErr, ok := err.(*api.APIError)
	require.True(t, ok)
	assert.Equal(t, "Cart is empty", apiErr.Message)
	assert.Equal(t, "Cart is empty", err.Error())
}

func TestCreateOrderDefaultsUser(t *testing.T) {
	stub := newAPIStub()
	stub.createOrderBody = `{"id":"ord-1","userId":"user123","totalAmount":100,"status":"CREATED"}`

	coordinator, _ := newTestCoordinator(t, stub, nil, Config{DefaultUserID: "user123"})

	_, err := coordinator.CreateOrder(context.Background(), "")
	require.NoError(t, err)

	coordinator.cfg.DefaultUserID = ""
	_, err = coordinator.CreateOrder(context.Background(), "")
	require.Error(t, err)
}

// Simulated path happy case: two polls return CREATED and the third
// returns PAID; exactly one success notification and no further polls.
func TestSimulatedPathResolvesOnThirdPoll(t *testing.T) {
	stub := newAPIStub()
	stub.statusSeq["ord-1"] = []string{
		models.OrderStatusCreated,
		models.OrderStatusCreated,
		models.OrderStatusPaid,
	}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{})

	err := coordinator.BeginPayment(context.Background(), testOrder("ord-1", 5500.0), PathSimulated)
	require.NoError(t, err)

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, "ord-1", outcome.OrderID)
	assert.Equal(t, models.OrderStatusPaid, outcome.Status)
	assert.False(t, outcome.VerificationPending)
	assert.Equal(t, 3, stub.orderCalls())

	// no further polls or notifications after the terminal outcome
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, stub.orderCalls())
	assert.Len(t, observer.outcomes(), 1)
	assert.Equal(t, "", coordinator.CurrentOrderID())
}

func TestSimulatedPathResolvesFailure(t *testing.T) {
	stub := newAPIStub()
	stub.statusSeq["ord-1"] = []string{models.OrderStatusFailed}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathSimulated))

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, models.OrderStatusFailed, outcome.Status)
	assert.Len(t, observer.outcomes(), 1)
}

// A poll tick and a gateway success callback racing on the same order
// must produce exactly one terminal notification.
func TestExactlyOnceUnderPollCallbackRace(t *testing.T) {
	stub := newAPIStub()
	stub.statusSeq["ord-1"] = []string{models.OrderStatusPaid}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 5500.0), PathSimulated))

	go coordinator.HandleGatewaySuccess(context.Background(), gateway.SuccessPayload{
		ProcessorOrderID:   "rzp_ord-1",
		ProcessorPaymentID: "pay_abc",
		Signature:          "sig",
	})

	observer.waitForOutcome(t, 2*time.Second)
	time.Sleep(150 * time.Millisecond)

	outcomes := observer.outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ord-1", outcomes[0].OrderID)
	assert.Equal(t, models.OrderStatusPaid, outcomes[0].Status)
}

// Beginning payment for order B while polling order A must silence A
// entirely.
func TestBeginPaymentSupersedesActiveAttempt(t *testing.T) {
	stub := newAPIStub()
	stub.statusSeq["ord-a"] = []string{models.OrderStatusCreated}
	stub.statusSeq["ord-b"] = []string{
		models.OrderStatusCreated,
		models.OrderStatusPaid,
	}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-a", 100), PathSimulated))
	time.Sleep(35 * time.Millisecond)
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-b", 200), PathSimulated))

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, "ord-b", outcome.OrderID)

	time.Sleep(100 * time.Millisecond)
	for _, o := range observer.outcomes() {
		assert.NotEqual(t, "ord-a", o.OrderID)
	}
	assert.Len(t, observer.outcomes(), 1)
}

// A late success callback from a superseded intent must be ignored.
func TestStaleGatewayCallbackIgnored(t *testing.T) {
	stub := newAPIStub()
	stub.statusSeq["ord-b"] = []string{models.OrderStatusCreated}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{})
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-b", 200), PathSimulated))

	coordinator.HandleGatewaySuccess(context.Background(), gateway.SuccessPayload{
		ProcessorOrderID:   "rzp_ord-a",
		ProcessorPaymentID: "pay_old",
		Signature:          "sig",
	})

	assert.Empty(t, observer.outcomes())
	assert.Equal(t, "ord-b", coordinator.CurrentOrderID())
}

// A failure callback from a superseded gateway session must not resolve
// the attempt that replaced it.
func TestStaleGatewayFailureIgnored(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-a", 100), PathInteractive))
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-b", 200), PathInteractive))

	gw.callbacksAt(0).OnFailure(gateway.FailurePayload{
		Code:        "PAYMENT_DECLINED",
		Description: "Card declined",
	})

	assert.Empty(t, observer.outcomes())
	assert.Equal(t, "ord-b", coordinator.CurrentOrderID())

	// the live session still resolves normally
	gw.callbacksAt(1).OnSuccess(gateway.SuccessPayload{
		ProcessorOrderID:   "rzp_ord-b",
		ProcessorPaymentID: "pay_b",
		Signature:          "sig",
	})
	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, "ord-b", outcome.OrderID)
}

// Superseding cancels the old session's context, which the simulated
// gateway reports as a dismissal. That late dismissal must not clear or
// notify for the new attempt.
func TestStaleGatewayDismissalIgnored(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-a", 100), PathInteractive))
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-b", 200), PathInteractive))

	gw.callbacksAt(0).OnDismiss()

	assert.Empty(t, observer.dismissals())
	assert.Empty(t, observer.outcomes())
	assert.Equal(t, "ord-b", coordinator.CurrentOrderID())
}

// Transient fetch failures must not stop the poll loop.
func TestPollSurvivesTransientErrors(t *testing.T) {
	stub := newAPIStub()
	stub.statusFailures = 5
	stub.statusSeq["ord-1"] = []string{models.OrderStatusPaid}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathSimulated))

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, models.OrderStatusPaid, outcome.Status)
	assert.Equal(t, 6, stub.orderCalls())
}

// The poll loop is capped; hitting the cap yields a single pending
// outcome instead of spinning forever.
func TestPollAttemptCap(t *testing.T) {
	stub := newAPIStub()
	stub.statusSeq["ord-1"] = []string{models.OrderStatusCreated}

	coordinator, observer := newTestCoordinator(t, stub, nil, Config{PollMaxAttempts: 3})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathSimulated))

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, models.OrderStatusCreated, outcome.Status)
	assert.True(t, outcome.VerificationPending)
	assert.Equal(t, 3, stub.orderCalls())
	assert.Len(t, observer.outcomes(), 1)
}

func TestProcessorKeyCache(t *testing.T) {
	stub := newAPIStub()
	stub.configFails = 1

	coordinator, _ := newTestCoordinator(t, stub, nil, Config{})

	_, err := coordinator.ProcessorKey(context.Background())
	require.Error(t, err)

	key, err := coordinator.ProcessorKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_key", key)

	key, err = coordinator.ProcessorKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_key", key)

	stub.mu.Lock()
	calls := stub.configCalls
	stub.mu.Unlock()
	assert.Equal(t, 2, calls, "a failed fetch must not be cached; a successful one must be")
}

func TestInteractivePathOpensGateway(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{StoreName: "TechStore"})

	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 5500.0), PathInteractive))

	gw.mu.Lock()
	require.Len(t, gw.opened, 1)
	opts := gw.opened[0]
	gw.mu.Unlock()

	assert.Equal(t, "rzp_test_key", opts.Key)
	assert.Equal(t, int64(550000), opts.Amount, "amount is converted to the minor unit")
	assert.Equal(t, "INR", opts.Currency)
	assert.Equal(t, "TechStore", opts.Name)
	assert.Equal(t, "rzp_ord-1", opts.ProcessorOrderID)
	assert.Empty(t, observer.outcomes())
}

// The minor-unit conversion must round, not truncate: many decimal
// prices have no exact float64 representation (8.20*100 = 819.99...).
func TestGatewayAmountRoundsToNearestPaisa(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, _ := newTestCoordinator(t, stub, gw, Config{})

	for i, tc := range []struct {
		amount float64
		paise  int64
	}{
		{8.20, 820},
		{4.35, 435},
		{0.29, 29},
		{5500.0, 550000},
	} {
		order := testOrder(fmt.Sprintf("ord-%d", i), tc.amount)
		require.NoError(t, coordinator.BeginPayment(context.Background(), order, PathInteractive))

		gw.mu.Lock()
		opts := gw.opened[len(gw.opened)-1]
		gw.mu.Unlock()
		assert.Equal(t, tc.paise, opts.Amount, "amount %v", tc.amount)
	}
}

func TestInteractiveSuccessVerified(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{})
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathInteractive))

	gw.callbacks().OnSuccess(gateway.SuccessPayload{
		ProcessorOrderID:   "rzp_ord-1",
		ProcessorPaymentID: "pay_123",
		Signature:          "sig",
	})

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, models.OrderStatusPaid, outcome.Status)
	assert.Equal(t, "pay_123", outcome.ProcessorPaymentID)
	assert.False(t, outcome.VerificationPending)

	stub.mu.Lock()
	assert.Equal(t, 1, stub.verifyCalls)
	stub.mu.Unlock()
}

func TestInteractiveVerifyFailureOptimistic(t *testing.T) {
	stub := newAPIStub()
	stub.verifyStatus = http.StatusInternalServerError
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{OptimisticVerify: true})
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathInteractive))

	gw.callbacks().OnSuccess(gateway.SuccessPayload{
		ProcessorOrderID:   "rzp_ord-1",
		ProcessorPaymentID: "pay_123",
		Signature:          "sig",
	})

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, models.OrderStatusPaid, outcome.Status)
	assert.True(t, outcome.VerificationPending)
}

func TestInteractiveVerifyFailureStrict(t *testing.T) {
	stub := newAPIStub()
	stub.verifyStatus = http.StatusBadRequest
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{OptimisticVerify: false})
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathInteractive))

	gw.callbacks().OnSuccess(gateway.SuccessPayload{
		ProcessorOrderID:   "rzp_ord-1",
		ProcessorPaymentID: "pay_123",
		Signature:          "sig",
	})

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.NotEqual(t, models.OrderStatusPaid, outcome.Status)
	assert.True(t, outcome.VerificationPending)
}

func TestInteractiveFailureIsTerminal(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{})
	require.NoError(t, coordinator.BeginPayment(context.Background(), testOrder("ord-1", 100), PathInteractive))

	gw.callbacks().OnFailure(gateway.FailurePayload{
		Code:        "PAYMENT_DECLINED",
		Description: "Card declined",
	})

	outcome := observer.waitForOutcome(t, 2*time.Second)
	assert.Equal(t, models.OrderStatusFailed, outcome.Status)
	assert.Equal(t, "Card declined", outcome.Message)
	assert.Len(t, observer.outcomes(), 1)
}

// Dismissal leaves the order CREATED and retryable: no terminal
// notification, attempt cleared.
func TestInteractiveDismissal(t *testing.T) {
	stub := newAPIStub()
	gw := &fakeGateway{}

	coordinator, observer := newTestCoordinator(t, stub, gw, Config{})
	order := testOrder("ord-1", 100)
	require.NoError(t, coordinator.BeginPayment(context.Background(), order, PathInteractive))

	gw.callbacks().OnDismiss()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, observer.outcomes())
	assert.Equal(t, []string{"ord-1"}, observer.dismissals())
	assert.Equal(t, "", coordinator.CurrentOrderID())

	stub.mu.Lock()
	assert.Zero(t, stub.verifyCalls)
	stub.mu.Unlock()

	// the order can be retried with a fresh intent
	require.NoError(t, coordinator.BeginPayment(context.Background(), order, PathInteractive))
	assert.Equal(t, "ord-1", coordinator.CurrentOrderID())
}

func TestBeginPaymentRejectsTerminalOrder(t *testing.T) {
	stub := newAPIStub()
	coordinator, _ := newTestCoordinator(t, stub, nil, Config{})

	order := testOrder("ord-1", 100)
	order.Status = models.OrderStatusPaid

	err := coordinator.BeginPayment(context.Background(), order, PathSimulated)
	require.Error(t, err)

	stub.mu.Lock()
	assert.Zero(t, stub.createPaymentCalls)
	stub.mu.Unlock()
}
