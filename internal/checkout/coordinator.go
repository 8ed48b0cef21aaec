package checkout

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"storefront-client/internal/api"
	"storefront-client/internal/gateway"
	"storefront-client/internal/models"
	"storefront-client/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentPath selects the settlement strategy for a payment attempt
type PaymentPath string

const (
	// PathSimulated creates the intent with the server's mock mode and
	// waits for settlement by polling the order's status.
	PathSimulated PaymentPath = "simulated"
	// PathInteractive hands the intent to the hosted checkout
	// capability and waits for its callback.
	PathInteractive PaymentPath = "interactive"
)

// Outcome is the terminal result of one payment attempt. It is
// delivered to the observer exactly once per attempt.
type Outcome struct {
	OrderID            string
	Status             string
	ProcessorPaymentID string
	Message            string
	// VerificationPending marks outcomes accepted on the processor's
	// word alone, without server-side verification. See the
	// OptimisticVerify policy.
	VerificationPending bool
}

// Observer receives coordinator notifications. PaymentResolved fires
// exactly once per attempt; PaymentDismissed is non-terminal and leaves
// the order retryable.
type Observer interface {
	PaymentResolved(outcome Outcome)
	PaymentDismissed(orderID string)
}

// Recorder persists attempt lifecycles for offline reconciliation
type Recorder interface {
	RecordAttempt(ctx context.Context, orderID string, path string, processorOrderID string, amount float64) error
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

// EventSink publishes checkout analytics events
type EventSink interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishPaymentAttempted(ctx context.Context, event *models.PaymentAttemptedEvent) error
	PublishPaymentResolved(ctx context.Context, event *models.PaymentResolvedEvent) error
	PublishPaymentDismissed(ctx context.Context, event *models.PaymentDismissedEvent) error
}

// Config holds coordinator tuning
type Config struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	// OptimisticVerify accepts a gateway-reported success even when the
	// server verification call fails, flagging the outcome as pending
	// verification. This trusts the processor's client-side signal over
	// server-verified truth; it matches the storefront's historical
	// behavior and is weaker than a verified outcome.
	OptimisticVerify bool
	Currency         string
	StoreName        string
	DefaultUserID    string
}

// attempt is one payment attempt against one order. A new BeginPayment
// supersedes the previous attempt entirely; superseded attempts must
// never reach the observer.
type attempt struct {
	order      *models.Order
	intent     *models.PaymentIntent
	path       PaymentPath
	generation uint64
	resolved   bool
	cancel     context.CancelFunc
}

// Coordinator drives one order from creation to a terminal payment
// outcome across the two payment paths, and guarantees the observer is
// told exactly once about the terminal result of each attempt.
type Coordinator struct {
	api      *api.Client
	gateway  gateway.Checkout
	observer Observer
	recorder Recorder
	events   EventSink
	cfg      Config
	logger   *zap.Logger

	mu           sync.Mutex
	current      *attempt
	generation   uint64
	processorKey string
}

// NewCoordinator creates a coordinator. gateway, observer, recorder and
// events may be nil; the corresponding hooks become no-ops.
func NewCoordinator(
	apiClient *api.Client,
	gw gateway.Checkout,
	observer Observer,
	recorder Recorder,
	events EventSink,
	cfg Config,
) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 150
	}
	return &Coordinator{
		api:      apiClient,
		gateway:  gw,
		observer: observer,
		recorder: recorder,
		events:   events,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// CreateOrder creates an order from the user's current cart. The server
// snapshots the cart and clears it; the coordinator makes no local
// state change on failure.
func (c *Coordinator) CreateOrder(ctx context.Context, userID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.CreateOrder")
	defer span.End()

	if userID == "" {
		userID = c.cfg.DefaultUserID
	}
	if userID == "" {
		util.OrdersCreateFailedTotal.WithLabelValues("missing_user").Inc()
		return nil, fmt.Errorf("user id is required")
	}

	order, err := c.api.CreateOrder(ctx, userID)
	if err != nil {
		util.OrdersCreateFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	c.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Float64("total_amount", order.TotalAmount))

	c.publishOrderCreated(ctx, order)
	return order, nil
}

// BeginPayment starts a payment attempt for the order on the given
// path. Any previous attempt is superseded: its poll loop stops and
// late results from it are ignored.
func (c *Coordinator) BeginPayment(ctx context.Context, order *models.Order, path PaymentPath) error {
	ctx, span := util.StartSpan(ctx, "Coordinator.BeginPayment")
	defer span.End()

	if order == nil || order.ID == "" {
		return fmt.Errorf("order is required")
	}
	if models.IsTerminalOrderStatus(order.Status) {
		return fmt.Errorf("order %s is already %s", order.ID, order.Status)
	}

	mode := ""
	if path == PathSimulated {
		mode = models.PaymentModeMock
	}

	intent, err := c.api.CreatePayment(ctx, order.ID, order.TotalAmount, mode)
	if err != nil {
		return err
	}

	// The attempt context outlives the caller's: the poll loop and the
	// gateway session keep running after BeginPayment returns.
	attemptCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.current != nil && c.current.cancel != nil {
		c.current.cancel()
	}
	c.generation++
	att := &attempt{
		order:      order,
		intent:     intent,
		path:       path,
		generation: c.generation,
		cancel:     cancel,
	}
	c.current = att
	c.mu.Unlock()

	util.PaymentAttemptsTotal.WithLabelValues(string(path)).Inc()
	c.logger.Info("Payment attempt started",
		zap.String("order_id", order.ID),
		zap.String("path", string(path)),
		zap.String("processor_order_id", intent.ProcessorOrderID))

	c.recordAttempt(ctx, att)
	c.publishPaymentAttempted(ctx, att)

	switch path {
	case PathSimulated:
		go c.pollUntilTerminal(attemptCtx, att)
		return nil
	case PathInteractive:
		return c.openGateway(ctx, attemptCtx, att)
	default:
		c.clearAttempt(att)
		return fmt.Errorf("unknown payment path: %s", path)
	}
}

// openGateway hands the attempt's intent to the hosted checkout
func (c *Coordinator) openGateway(ctx context.Context, attemptCtx context.Context, att *attempt) error {
	if c.gateway == nil {
		c.clearAttempt(att)
		return fmt.Errorf("no checkout gateway configured")
	}

	key, err := c.ProcessorKey(ctx)
	if err != nil {
		c.clearAttempt(att)
		return fmt.Errorf("failed to load payment configuration: %w", err)
	}

	opts := gateway.Options{
		Key:              key,
		Amount:           int64(math.Round(att.order.TotalAmount * 100)),
		Currency:         c.cfg.Currency,
		Name:             c.cfg.StoreName,
		Description:      fmt.Sprintf("Order #%s", shortID(att.order.ID)),
		ProcessorOrderID: att.intent.ProcessorOrderID,
		Prefill: gateway.Prefill{
			Name:  att.order.UserID,
			Email: att.order.UserID + "@example.com",
		},
	}

	// Callbacks are bound to this attempt: once it is superseded its
	// gateway session can only no-op, never touch a newer attempt.
	cb := gateway.Callbacks{
		OnSuccess: func(p gateway.SuccessPayload) {
			c.HandleGatewaySuccess(context.Background(), p)
		},
		OnFailure: func(p gateway.FailurePayload) {
			c.handleGatewayFailureFor(att, p)
		},
		OnDismiss: func() {
			c.handleGatewayDismissalFor(att)
		},
	}

	if err := c.gateway.Open(attemptCtx, opts, cb); err != nil {
		c.clearAttempt(att)
		return fmt.Errorf("failed to open checkout: %w", err)
	}
	return nil
}

// ProcessorKey returns the processor's public key, fetching it at most
// once per session. A failed fetch is not cached; the next call retries.
func (c *Coordinator) ProcessorKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.processorKey != "" {
		key := c.processorKey
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	cfg, err := c.api.GetProcessorConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch processor config: %w", err)
	}

	c.mu.Lock()
	c.processorKey = cfg.KeyID
	c.mu.Unlock()
	return cfg.KeyID, nil
}

// CurrentOrderID returns the order tracked by the active attempt, or ""
func (c *Coordinator) CurrentOrderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.order.ID
}

// clearAttempt drops att if it is still the current attempt
func (c *Coordinator) clearAttempt(att *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == att {
		c.current = nil
	}
	if att.cancel != nil {
		att.cancel()
	}
}

func (c *Coordinator) publishOrderCreated(ctx context.Context, order *models.Order) {
	if c.events == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
	}
	if err := c.events.PublishOrderCreated(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (c *Coordinator) publishPaymentAttempted(ctx context.Context, att *attempt) {
	if c.events == nil {
		return
	}
	event := &models.PaymentAttemptedEvent{
		BaseEvent:        newBaseEvent(models.EventTypePaymentAttempted),
		OrderID:          att.order.ID,
		Path:             string(att.path),
		ProcessorOrderID: att.intent.ProcessorOrderID,
		Amount:           att.order.TotalAmount,
	}
	if err := c.events.PublishPaymentAttempted(ctx, event); err != nil {
		c.logger.Error("Failed to publish PaymentAttempted event", zap.Error(err))
	}
}

func (c *Coordinator) recordAttempt(ctx context.Context, att *attempt) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.RecordAttempt(ctx, att.order.ID, string(att.path), att.intent.ProcessorOrderID, att.order.TotalAmount)
	if err != nil {
		c.logger.Error("Failed to record payment attempt",
			zap.String("order_id", att.order.ID),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func failureReason(err error) string {
	if _, ok := err.(*api.APIError); ok {
		return "rejected"
	}
	return "transport"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
