package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"storefront-client/internal/models"
	"storefront-client/internal/util"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client is a typed client for the storefront REST API. It is the only
// place that talks HTTP to the backend; callers see domain types and
// either *APIError (server-reported business errors) or wrapped
// transport errors.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a new API client against the given base URL,
// e.g. "http://localhost:8080/api".
func NewClient(baseURL string, timeout time.Duration) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: util.GetLogger(),
	}
}

// APIError is a non-2xx response carrying the server's message field.
// The message is surfaced to observers verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// errorBody matches the backend's JSON error envelope
type errorBody struct {
	Message string `json:"message"`
}

// VerifyPaymentRequest carries the processor-issued proof of payment.
// Field names follow the processor's callback payload.
type VerifyPaymentRequest struct {
	OrderID            string `json:"orderId"`
	ProcessorOrderID   string `json:"razorpay_order_id"`
	ProcessorPaymentID string `json:"razorpay_payment_id"`
	Signature          string `json:"razorpay_signature"`
}

// ProcessorConfig is the public gateway configuration
type ProcessorConfig struct {
	KeyID string `json:"keyId"`
}

type addToCartRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	UserID string `json:"userId"`
}

type createPaymentRequest struct {
	OrderID     string  `json:"orderId"`
	Amount      float64 `json:"amount"`
	PaymentMode string  `json:"paymentMode,omitempty"`
}

// ListProducts fetches the product catalog
func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := c.get(ctx, "ListProducts", "/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateProduct creates a product (used to seed sample catalogs)
func (c *Client) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	var created models.Product
	if err := c.post(ctx, "CreateProduct", "/products", product, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// AddToCart adds a product to the user's cart
func (c *Client) AddToCart(ctx context.Context, userID, productID string, quantity int) error {
	req := &addToCartRequest{UserID: userID, ProductID: productID, Quantity: quantity}
	return c.post(ctx, "AddToCart", "/cart/add", req, nil)
}

// GetCart fetches the user's cart
func (c *Client) GetCart(ctx context.Context, userID string) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := c.get(ctx, "GetCart", "/cart/"+userID, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ClearCart removes all items from the user's cart
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	ctx, span := util.StartSpan(ctx, "api.ClearCart")
	defer span.End()

	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).SetError(&errorBody{}).Delete("/cart/" + userID + "/clear")
	c.observe("ClearCart", resp, start)
	return c.wrap("ClearCart", resp, err)
}

// CreateOrder creates an order from the user's current cart. The server
// snapshots cart items into order line items and clears the cart.
func (c *Client) CreateOrder(ctx context.Context, userID string) (*models.Order, error) {
	var order models.Order
	if err := c.post(ctx, "CreateOrder", "/orders", &createOrderRequest{UserID: userID}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches an order's current state, including status
func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.get(ctx, "GetOrder", "/orders/"+orderID, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListUserOrders fetches all orders for a user, newest first
func (c *Client) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	if err := c.get(ctx, "ListUserOrders", "/orders/user/"+userID, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreatePayment opens a payment intent for the order. The mode flag
// selects the server's settlement behavior; it is empty for the
// interactive gateway path.
func (c *Client) CreatePayment(ctx context.Context, orderID string, amount float64, mode string) (*models.PaymentIntent, error) {
	req := &createPaymentRequest{OrderID: orderID, Amount: amount, PaymentMode: mode}
	var intent models.PaymentIntent
	if err := c.post(ctx, "CreatePayment", "/payments/create", req, &intent); err != nil {
		return nil, err
	}
	if intent.OrderID == "" {
		intent.OrderID = orderID
	}
	return &intent, nil
}

// VerifyPayment forwards the processor's proof of payment for
// server-side signature verification
func (c *Client) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) error {
	return c.post(ctx, "VerifyPayment", "/payments/verify", req, nil)
}

// GetProcessorConfig fetches the processor's public configuration
func (c *Client) GetProcessorConfig(ctx context.Context) (*ProcessorConfig, error) {
	var cfg ProcessorConfig
	if err := c.get(ctx, "GetProcessorConfig", "/config/razorpay", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "api."+op)
	defer span.End()

	start := time.Now()
	req := c.http.R().SetContext(ctx).SetError(&errorBody{})
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(path)
	c.observe(op, resp, start)
	return c.wrap(op, resp, err)
}

func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "api."+op)
	defer span.End()

	start := time.Now()
	req := c.http.R().SetContext(ctx).SetBody(body).SetError(&errorBody{})
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	c.observe(op, resp, start)
	return c.wrap(op, resp, err)
}

func (c *Client) wrap(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}

	if resp.IsError() {
		message := ""
		if body, ok := resp.Error().(*errorBody); ok && body != nil {
			message = body.Message
		}
		c.logger.Warn("API call returned error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("message", message))
		return &APIError{Status: resp.StatusCode(), Message: message}
	}

	return nil
}

func (c *Client) observe(op string, resp *resty.Response, start time.Time) {
	status := "0"
	if resp != nil && resp.RawResponse != nil {
		status = strconv.Itoa(resp.StatusCode())
	}
	util.APIRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	util.APIRequestsTotal.WithLabelValues(op, status).Inc()
}
