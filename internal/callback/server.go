package callback

import (
	"net/http"
	"strconv"
	"time"

	"storefront-client/internal/checkout"
	"storefront-client/internal/gateway"
	"storefront-client/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler bridges HTTP callbacks from the hosted checkout page into the
// coordinator, and exposes health and metrics endpoints
type Handler struct {
	coordinator *checkout.Coordinator
}

// NewHandler creates a new callback handler
func NewHandler(coordinator *checkout.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// failureEnvelope matches the processor's payment.failed payload
type failureEnvelope struct {
	Error gateway.FailurePayload `json:"error"`
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cb := router.Group("/callback/payment")
	{
		cb.POST("/success", h.paymentSuccess)
		cb.POST("/failure", h.paymentFailure)
		cb.POST("/dismiss", h.paymentDismiss)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// paymentSuccess receives the processor's success proof
func (h *Handler) paymentSuccess(c *gin.Context) {
	var payload gateway.SuccessPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid callback payload",
			"details": err.Error(),
		})
		return
	}

	h.coordinator.HandleGatewaySuccess(c.Request.Context(), payload)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// paymentFailure receives a processor-reported payment failure
func (h *Handler) paymentFailure(c *gin.Context) {
	var payload failureEnvelope
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid callback payload",
			"details": err.Error(),
		})
		return
	}

	h.coordinator.HandleGatewayFailure(payload.Error)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// paymentDismiss is called when the user closes the checkout
func (h *Handler) paymentDismiss(c *gin.Context) {
	h.coordinator.HandleGatewayDismissal()
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.APIRequestDuration.WithLabelValues(
			"callback:"+c.FullPath(),
			status,
		).Observe(duration)

		util.APIRequestsTotal.WithLabelValues(
			"callback:"+c.FullPath(),
			status,
		).Inc()
	}
}
