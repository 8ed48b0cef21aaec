package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Total number of orders created through the client",
	})

	OrdersCreateFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_create_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_attempts_total",
		Help: "Total number of payment attempts started",
	}, []string{"path"})

	PaymentsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payments_resolved_total",
		Help: "Total number of payment attempts resolved",
	}, []string{"outcome"})

	PaymentsDismissedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_payments_dismissed_total",
		Help: "Total number of payment attempts dismissed by the user",
	})

	PollTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_poll_ticks_total",
		Help: "Total number of order status poll ticks",
	})

	PollTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_poll_timeouts_total",
		Help: "Total number of poll loops that hit the attempt cap",
	})

	VerifyFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_verify_fallbacks_total",
		Help: "Total number of gateway successes accepted without server verification",
	})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_api_request_duration_seconds",
		Help:    "Latency of storefront API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_api_requests_total",
		Help: "Total number of storefront API calls",
	}, []string{"operation", "status"})
)
