package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-client/config"
	"storefront-client/internal/api"
	"storefront-client/internal/broker"
	"storefront-client/internal/callback"
	"storefront-client/internal/catalog"
	"storefront-client/internal/checkout"
	"storefront-client/internal/gateway"
	"storefront-client/internal/journal"
	"storefront-client/internal/models"
	"storefront-client/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront kiosk")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout)

	// Infra below is optional: the kiosk still checks out without
	// redis, kafka or postgres available.
	var journalStore *journal.Journal
	if j, err := journal.New(cfg.Database.URL); err != nil {
		logger.Warn("Payment journal unavailable", zap.Error(err))
	} else {
		journalStore = j
		defer journalStore.Close()
		log.Println("Payment journal connected")
	}

	var catalogCache *catalog.Cache
	if cc, err := catalog.NewCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, apiClient, cfg.Redis.CatalogTTL); err != nil {
		logger.Warn("Catalog cache unavailable", zap.Error(err))
	} else {
		catalogCache = cc
		defer catalogCache.Close()
		log.Println("Catalog cache connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	log.Println("Kafka producer initialized")

	gw := gateway.NewSimulated(
		os.Getenv("PROCESSOR_SECRET"),
		3*time.Second,
		0.9,
	)

	observer := &loggingObserver{logger: logger}

	var recorder checkout.Recorder
	if journalStore != nil {
		recorder = journalStore
	}

	coordinator := checkout.NewCoordinator(
		apiClient,
		gw,
		observer,
		recorder,
		eventPublisher,
		checkout.Config{
			PollInterval:     cfg.Checkout.PollInterval,
			PollMaxAttempts:  cfg.Checkout.PollMaxAttempts,
			OptimisticVerify: cfg.Checkout.OptimisticVerify,
			Currency:         cfg.Checkout.Currency,
			StoreName:        cfg.Checkout.StoreName,
			DefaultUserID:    cfg.Checkout.DefaultUserID,
		},
	)

	if journalStore != nil {
		reconcileJournal(apiClient, journalStore, logger)
	}

	if catalogCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := catalogCache.Refresh(ctx); err != nil {
			logger.Warn("Initial catalog refresh failed", zap.Error(err))
		}
		cancel()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := callback.NewHandler(coordinator)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting callback server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down kiosk...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Kiosk exited")
}

// reconcileJournal backfills outcomes for attempts that were still
// settling when the kiosk last stopped
func reconcileJournal(apiClient *api.Client, journalStore *journal.Journal, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	attempts, err := journalStore.UnresolvedAttempts(ctx)
	if err != nil {
		logger.Warn("Failed to load unresolved attempts", zap.Error(err))
		return
	}

	for _, att := range attempts {
		order, err := apiClient.GetOrder(ctx, att.OrderID)
		if err != nil {
			logger.Warn("Failed to reconcile attempt",
				zap.String("order_id", att.OrderID),
				zap.Error(err))
			continue
		}

		if !models.IsTerminalOrderStatus(order.Status) {
			logger.Info("Order still awaiting payment",
				zap.String("order_id", att.OrderID))
			continue
		}

		outcome := checkout.Outcome{
			OrderID: order.ID,
			Status:  order.Status,
			Message: "Backfilled from server status at startup",
		}
		if err := journalStore.RecordOutcome(ctx, outcome); err != nil {
			logger.Warn("Failed to backfill outcome",
				zap.String("order_id", att.OrderID),
				zap.Error(err))
			continue
		}
		logger.Info("Backfilled payment outcome",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status))
	}
}

// loggingObserver is the kiosk's stand-in for a view layer
type loggingObserver struct {
	logger *zap.Logger
}

func (o *loggingObserver) PaymentResolved(outcome checkout.Outcome) {
	if outcome.Status == models.OrderStatusPaid {
		o.logger.Info("Payment completed",
			zap.String("order_id", outcome.OrderID),
			zap.String("processor_payment_id", outcome.ProcessorPaymentID),
			zap.Bool("verification_pending", outcome.VerificationPending))
		return
	}
	o.logger.Warn("Payment did not complete",
		zap.String("order_id", outcome.OrderID),
		zap.String("status", outcome.Status),
		zap.String("message", outcome.Message))
}

func (o *loggingObserver) PaymentDismissed(orderID string) {
	o.logger.Info("Payment cancelled by user, order can be retried",
		zap.String("order_id", orderID))
}
