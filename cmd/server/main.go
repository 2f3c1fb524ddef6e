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

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "fulfillment-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
		logger.Warn("Stripe credentials missing, checkout and webhooks will fail")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_USER_SECRET not set, every buyer request will be rejected")
	}

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	processor := payment.NewStripeProcessor(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency)

	orderCacheTTL := time.Duration(cfg.Business.OrderCacheTTLSeconds) * time.Second
	processorTimeout := time.Duration(cfg.Business.ProcessorTimeoutSeconds) * time.Second

	inventorySync := service.NewInventorySync(db, redisClient, redisClient, orderCacheTTL)
	cartService := service.NewCartService(db, redisClient)
	checkoutService := service.NewCheckoutService(db, processor, service.CheckoutConfig{
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
		Timeout:    processorTimeout,
	})
	materializer := service.NewMaterializer(db, processor, redisClient, inventorySync, eventPublisher, service.MaterializerConfig{
		OrderCacheTTL:    orderCacheTTL,
		ProcessorTimeout: processorTimeout,
		MaxRetryAttempts: cfg.Business.RetryMaxAttempts,
		RetryBackoff:     time.Duration(cfg.Business.RetryBackoffSeconds) * time.Second,
	})
	webhookService := service.NewWebhookService(processor, materializer, eventPublisher)

	ctx := context.Background()
	if err := inventorySync.SyncInventoryToRedis(ctx); err != nil {
		logger.Error("Failed to sync inventory to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(consumer, inventorySync, materializer)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Fulfillment worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(cartService, checkoutService, materializer, webhookService, api.Options{
		Auth: api.AuthConfig{
			Secret:     []byte(cfg.Auth.JWTSecret),
			CookieName: cfg.Auth.CookieName,
		},
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		CheckoutRatePerMinute: cfg.Business.CheckoutRatePerMinute,
		CheckoutBurst:         cfg.Business.CheckoutBurst,
		Dependencies: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	fulfillmentWorker.Stop()

	log.Println("Server exited")
}
