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

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/processor"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/store/memory"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "marketplace-service"

// backend bundles the storage ports the services need
type backend interface {
	service.OrderStore
	service.EventStore
	service.EnrollmentStore
	service.ReviewStore
	service.RatingStore
	api.Pinger
}

// coordination is the lock and idempotency cache, Redis or in-process
type coordination interface {
	service.Locker
	service.IdempotencyCache
	api.Pinger
}

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint, cfg.Server.Env)
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

	var (
		db    backend
		locks coordination
	)
	if cfg.Database.InMemory() {
		db = memory.NewStore()
		locks = memory.NewLocker()
		logger.Warn("Running with in-memory store and locks; data is lost on exit")
	} else {
		pg, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		log.Println("Database connected")

		if cfg.Database.AutoMigrate {
			if err := pg.Migrate(context.Background()); err != nil {
				log.Fatalf("Failed to apply schema: %v", err)
			}
			log.Println("Database schema applied")
		}
		db = pg

		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")
		locks = redisClient
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gateway := processor.NewClient(
		cfg.Payment.StripeSecretKey,
		cfg.Payment.WebhookSecret,
		cfg.Payment.Currency,
		cfg.Payment.WebhookTolerance,
	)

	aggregates := service.NewAggregateRecomputer(db, locks, cfg.Business.AggregateLockTTL, cfg.Business.AggregateLockWait)
	orderService := service.NewOrderService(db, eventPublisher)
	paymentService := service.NewPaymentService(
		orderService,
		db,
		locks,
		gateway,
		eventPublisher,
		time.Duration(cfg.Business.PaymentTimeoutSeconds)*time.Second,
		cfg.Business.ProcessedEventTTL,
	)
	enrollmentService := service.NewEnrollmentService(db, aggregates, eventPublisher)
	reviewService := service.NewReviewService(db, aggregates, eventPublisher)
	reconciler := service.NewReconciler(
		paymentService,
		aggregates,
		eventPublisher,
		cfg.Business.ReconcileMaxAttempts,
		cfg.Business.ReconcileRetryDelay,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reconciliationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ReconciliationGroup)
	reconciliationWorker := worker.NewReconciliationWorker(reconciliationConsumer, reconciler)
	go func() {
		if err := reconciliationWorker.Start(workerCtx); err != nil {
			logger.Error("Reconciliation worker stopped", zap.Error(err))
		}
	}()

	aggregateConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.AggregateGroup)
	aggregateWorker := worker.NewAggregateWorker(aggregateConsumer, reconciler)
	go func() {
		if err := aggregateWorker.Start(workerCtx); err != nil {
			logger.Error("Aggregate worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		orderService,
		paymentService,
		enrollmentService,
		reviewService,
		api.NewTokenManager(cfg.Auth.JWTSecret),
		cfg.Server.AllowedOrigins,
		map[string]api.Pinger{"database": db, "redis": locks},
	)
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
	reconciliationWorker.Stop()
	aggregateWorker.Stop()

	log.Println("Server exited")
}
