package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/api"
	"github.com/akylbek/payment-system/payment-gateway/internal/audit"
	"github.com/akylbek/payment-system/payment-gateway/internal/config"
	"github.com/akylbek/payment-system/payment-gateway/internal/customer"
	"github.com/akylbek/payment-system/payment-gateway/internal/events"
	"github.com/akylbek/payment-system/payment-gateway/internal/interfaces"
	"github.com/akylbek/payment-system/payment-gateway/internal/lock"
	"github.com/akylbek/payment-system/payment-gateway/internal/provider"
	"github.com/akylbek/payment-system/payment-gateway/internal/repository"
	"github.com/akylbek/payment-system/payment-gateway/internal/repository/memory"
	"github.com/akylbek/payment-system/payment-gateway/internal/service"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
	"github.com/akylbek/payment-system/payment-gateway/internal/validation"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize telemetry
	if err := telemetry.InitTelemetry(telemetry.Options{
		ServiceName:    "payment-gateway",
		JaegerEndpoint: cfg.JaegerEndpoint,
		TracingEnabled: cfg.TracingEnabled,
		LogLevel:       cfg.LogLevel,
	}); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payment Gateway",
		zap.String("store", cfg.StoreDriver),
		zap.String("lock", cfg.LockDriver),
		zap.String("customer_directory", cfg.CustomerDirectory),
	)

	// Storage
	var (
		transactions interfaces.TransactionRepository
		auditLogs    interfaces.AuditLogRepository
		db           *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err = sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repository.InitDB(initCtx, db)
		cancel()
		if err != nil {
			telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		transactions = repository.NewTransactionRepository(db)
		auditLogs = repository.NewAuditLogRepository(db)
	default:
		telemetry.Logger.Warn("Using in-memory storage; transactions are lost on restart")
		transactions = memory.NewTransactionRepository()
		auditLogs = memory.NewAuditLogRepository()
	}

	// Per-transaction locking
	var locker interfaces.Locker
	switch cfg.LockDriver {
	case config.LockDriverRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.LockTTL)
	default:
		locker = lock.NewMemoryLocker()
	}

	// State change events
	var publisher interfaces.EventPublisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.StateEventTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	// Customer references
	var customers interfaces.CustomerDirectory
	switch cfg.CustomerDirectory {
	case config.CustomerDirectoryNATS:
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		customers = customer.NewNATSDirectory(nc, cfg.NatsTimeout)
	case config.CustomerDirectoryPostgres:
		customers = repository.NewCustomerRepository(db)
	}

	// Providers
	httpClient := provider.NewHTTPClient(cfg.ProviderTimeout)
	var adapters []provider.Adapter
	if cfg.Stripe.Enabled() {
		adapters = append(adapters, provider.NewStripeAdapter(provider.StripeConfig{
			APIURL: cfg.Stripe.APIURL,
			APIKey: cfg.Stripe.APIKey,
		}, httpClient))
	}
	if cfg.Cielo.Enabled() {
		adapters = append(adapters, provider.NewCieloAdapter(provider.CieloConfig{
			APIURL:      cfg.Cielo.APIURL,
			MerchantID:  cfg.Cielo.MerchantID,
			MerchantKey: cfg.Cielo.MerchantKey,
		}, httpClient))
	}
	if cfg.PayPal.Enabled() {
		adapters = append(adapters, provider.NewPayPalAdapter(provider.PayPalConfig{
			APIURL:       cfg.PayPal.APIURL,
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
		}, httpClient))
	}
	registry := provider.NewRegistry(adapters...)
	for _, p := range registry.Providers() {
		telemetry.Logger.Info("Provider enabled", zap.String("provider", string(p)))
	}

	orchestrator := service.NewOrchestrator(
		transactions,
		audit.NewService(auditLogs),
		registry,
		validation.NewValidator(customers),
		locker,
		publisher,
	)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(orchestrator),
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Payment Gateway starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
