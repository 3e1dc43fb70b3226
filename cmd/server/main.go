// Server is the usage-event ingestion API: it validates, normalizes, and
// publishes per-account usage events to the usage-events topic.
// Set KAFKA_BROKERS and REDIS_ADDR; see internal/config for the full list.
package main

import (
	"context"
	"crypto"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/otpless/usage-ingestion/internal/audit"
	auditrepo "github.com/otpless/usage-ingestion/internal/audit/repository"
	"github.com/otpless/usage-ingestion/internal/breaker"
	"github.com/otpless/usage-ingestion/internal/config"
	"github.com/otpless/usage-ingestion/internal/db"
	"github.com/otpless/usage-ingestion/internal/idempotency"
	"github.com/otpless/usage-ingestion/internal/ingest/handler"
	"github.com/otpless/usage-ingestion/internal/ingest/normalizer"
	"github.com/otpless/usage-ingestion/internal/ingest/service"
	"github.com/otpless/usage-ingestion/internal/ingest/validator"
	"github.com/otpless/usage-ingestion/internal/metrics"
	"github.com/otpless/usage-ingestion/internal/publisher"
	"github.com/otpless/usage-ingestion/internal/server"
	"github.com/otpless/usage-ingestion/internal/server/middleware"
	"github.com/otpless/usage-ingestion/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Fail fast on missing collaborators rather than degrade silently.
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("server: KAFKA_BROKERS is required")
	}
	if cfg.RedisAddr == "" {
		log.Fatal("server: REDIS_ADDR is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "usage-ingestion", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}

	idemStore := idempotency.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IdempotencyTTLDuration())
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := idemStore.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("server: %v", err)
	}
	pingCancel()
	defer idemStore.Close()

	pub := publisher.NewKafkaPublisher(brokers, cfg.UsageEventsTopic)
	defer pub.Close()

	br := breaker.New(cfg.BreakerFailureRatio, cfg.BreakerCooldownDuration(), cfg.PublishTimeoutDuration())
	pipeline := service.New(
		validator.New(cfg.ValidationCacheTTLDuration()),
		normalizer.New(),
		pub,
		br,
		service.Options{
			MaxBatchSize:     cfg.MaxBatchSize,
			BatchConcurrency: cfg.BatchConcurrency,
			MaxRetries:       cfg.MaxRetries,
			BaseDelay:        cfg.RetryBaseDelayDuration(),
		},
	)

	m := metrics.New(br.IsOpen)

	var auditLogger *audit.Logger
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
		auditLogger = audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB))
		log.Println("server: audit persistence enabled")
	}

	var authKey crypto.PublicKey
	if cfg.JWTPublicKey != "" {
		key, err := middleware.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("server: JWT_PUBLIC_KEY: %v", err)
		}
		authKey = key
		log.Println("server: bearer auth enabled")
	}

	router := server.NewRouter(server.Deps{
		Handler:     handler.New(pipeline, idemStore, m, cfg.Production()),
		Metrics:     m,
		AuditLogger: auditLogger,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimitPerMinute, m.RateLimited.Inc),
		AuthKey:     authKey,
		MaxBody:     cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("ingestion API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down ingestion API...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("ingestion API stopped")
}
