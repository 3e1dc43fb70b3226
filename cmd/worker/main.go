// Worker consumes canonical usage events from Kafka, forwards them to the
// billing sink, and routes messages whose processing crashes to the
// dead-letter topic. Set KAFKA_BROKERS, KAFKA_GROUP_ID, and BILLING_SINK_URL.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/otpless/usage-ingestion/internal/config"
	"github.com/otpless/usage-ingestion/internal/consumer"
	"github.com/otpless/usage-ingestion/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.BillingSinkURL == "" {
		log.Fatal("worker: BILLING_SINK_URL is required")
	}

	m := metrics.New(nil)
	sink := consumer.NewBillingSink(cfg.BillingSinkURL)
	c := consumer.New(brokers, cfg.UsageEventsTopic, cfg.DLQTopic, cfg.KafkaGroupID, sink, m)
	defer c.Close()

	// Expose worker metrics on the HTTP addr so Prometheus can scrape the
	// DLQ counter.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil {
			log.Printf("worker: metrics server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s), forwarding to %s",
		cfg.UsageEventsTopic, cfg.KafkaGroupID, cfg.BillingSinkURL)
	if err := c.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker: stopped")
}
