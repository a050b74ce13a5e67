package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/safar/go-order-recon/internal/api"
	"github.com/safar/go-order-recon/internal/bank"
	"github.com/safar/go-order-recon/internal/config"
	"github.com/safar/go-order-recon/internal/database"
	"github.com/safar/go-order-recon/internal/metrics"
	"github.com/safar/go-order-recon/internal/rabbit"
	"github.com/safar/go-order-recon/internal/recon"
	"github.com/safar/go-order-recon/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	m := metrics.NewReconMetrics()

	factory := store.FactoryConfig{
		Pricing:           cfg.Pricing,
		ReservationWindow: cfg.Recon.ReservationWindow,
		BankAccount:       cfg.Bank.AccountNumber,
	}
	matcher := store.MatcherConfig{
		RequireExactAmount: cfg.Bank.RequireExactAmount,
	}

	feed := bank.NewClient(cfg.Bank.FeedURL, cfg.Bank.AccountNumber)
	poller := recon.NewPoller(db, feed, matcher, cfg.Recon.PollWindow, m)
	sweeper := recon.NewSweeper(db, m)

	scheduler, err := recon.NewScheduler(cfg.Recon, poller, sweeper)
	if err != nil {
		log.Fatalf("Build scheduler: %v", err)
	}
	scheduler.Start()

	// Checkout ingestion is optional: without a broker URL the HTTP endpoint
	// is the only way in.
	var rabbitConn *amqp091.Connection
	if cfg.Rabbit.URL != "" {
		rabbitConn, err = amqp091.Dial(cfg.Rabbit.URL)
		if err != nil {
			log.Fatalf("Connect to RabbitMQ: %v", err)
		}
		defer rabbitConn.Close()

		ch, err := rabbitConn.Channel()
		if err != nil {
			log.Fatalf("Open RabbitMQ channel: %v", err)
		}
		consumer := rabbit.NewCheckoutConsumer(db, factory, m)
		if err := rabbit.SetupConsumer(ch, consumer); err != nil {
			log.Fatalf("Setup checkout consumer: %v", err)
		}
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewServer(db, cfg, m).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
