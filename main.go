package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"billing-service/internal/api"
	"billing-service/internal/config"
	"billing-service/internal/consumer"
	"billing-service/internal/database"
	"billing-service/internal/logger"
	"billing-service/internal/processor"
	"billing-service/internal/publisher"
	"billing-service/internal/reconcile"
	"billing-service/internal/repository"
	cacheSync "billing-service/internal/sync"
	"billing-service/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("failed to load config")
	}
	log := logger.New(cfg.LogLevel)

	// Initialize database
	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer db.Close()

	ledgerRepo := repository.NewLedgerRepository(db.DB, log)
	eventRepo := repository.NewEventRepository(db.DB, log)
	engine := reconcile.NewEngine(ledgerRepo, log)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var notifier processor.Notifier = publisher.Nop{Log: log}
	if cfg.Rabbit.Enabled {
		pub, err := publisher.New(cfg.Rabbit, log)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize RabbitMQ publisher")
		}
		defer pub.Close()
		notifier = pub
	}

	// Start balance cache synchronizer goroutine
	balances := cacheSync.NewBalanceCache()
	go cacheSync.SyncCache(
		ctx,
		ledgerRepo,
		balances,
		cfg.Sync.BatchSize,
		cfg.Sync.Interval,
		log,
	)

	// Relayed payment events
	if cfg.Rabbit.Enabled && cfg.Rabbit.Consume {
		updates := make(chan processor.IncomingEvent, cfg.Rabbit.Prefetch)
		workers := processor.StartProcessorPool(ctx, engine, notifier, balances, updates, cfg.Rabbit.Workers, log)

		rmqConsumer, err := consumer.New(cfg.Rabbit, log, updates)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize RabbitMQ consumer")
		}
		defer workers.Wait()
		defer rmqConsumer.Close()

		go func() {
			if err := rmqConsumer.Start(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("consumer stopped unexpectedly")
				stop()
			}
		}()
	}

	hook := webhook.NewHandler(engine, notifier, balances, cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance, log)
	server := api.New(cfg.HTTP, cfg.Auth.JWTSecret, ledgerRepo, eventRepo, balances, hook, log).Server()

	go func() {
		log.WithField("bind", cfg.HTTP.Bind).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	log.Info("graceful shutdown complete")
}
