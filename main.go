package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"powermon/api"
	"powermon/config"
	"powermon/log"
	"powermon/notify"
	"powermon/render"
	"powermon/services"
	"powermon/store"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize display timezone
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal("Failed to load timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}
	time.Local = loc

	// Validate required configuration
	if cfg.TelegramBotToken == "" {
		logger.Fatal("Telegram configuration is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize persistence
	var st store.Store
	if cfg.FirebaseDbUrl != "" && cfg.FirebaseServiceAccountJSON != "" {
		firebaseStore, err := store.NewFirebaseStore(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase store", zap.Error(err))
		}
		st = firebaseStore
	} else {
		logger.Warn("Firebase is not configured, using in-memory store; state is lost on restart")
		st = store.NewMemoryStore()
	}

	// Initialize notification channels
	notifier, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram notifier", zap.Error(err))
	}

	var operator *notify.OperatorWebhook
	if cfg.OperatorWebhookURL != "" {
		operator = notify.NewOperatorWebhook(logger, cfg.OperatorWebhookURL)
		logger.Info("Operator webhook initialized", zap.String("url", cfg.OperatorWebhookURL))
	}

	renderer, err := render.NewDiagramRenderer()
	if err != nil {
		logger.Fatal("Failed to initialize diagram renderer", zap.Error(err))
	}

	// Initialize core services
	stateMachine := services.NewStateMachine(st, logger)
	dispatcher := services.NewAlertDispatcher(st, notifier, operator, cfg.AlertMaxAttempts, cfg.AlertInitialDelay, logger)
	ingester := services.NewHeartbeatIngester(st, stateMachine, dispatcher, logger)
	scheduler := services.NewOutageScheduler(st, stateMachine, dispatcher, cfg.SweepInterval, logger)
	timeline := services.NewTimelineLifecycleManager(st, notifier, renderer, loc, logger)

	logger.Info("Power monitoring service started",
		zap.String("timezone", cfg.Timezone),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("heartbeat_retention", cfg.HeartbeatRetention),
		zap.Int("alert_max_attempts", cfg.AlertMaxAttempts),
	)

	// Background loops
	go scheduler.Run(ctx)
	go timeline.Run(ctx)
	go runHeartbeatPruner(ctx, st, cfg.HeartbeatRetention, logger)

	// AMQP ingress is optional; HTTP ingress always runs.
	var consumer *services.HeartbeatConsumer
	if cfg.AMQPUrl != "" {
		consumer, err = services.NewHeartbeatConsumer(cfg, ingester, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ consumer", zap.Error(err))
		}
		go func() {
			if err := consumer.Consume(ctx); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		}()
	}

	server := api.NewServer(cfg.HTTPListenAddr, ingester, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("Error closing RabbitMQ consumer", zap.Error(err))
		}
	}

	// Let in-flight alert deliveries finish.
	if !dispatcher.Drain(5 * time.Second) {
		logger.Warn("Alert dispatcher drain timeout, forcing exit")
	}

	logger.Info("Power monitoring service stopped")
}

// runHeartbeatPruner drops heartbeat records older than the retention
// window, once at startup and then daily.
func runHeartbeatPruner(ctx context.Context, st store.Store, retention time.Duration, logger *zap.Logger) {
	prune := func() {
		cutoff := time.Now().Add(-retention)
		pruned, err := st.PruneHeartbeats(ctx, cutoff)
		if err != nil {
			logger.Error("Heartbeat pruning failed", zap.Error(err))
			return
		}
		if pruned > 0 {
			logger.Info("Pruned old heartbeats",
				zap.Int("pruned", pruned),
				zap.Time("cutoff", cutoff))
		}
	}

	prune()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
