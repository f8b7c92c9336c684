package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"wallbox-bridge/config"
	"wallbox-bridge/internal/api"
	"wallbox-bridge/internal/command"
	"wallbox-bridge/internal/db"
	"wallbox-bridge/internal/mqtt"
	"wallbox-bridge/internal/notification"
	"wallbox-bridge/internal/poller"
	"wallbox-bridge/internal/schema"
	"wallbox-bridge/internal/store"
	"wallbox-bridge/internal/wallbox"
)

const (
	shutdownTimeout    = 5 * time.Second
	mqttConnectTimeout = 10 * time.Second
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("configuration loaded", zap.String("path", configPath), zap.String("charger", cfg.Wallbox.ChargerID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("wallbox bridge failed", zap.Error(err))
	}
	logger.Info("wallbox bridge stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	if err := schema.Provision(ctx, appStore); err != nil {
		return fmt.Errorf("failed to provision state tree: %w", err)
	}
	logger.Info("state tree provisioned", zap.Int("states", len(schema.Nodes())))

	var webpushOptions *webpush.Options
	var notifier command.Notifier
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
		pool.Start(ctx)
		appStore.Subscribe(pool.HandleChange)
		notifier = pool
	} else {
		logger.Info("push notifications disabled, no vapid keys configured")
	}

	var mirror *mqtt.Mirror
	if cfg.MQTT.Enabled() {
		mirror = mqtt.NewMirror(cfg.MQTT, appStore, logger)
		appStore.Subscribe(mirror.HandleChange)

		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		if err := mirror.Connect(connectCtx); err != nil {
			logger.Warn("broker not reachable yet, retrying in the background", zap.Error(err))
		}
		cancel()
	}

	client := wallbox.NewClient(cfg.Wallbox, logger)
	synchronizer := poller.NewService(cfg.Wallbox, client, appStore, logger)
	synchronizer.SetConnected(ctx, false)

	dispatcher := command.NewDispatcher(cfg.Wallbox, client, synchronizer, notifier, logger)
	dispatcher.Start(ctx)
	appStore.Subscribe(dispatcher.HandleChange)

	router := api.NewRouter(appStore, synchronizer, webpushOptions, cfg.Server, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	pollerDone := make(chan error, 1)
	go func() { pollerDone <- synchronizer.Run(ctx) }()

	var runErr error
	pollerStopped := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping services")
	case runErr = <-serverErr:
		logger.Error("http server failed", zap.Error(runErr))
	case runErr = <-pollerDone:
		pollerStopped = true
		logger.Error("poller failed", zap.Error(runErr))
	}

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	if !pollerStopped {
		if err := <-pollerDone; err != nil {
			logger.Warn("poller stopped with error", zap.Error(err))
		}
	}

	synchronizer.SetConnected(shutdownCtx, false)
	if mirror != nil {
		mirror.Close()
	}
	return runErr
}
