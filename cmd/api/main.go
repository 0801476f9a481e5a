package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/docpipe/internal/api"
	"github.com/timmy/docpipe/internal/auth"
	"github.com/timmy/docpipe/internal/broker"
	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/repository"
	"github.com/timmy/docpipe/internal/service"
	"github.com/timmy/docpipe/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	envCfg := logger.LoadFromEnv()
	envCfg.Level = cfg.Logging.Level
	envCfg.Format = cfg.Logging.Format
	log := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server exited with error")
		logger.Sync()
		os.Exit(1)
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure storage bucket: %w", err)
	}

	transport, err := broker.Open(ctx, &cfg.Broker, log)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer transport.Close()

	queues := broker.QueuesFromConfig(&cfg.Broker)
	events := broker.NewEventPublisher(transport, queues)

	// Repositories
	userRepo := repository.NewUserRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	logRepo := repository.NewIngestionLogRepository(db)
	tx := repository.NewTransactor(db, cfg.Database.TxTimeout)

	// Services
	tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiresIn, cfg.Auth.Issuer)
	ingestionCfg := &service.IngestionConfig{
		PresignTTL:      cfg.Storage.PresignTTL,
		DefaultPageSize: cfg.Ingestion.DefaultPageSize,
		MaxPageSize:     cfg.Ingestion.MaxPageSize,
	}
	ingestionService := service.NewIngestionService(docRepo, logRepo, tx, events, objectStorage, log, ingestionCfg)
	statusConsumer := service.NewStatusUpdateConsumer(ingestionService, events, log)

	router := api.SetupRouter(&api.Services{
		Auth:      service.NewAuthService(userRepo, tokens, log),
		Users:     service.NewUserService(userRepo, log),
		Documents: service.NewDocumentService(docRepo, logRepo, tx, objectStorage, log, ingestionCfg),
		Ingestion: ingestionService,
		Tokens:    tokens,
		DB:        repository.NewHealthChecker(db),
		Broker:    transport,
	}, &cfg.Server, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.WithField("queue", queues.StatusUpdate).Info("Consuming status updates")
		return broker.NewConsumer(transport, queues.StatusUpdate).Run(gctx, statusConsumer.Handle)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
