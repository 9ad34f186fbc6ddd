// Package main is the entry point for the persistence API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/config"
	"github.com/aura-chat/peernet/internal/handler"
	natsclient "github.com/aura-chat/peernet/internal/nats"
	"github.com/aura-chat/peernet/internal/repository"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("store", cfg.StoreDriver))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "aura-persistence", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
		os.Exit(1)
	}
	defer closeRepo()

	router := handler.NewRouter(handler.RouterConfig{
		Repository:        repo,
		Logger:            log,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// openRepository selects the message and user store named by STORE_DRIVER.
func openRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		repo := repository.NewMemory()
		return repo, func() {}, nil

	case config.StoreSQLite, config.StorePostgres:
		driver := repository.DriverSQLite
		if cfg.StoreDriver == config.StorePostgres {
			driver = repository.DriverPostgres
		}
		repo, err := repository.OpenSQL(ctx, driver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil

	case config.StoreJetStream:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "aura-persistence",
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		repo, err := natsclient.NewRepository(ctx, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return repo, func() {
			repo.Close()
			client.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
