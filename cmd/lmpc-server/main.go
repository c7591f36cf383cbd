package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/maltedev/lmpc-scraper/internal/api"
	"github.com/maltedev/lmpc-scraper/internal/app"
	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/maltedev/lmpc-scraper/internal/jobs"
	"github.com/maltedev/lmpc-scraper/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(os.Stderr, config.LoggingConfig{}).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(os.Stdout, cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	taskQueue := queue.NewInMemoryQueue(cfg.Queue.MaxSize)
	jobManager := jobs.NewManager(taskQueue, a.Pipeline, nil, logger)

	var backlog api.Backlog
	if a.Relay != nil {
		backlog = a.Relay
	}
	handlers := api.NewHandlers(a.Pipeline, jobManager, a.Store, backlog, logger)
	if a.Results != nil {
		handlers.WithResults(a.Results)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 2,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.RunRelay(ctx)
	}()
	go func() {
		defer wg.Done()
		jobManager.Run(ctx, cfg.Queue.Workers)
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		taskQueue.Close()
	}()

	logger.Info("server starting", "addr", server.Addr)
	failed := false
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		failed = true
		cancel()
	}

	wg.Wait()
	a.Close()
	logger.Info("server stopped")
	if failed {
		os.Exit(1)
	}
}
