// Command lmpc-consumer follows the compliance result stream and logs an
// alert for every product that fails a mandatory rule.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/maltedev/lmpc-scraper/internal/app"
	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/maltedev/lmpc-scraper/internal/events"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := app.NewLogger(os.Stdout, config.LoggingConfig{})
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = app.NewLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	hostname, _ := os.Hostname()
	tally := newTally(logger)
	consumer := events.NewConsumer(rdb, tally.Handle, events.ConsumerConfig{
		Stream: cfg.Redis.Stream,
		Group:  cfg.Redis.Group,
		Name:   hostname,
	}, logger)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped", "counts", tally.Counts())
}

// tally logs each checked product and counts outcomes by status.
type tally struct {
	mu     sync.Mutex
	counts map[models.OverallStatus]int
	logger *slog.Logger
}

func newTally(logger *slog.Logger) *tally {
	return &tally{counts: make(map[models.OverallStatus]int), logger: logger}
}

func (t *tally) Handle(_ context.Context, p *events.ComplianceCheckedPayload) error {
	t.mu.Lock()
	t.counts[p.OverallStatus]++
	t.mu.Unlock()

	if p.OverallStatus == models.StatusViolation {
		t.logger.Warn("compliance violation",
			"key", p.IdentityKey,
			"platform", p.Platform,
			"title", p.Title,
			"score", p.Score,
			"violations", p.ViolatedRules)
		return nil
	}
	t.logger.Info("compliance checked",
		"key", p.IdentityKey,
		"status", p.OverallStatus,
		"fetch_status", p.FetchStatus,
		"score", p.Score)
	return nil
}

func (t *tally) Counts() map[models.OverallStatus]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[models.OverallStatus]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
