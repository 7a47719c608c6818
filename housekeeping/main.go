package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/config"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/logger"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/quota"
)

func main() {
	log := logger.New("housekeeping")
	cfg, err := config.LoadHousekeeping()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	loc, err := cfg.Quota.Location()
	if err != nil {
		log.Error("load quota timezone", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	if err := waitForRedis(ctx, log, rdb.Ping); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to redis after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to redis")

	gate := quota.NewGate(quota.NewRedisCounter(rdb, ""), quota.Options{
		DailyLimit: cfg.Quota.DailyLimit,
		Location:   loc,
	}, log)

	// Clear counters left over from days the loop was not running.
	runOnce(ctx, log, gate)

	log.Info("quota reset loop running",
		slog.String("timezone", loc.String()),
		slog.Time("next_reset", gate.NextReset(time.Now())),
	)
	if err := gate.RunDailyReset(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("quota reset loop stopped", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("shutdown signal received")
}

type pingFunc func(ctx context.Context) *redis.StatusCmd

// waitForRedis pings with exponential backoff capped at 30s.
func waitForRedis(ctx context.Context, log *slog.Logger, ping pingFunc) error {
	maxRetries := 10
	retryDelay := 2 * time.Second

	var err error
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
		log.Warn("redis ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
	return err
}

func runOnce(ctx context.Context, log *slog.Logger, gate *quota.Gate) {
	subCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := gate.Reset(subCtx); err != nil {
		log.Warn("startup quota purge failed (will retry at next boundary)", slog.Any("err", err))
		return
	}
	used, err := gate.Used(subCtx)
	if err != nil {
		log.Debug("read quota usage", slog.Any("err", err))
		return
	}
	log.Info("stale quota counters purged", slog.Int64("used_today", used))
}
