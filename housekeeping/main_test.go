package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/quota"
)

func TestWaitForRedisSucceeds(t *testing.T) {
	calls := 0
	ping := func(ctx context.Context) *redis.StatusCmd {
		calls++
		cmd := redis.NewStatusCmd(ctx)
		cmd.SetVal("PONG")
		return cmd
	}
	require.NoError(t, waitForRedis(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), ping))
	require.Equal(t, 1, calls)
}

func TestWaitForRedisStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ping := func(c context.Context) *redis.StatusCmd {
		cancel()
		cmd := redis.NewStatusCmd(c)
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	err := waitForRedis(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), ping)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunOncePurgesStaleDays(t *testing.T) {
	counter := quota.NewMemoryCounter()
	ctx := context.Background()
	_, err := counter.Incr(ctx, "2000-01-01")
	require.NoError(t, err)

	gate := quota.NewGate(counter, quota.Options{}, nil)
	runOnce(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), gate)

	n, err := counter.Get(ctx, "2000-01-01")
	require.NoError(t, err)
	require.Zero(t, n)
}
