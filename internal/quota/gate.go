// Package quota guards the external marketplace API with a process-wide
// token bucket and a daily call counter.
package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/metrics"
)

// ErrQuotaExceeded marks a marketplace call skipped because the gate refused it.
var ErrQuotaExceeded = errors.New("marketplace quota exceeded")

const dayLayout = "2006-01-02"

// Counter persists per-day call counts.
type Counter interface {
	// Incr atomically increments the counter for day and returns the new value.
	Incr(ctx context.Context, day string) (int64, error)
	// Get returns the counter for day, zero when absent.
	Get(ctx context.Context, day string) (int64, error)
	// Purge drops every day except keep.
	Purge(ctx context.Context, keep string) error
}

// Options tune the gate.
type Options struct {
	RatePerSecond float64
	Burst         int
	DailyLimit    int64
	// MaxWait bounds how long TryAcquire blocks for a token. Zero waits for
	// as long as the caller's context allows.
	MaxWait  time.Duration
	Location *time.Location
}

// Gate combines the rate limiter and the daily cap.
type Gate struct {
	limiter *rate.Limiter
	counter Counter
	opts    Options
	log     *slog.Logger
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// NewGate builds a gate. Defaults: 10 req/s, 25000 calls/day, Asia/Seoul day boundary.
func NewGate(counter Counter, opts Options, logger *slog.Logger) *Gate {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = 25000
	}
	if opts.Location == nil {
		opts.Location = defaultLocation()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		counter: counter,
		opts:    opts,
		log:     logger,
		now:     time.Now,
		after:   time.After,
	}
}

// WithClock replaces the time sources; intended for tests.
func (g *Gate) WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) *Gate {
	g.now = now
	if after != nil {
		g.after = after
	}
	return g
}

// TryAcquire reports whether one external call may be made now. It blocks
// for a rate token (bounded by MaxWait), then counts the attempt against the
// daily cap. It never returns an error: any refusal reads as false.
func (g *Gate) TryAcquire(ctx context.Context) bool {
	day := g.Day(g.now())

	// Skip the token wait entirely once the cap is known to be spent.
	if used, err := g.counter.Get(ctx, day); err == nil && used >= g.opts.DailyLimit {
		metrics.QuotaAcquire.WithLabelValues("daily_limit").Inc()
		return false
	}

	waitCtx := ctx
	if g.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.opts.MaxWait)
		defer cancel()
	}
	if err := g.limiter.Wait(waitCtx); err != nil {
		metrics.QuotaAcquire.WithLabelValues("rate_wait").Inc()
		g.log.Info("quota rate wait abandoned", slog.Any("err", err))
		return false
	}

	n, err := g.counter.Incr(ctx, day)
	if err != nil {
		metrics.QuotaAcquire.WithLabelValues("counter_error").Inc()
		g.log.Warn("quota counter unavailable", slog.Any("err", err))
		return false
	}
	metrics.QuotaDailyUsed.Set(float64(n))

	if n > g.opts.DailyLimit {
		metrics.QuotaAcquire.WithLabelValues("daily_limit").Inc()
		g.log.Info("daily marketplace quota reached",
			slog.String("day", day),
			slog.Int64("limit", g.opts.DailyLimit),
		)
		return false
	}

	metrics.QuotaAcquire.WithLabelValues("granted").Inc()
	return true
}

// Used returns today's counter value.
func (g *Gate) Used(ctx context.Context) (int64, error) {
	return g.counter.Get(ctx, g.Day(g.now()))
}

// Day formats t as the quota day in the gate's timezone.
func (g *Gate) Day(t time.Time) string {
	return t.In(g.opts.Location).Format(dayLayout)
}

// NextReset returns the first day boundary strictly after t.
func (g *Gate) NextReset(t time.Time) time.Time {
	local := t.In(g.opts.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, g.opts.Location)
}

// Reset drops every counter except today's.
func (g *Gate) Reset(ctx context.Context) error {
	day := g.Day(g.now())
	if err := g.counter.Purge(ctx, day); err != nil {
		return fmt.Errorf("purge quota counters: %w", err)
	}
	used, err := g.counter.Get(ctx, day)
	if err == nil {
		metrics.QuotaDailyUsed.Set(float64(used))
	}
	return nil
}

// RunDailyReset resets the counter at every day boundary until ctx is done.
func (g *Gate) RunDailyReset(ctx context.Context) error {
	for {
		wait := g.NextReset(g.now()).Sub(g.now())
		if wait < 0 {
			wait = 0
		}
		g.log.Debug("next quota reset scheduled", slog.Duration("in", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.after(wait):
		}

		resetCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := g.Reset(resetCtx); err != nil {
			g.log.Warn("quota reset failed (will retry next boundary)", slog.Any("err", err))
		} else {
			g.log.Info("quota counter reset", slog.String("day", g.Day(g.now())))
		}
		cancel()
	}
}

func defaultLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Seoul"); err == nil {
		return loc
	}
	return time.FixedZone("KST", 9*60*60)
}
