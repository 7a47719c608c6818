// Package embedding turns text into fixed-length vectors with caching and
// bounded retries around the provider.
package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/cache"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/metrics"
)

var (
	// ErrEmbeddingFailure is returned once the provider cannot produce a vector.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrDimensionMismatch marks a provider vector of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider produces raw vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune the client.
type Options struct {
	Model       string
	Dimension   int
	CacheSize   int
	CacheTTL    time.Duration
	Disabled    bool
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	provider Provider
	cache    *cache.Cache[[]float32]
	opts     Options
	log      *slog.Logger
	sleep    func(context.Context, time.Duration) error
	group    singleflight.Group
}

// NewClient builds a client. Defaults: 1536 dims, 50000 entries for 12h,
// 3 attempts starting at 500ms.
func NewClient(provider Provider, opts Options, logger *slog.Logger) *Client {
	if opts.Dimension <= 0 {
		opts.Dimension = 1536
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 50000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 12 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if provider == nil {
		opts.Disabled = true
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		provider: provider,
		cache:    cache.NewCache[[]float32](opts.CacheSize, opts.CacheTTL),
		opts:     opts,
		log:      logger,
		sleep:    sleepContext,
	}
}

// WithSleep replaces the backoff sleeper; intended for tests.
func (c *Client) WithSleep(sleep func(context.Context, time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

// Dimension returns the vector length every result has.
func (c *Client) Dimension() int {
	return c.opts.Dimension
}

// Embed returns the vector for text, from cache when possible.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		metrics.EmbeddingCache.WithLabelValues("hit").Inc()
		return cloneVector(vec), nil
	}
	metrics.EmbeddingCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(ctx, key, text)
	})
	if err != nil {
		return nil, err
	}
	return cloneVector(v.([]float32)), nil
}

func (c *Client) load(ctx context.Context, key, text string) ([]float32, error) {
	if c.opts.Disabled {
		vec := PseudoVector(text, c.opts.Dimension)
		metrics.EmbeddingProviderAttempts.WithLabelValues("synthetic").Inc()
		c.cache.Put(key, vec)
		return vec, nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		vec, err := c.call(ctx, text)
		if err == nil {
			if len(vec) != c.opts.Dimension {
				metrics.EmbeddingProviderAttempts.WithLabelValues("fatal").Inc()
				return nil, fmt.Errorf("%w: %w: got %d, want %d",
					ErrEmbeddingFailure, ErrDimensionMismatch, len(vec), c.opts.Dimension)
			}
			metrics.EmbeddingProviderAttempts.WithLabelValues("success").Inc()
			c.cache.Put(key, vec)
			return vec, nil
		}

		if !IsRetryable(err) {
			metrics.EmbeddingProviderAttempts.WithLabelValues("fatal").Inc()
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
		}
		metrics.EmbeddingProviderAttempts.WithLabelValues("retryable").Inc()
		lastErr = err

		backoff := c.opts.BaseDelay << (attempt - 1)
		c.log.Warn("embedding provider call failed, backing off",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrEmbeddingFailure, c.opts.MaxAttempts, lastErr)
}

func (c *Client) call(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return c.provider.Embed(callCtx, text)
}

func (c *Client) cacheKey(text string) string {
	s := sha1.Sum([]byte(c.opts.Model + "|" + text))
	return hex.EncodeToString(s[:])
}

// PseudoVector derives a stable unit vector from text. It carries no meaning
// and only stands in for the provider while it is switched off.
func PseudoVector(text string, dim int) []float32 {
	r := rand.New(rand.NewSource(int64(fnv64(text))))
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		v := r.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
