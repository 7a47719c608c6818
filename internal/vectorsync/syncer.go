package vectorsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/cache"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/metrics"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
)

// Embedder turns product text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter stores and removes product vectors.
type VectorWriter interface {
	IndexVector(ctx context.Context, doc models.VectorDocument) error
	DeleteVector(ctx context.Context, productID int64) error
}

// Options tune the syncer.
type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	DedupeCapacity int
	DedupeTTL      time.Duration
}

// Syncer applies outbox events to the vector index.
type Syncer struct {
	embedder    Embedder
	index       VectorWriter
	seen        *cache.Cache[struct{}]
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
	log         *slog.Logger
}

// NewSyncer returns a syncer retrying 3 times from a 500ms backoff by default.
func NewSyncer(embedder Embedder, index VectorWriter, opts Options, logger *slog.Logger) *Syncer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.DedupeCapacity <= 0 {
		opts.DedupeCapacity = 20000
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{
		embedder:    embedder,
		index:       index,
		seen:        cache.NewCache[struct{}](opts.DedupeCapacity, opts.DedupeTTL),
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		sleep:       sleepContext,
		now:         time.Now,
		log:         logger,
	}
}

// WithSleep replaces the backoff sleeper; intended for tests.
func (s *Syncer) WithSleep(sleep func(context.Context, time.Duration) error) *Syncer {
	s.sleep = sleep
	return s
}

// Sync applies e, retrying transient failures. Events already applied are
// skipped.
func (s *Syncer) Sync(ctx context.Context, e Event) error {
	if s.seen.Contains(e.ID) {
		metrics.VectorSyncEvents.WithLabelValues("duplicate").Inc()
		s.log.Debug("duplicate sync event", slog.String("id", e.ID))
		return nil
	}

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = s.apply(ctx, e); err == nil {
			s.seen.Put(e.ID, struct{}{})
			metrics.VectorSyncEvents.WithLabelValues("indexed").Inc()
			s.log.Info("vector synced",
				slog.String("id", e.ID),
				slog.String("op", string(e.Op)),
				slog.Int64("product_id", e.ProductID),
			)
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}
		delay := s.baseDelay << (attempt - 1)
		s.log.Warn("vector sync failed, retrying",
			slog.String("id", e.ID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("err", err),
		)
		if serr := s.sleep(ctx, delay); serr != nil {
			err = serr
			break
		}
	}
	metrics.VectorSyncEvents.WithLabelValues("failed").Inc()
	return fmt.Errorf("sync product %d: %w", e.ProductID, err)
}

func (s *Syncer) apply(ctx context.Context, e Event) error {
	if e.Op == OpDeleted {
		return s.index.DeleteVector(ctx, e.ProductID)
	}
	vec, err := s.embedder.Embed(ctx, e.EmbeddingText())
	if err != nil {
		return err
	}
	return s.index.IndexVector(ctx, models.VectorDocument{
		ProductID: e.ProductID,
		Price:     e.Price,
		Embedding: vec,
		IndexedAt: s.now().UTC(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
