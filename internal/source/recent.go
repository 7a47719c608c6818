package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// TitleLoader lists the newest store titles.
type TitleLoader interface {
	RecentTitles(ctx context.Context, limit int) ([]string, error)
}

// RecentIndex holds normalized titles of recently stored products, used to
// drop marketplace items the store already carries.
type RecentIndex struct {
	loader TitleLoader
	size   int
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	titles   []string
	loadedAt time.Time
}

// NewRecentIndex returns an index of up to size titles refreshed every ttl.
func NewRecentIndex(loader TitleLoader, size int, ttl time.Duration) *RecentIndex {
	if size <= 0 {
		size = 500
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RecentIndex{loader: loader, size: size, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; intended for tests.
func (r *RecentIndex) WithClock(now func() time.Time) *RecentIndex {
	r.now = now
	return r
}

// Titles returns the cached titles, reloading them once stale. A failed
// reload keeps serving the previous snapshot alongside the error.
func (r *RecentIndex) Titles(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.loadedAt.IsZero() && now.Sub(r.loadedAt) < r.ttl {
		return r.titles, nil
	}

	raw, err := r.loader.RecentTitles(ctx, r.size)
	if err != nil {
		return r.titles, fmt.Errorf("load recent titles: %w", err)
	}
	titles := make([]string, 0, len(raw))
	for _, t := range raw {
		if n := textnorm.Normalize(t); n != "" {
			titles = append(titles, n)
		}
	}
	r.titles = titles
	r.loadedAt = now
	return r.titles, nil
}

// Known reports whether title is a near duplicate of any recent title.
func Known(recent []string, title string, cutoff float64) bool {
	norm := textnorm.Normalize(title)
	if norm == "" {
		return false
	}
	for _, t := range recent {
		if textnorm.Similarity(norm, t) >= cutoff {
			return true
		}
	}
	return false
}
