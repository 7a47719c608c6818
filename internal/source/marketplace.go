package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/marketplace"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/quota"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// Searcher is the external catalog API.
type Searcher interface {
	Available() bool
	PageSize() int
	Search(ctx context.Context, query string, page int) ([]marketplace.Item, error)
}

// Acquirer grants permission for one outbound call.
type Acquirer interface {
	TryAcquire(ctx context.Context) bool
}

// MarketplaceOptions tune the marketplace source.
type MarketplaceOptions struct {
	MaxPages int
	Cutoff   float64
}

// Marketplace queries the external catalog behind the quota gate.
type Marketplace struct {
	client   Searcher
	gate     Acquirer
	recent   *RecentIndex
	maxPages int
	cutoff   float64
	log      *slog.Logger
}

// NewMarketplace returns the marketplace source. recent may be nil.
func NewMarketplace(client Searcher, gate Acquirer, recent *RecentIndex, opts MarketplaceOptions, logger *slog.Logger) *Marketplace {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 2
	}
	if opts.Cutoff <= 0 {
		opts.Cutoff = textnorm.MarketplaceCutoff
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Marketplace{
		client:   client,
		gate:     gate,
		recent:   recent,
		maxPages: opts.MaxPages,
		cutoff:   opts.Cutoff,
		log:      logger,
	}
}

// Name implements Source.
func (m *Marketplace) Name() models.SourceKind { return models.SourceMarketplace }

// Fetch implements Source. Every page costs one quota permit; when the gate
// refuses, the pages fetched so far are returned and no call is made.
func (m *Marketplace) Fetch(ctx context.Context, q Query) ([]models.Candidate, error) {
	if !m.client.Available() {
		return nil, fmt.Errorf("%w: marketplace circuit open", ErrSourceUnavailable)
	}

	recent := m.recentTitles(ctx)
	want := q.Need * 2
	if want <= 0 {
		want = m.client.PageSize()
	}

	var out []models.Candidate
	for page := 1; page <= m.maxPages; page++ {
		if !m.gate.TryAcquire(ctx) {
			if len(out) == 0 {
				return nil, quota.ErrQuotaExceeded
			}
			m.log.Info("marketplace quota exhausted mid-fetch", slog.String("keyword", q.Keyword), slog.Int("collected", len(out)))
			return out, nil
		}

		items, err := m.client.Search(ctx, q.Keyword, page)
		if err != nil {
			if len(out) > 0 {
				m.log.Warn("marketplace page failed", slog.Int("page", page), slog.Any("err", err))
				return out, nil
			}
			return nil, fmt.Errorf("%w: marketplace search: %w", ErrSourceUnavailable, err)
		}

		for _, it := range items {
			c := it.Candidate(MarketplaceScore)
			if c.Price <= 0 || !q.Price.Contains(c.Price) {
				continue
			}
			if Known(recent, c.Title, m.cutoff) {
				continue
			}
			out = append(out, c)
		}
		if len(out) >= want || len(items) < m.client.PageSize() {
			break
		}
	}
	return out, nil
}

func (m *Marketplace) recentTitles(ctx context.Context) []string {
	if m.recent == nil {
		return nil
	}
	titles, err := m.recent.Titles(ctx)
	if err != nil {
		m.log.Warn("recent title index stale", slog.Any("err", err))
	}
	return titles
}
