package source

import (
	"context"
	"fmt"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/store"
)

// ProductSearcher is the exact-match store lookup.
type ProductSearcher interface {
	Search(ctx context.Context, f store.Filter) ([]models.Product, error)
}

// Exact matches the keyword against titles, categories and tags.
type Exact struct {
	store ProductSearcher
}

// NewExact returns the exact-match source.
func NewExact(s ProductSearcher) *Exact {
	return &Exact{store: s}
}

// Name implements Source.
func (e *Exact) Name() models.SourceKind { return models.SourceExact }

// Fetch implements Source.
func (e *Exact) Fetch(ctx context.Context, q Query) ([]models.Candidate, error) {
	products, err := e.store.Search(ctx, store.Filter{
		Keyword:    q.Keyword,
		Price:      q.Price,
		Gender:     q.Hints.Gender,
		ExcludeIDs: q.Exclude,
		Limit:      fetchLimit(q.Need, 20),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: exact search: %w", ErrSourceUnavailable, err)
	}

	out := make([]models.Candidate, 0, len(products))
	for _, p := range products {
		out = append(out, p.Candidate(models.SourceExact, ExactScore))
	}
	return out, nil
}
