package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/elasticsearch"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex finds nearest neighbours.
type VectorIndex interface {
	SearchSimilar(ctx context.Context, vector []float32, limit int, price models.PriceRange) ([]elasticsearch.Hit, error)
}

// ProductLoader resolves index hits back to store rows.
type ProductLoader interface {
	FindByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	FilterIDsByKeyword(ctx context.Context, keyword string, ids []int64) ([]int64, error)
}

// Vector searches the embedding index with a composite query.
type Vector struct {
	embedder      Embedder
	index         VectorIndex
	products      ProductLoader
	minSimilarity float64
	log           *slog.Logger
}

// NewVector returns the vector source. minSimilarity defaults to 0.78.
func NewVector(embedder Embedder, index VectorIndex, products ProductLoader, minSimilarity float64, logger *slog.Logger) *Vector {
	if minSimilarity <= 0 {
		minSimilarity = 0.78
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Vector{
		embedder:      embedder,
		index:         index,
		products:      products,
		minSimilarity: minSimilarity,
		log:           logger,
	}
}

// Name implements Source.
func (v *Vector) Name() models.SourceKind { return models.SourceVector }

// Fetch implements Source. Results are ordered by similarity.
func (v *Vector) Fetch(ctx context.Context, q Query) ([]models.Candidate, error) {
	vec, err := v.embedder.Embed(ctx, QueryText(q))
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrSourceUnavailable, err)
	}

	topK := fetchLimit(q.Need, 10)
	hits, err := v.index.SearchSimilar(ctx, vec, topK, q.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %w", ErrSourceUnavailable, err)
	}

	excluded := excludeSet(q.Exclude)
	similarity := make(map[int64]float64, len(hits))
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < v.minSimilarity {
			continue
		}
		if _, skip := excluded[h.ProductID]; skip {
			continue
		}
		if _, dup := similarity[h.ProductID]; dup {
			continue
		}
		similarity[h.ProductID] = h.Similarity
		ids = append(ids, h.ProductID)
		if len(ids) == topK {
			break
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	products, err := v.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load vector hits: %w", ErrSourceUnavailable, err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	verbatim := v.verbatimIDs(ctx, q.Keyword, ids, byID)

	out := make([]models.Candidate, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			// Indexed but gone from the store; the sync worker will catch up.
			continue
		}
		base := VectorSemanticBase
		if _, ok := verbatim[id]; ok {
			base = VectorVerbatimBase
		}
		out = append(out, p.Candidate(models.SourceVector, base+VectorSimilarWeight*similarity[id]))
	}
	return out, nil
}

// verbatimIDs asks the store which hits carry the keyword in their title and
// falls back to an in-process check when that lookup fails.
func (v *Vector) verbatimIDs(ctx context.Context, keyword string, ids []int64, byID map[int64]models.Product) map[int64]struct{} {
	matched, err := v.products.FilterIDsByKeyword(ctx, keyword, ids)
	if err == nil {
		return excludeSet(matched)
	}
	v.log.Debug("keyword id filter failed, checking titles locally", slog.Any("err", err))

	out := make(map[int64]struct{})
	for id, p := range byID {
		if textnorm.ContainsKeyword(p.Title, nil, keyword) {
			out[id] = struct{}{}
		}
	}
	return out
}
