package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// PoolLoader lists the newest confirmed products.
type PoolLoader interface {
	RecentPool(ctx context.Context, price models.PriceRange, limit int) ([]models.Product, error)
}

// GlobalPool re-scores the newest products against every request keyword.
// It is only consulted when the keyword sources fall short.
type GlobalPool struct {
	store PoolLoader
	limit int
}

// NewGlobalPool returns the pool source reading up to limit products.
func NewGlobalPool(s PoolLoader, limit int) *GlobalPool {
	if limit <= 0 || limit > 1200 {
		limit = 1200
	}
	return &GlobalPool{store: s, limit: limit}
}

// Name implements Source.
func (g *GlobalPool) Name() models.SourceKind { return models.SourceGlobalPool }

// Fetch implements Source. q.Keyword is ignored; products matching more of
// q.Keywords rank first.
func (g *GlobalPool) Fetch(ctx context.Context, q Query) ([]models.Candidate, error) {
	products, err := g.store.RecentPool(ctx, q.Price, g.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: global pool: %w", ErrSourceUnavailable, err)
	}

	excluded := excludeSet(q.Exclude)
	band := ageBandOf(q.Hints.Age)
	out := make([]models.Candidate, 0, len(products))
	for _, p := range products {
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		c := p.Candidate(models.SourceGlobalPool, 0)
		matched := 0
		for _, kw := range q.Keywords {
			if textnorm.ContainsKeyword(c.Title, c.Tags, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := GlobalPoolScore*float64(matched)/float64(len(q.Keywords)) + affinity(band, q.Hints.Age, p)
		out = append(out, c.WithScore(score))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

type ageBand int

const (
	bandUnknown ageBand = iota
	bandChild
	bandTeen
	bandAdult
)

var (
	childMarkers = []string{"유아", "아동", "어린이", "키즈", "베이비", "장난감", "kids", "baby", "toy"}
	adultMarkers = []string{"와인", "위스키", "맥주", "전통주", "성인", "wine", "whisky", "beer"}
)

func ageBandOf(age string) ageBand {
	a := strings.ToLower(strings.TrimSpace(age))
	switch {
	case a == "":
		return bandUnknown
	case containsAny(a, childMarkers), strings.HasPrefix(a, "0"), a == "child":
		return bandChild
	case strings.HasPrefix(a, "10"), a == "teen", strings.Contains(a, "청소년"):
		return bandTeen
	default:
		return bandAdult
	}
}

// affinity nudges a pool product up when it targets the hinted age group and
// down when it plainly targets another one.
func affinity(band ageBand, age string, p models.Product) float64 {
	if band == bandUnknown {
		return 0
	}
	if p.AgeGroup != "" && strings.EqualFold(p.AgeGroup, strings.TrimSpace(age)) {
		return AffinityStep
	}

	text := strings.ToLower(p.Title + " " + p.Category + " " + strings.Join(p.Tags, " "))
	switch band {
	case bandAdult:
		if containsAny(text, childMarkers) {
			return -AffinityStep
		}
	case bandChild, bandTeen:
		if containsAny(text, adultMarkers) {
			return -AffinityStep
		}
		if band == bandChild && containsAny(text, childMarkers) {
			return AffinityStep
		}
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
