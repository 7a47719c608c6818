// Package source implements the candidate sources queried by the aggregator.
package source

import (
	"context"
	"errors"
	"strings"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
)

// ErrSourceUnavailable marks a source that degraded to an empty result.
var ErrSourceUnavailable = errors.New("source unavailable")

// Relevance scores per source. Exact matches are trusted most, marketplace
// items least.
const (
	ExactScore          = 1.0
	VectorVerbatimBase  = 0.7
	VectorSemanticBase  = 0.5
	VectorSimilarWeight = 0.2
	MarketplaceScore    = 0.3
	GlobalPoolScore     = 0.2
	AffinityStep        = 0.05
)

// Query is one keyword-scoped fetch.
type Query struct {
	Keyword  string
	Keywords []string // every keyword of the request, in request order
	Hints    models.Hints
	Price    models.PriceRange
	Need     int
	Exclude  []int64 // store ids already accepted in this request
}

// Source fetches candidates for a keyword.
type Source interface {
	Name() models.SourceKind
	Fetch(ctx context.Context, q Query) ([]models.Candidate, error)
}

// QueryText composes the semantic query: the keyword, up to four other
// keywords and the free-text hints.
func QueryText(q Query) string {
	parts := []string{strings.TrimSpace(q.Keyword)}

	related := make([]string, 0, 4)
	for _, kw := range q.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || strings.EqualFold(kw, q.Keyword) {
			continue
		}
		related = append(related, kw)
		if len(related) == 4 {
			break
		}
	}
	if len(related) > 0 {
		parts = append(parts, "관련: "+strings.Join(related, ", "))
	}
	if q.Hints.Age != "" {
		parts = append(parts, "연령: "+q.Hints.Age)
	}
	if q.Hints.Gender != "" {
		parts = append(parts, "성별: "+q.Hints.Gender)
	}
	if q.Hints.Occasion != "" {
		parts = append(parts, "상황: "+q.Hints.Occasion)
	}
	if q.Hints.Preference != "" {
		parts = append(parts, "취향: "+q.Hints.Preference)
	}
	return strings.Join(parts, " | ")
}

func fetchLimit(need, floor int) int {
	if n := need * 4; n > floor {
		return n
	}
	return floor
}

func excludeSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
