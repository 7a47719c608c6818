package recommend

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/metrics"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/quota"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/source"
)

// Aggregator runs the per-keyword waterfall over the keyword sources and
// falls back to the global pool.
type Aggregator struct {
	sources []source.Source // priority order
	pool    source.Source
	log     *slog.Logger
}

// NewAggregator wires sources in priority order. pool may be nil.
func NewAggregator(sources []source.Source, pool source.Source, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{sources: sources, pool: pool, log: logger}
}

// collection is the request-scoped state shared by the first pass and the
// top-up pass.
type collection struct {
	keywords []string
	hints    models.Hints
	target   int
	primary  int
	buffer   int

	gate       *filterGate
	perKeyword []int
	usedPool   bool
}

func (c *collection) softCapReached() bool {
	return len(c.gate.accepted) >= 3*c.target
}

// collect runs the waterfall with the given price band, then the global pool
// when the request is still short. A cancelled context stops fetching; what
// was accepted so far stays.
func (a *Aggregator) collect(ctx context.Context, col *collection, price models.PriceRange) {
	a.waterfall(ctx, col, price)

	if a.pool == nil || len(col.gate.accepted) >= col.target || ctx.Err() != nil {
		return
	}
	col.usedPool = true
	items := a.fetch(ctx, a.pool, source.Query{
		Keywords: col.keywords,
		Hints:    col.hints,
		Price:    price,
		Need:     col.target - len(col.gate.accepted),
		Exclude:  col.gate.storeIDs(),
	})
	need := col.target - len(col.gate.accepted)
	for _, c := range items {
		if need == 0 {
			break
		}
		if col.gate.admit(c) == "" {
			need--
		}
	}
}

func (a *Aggregator) waterfall(ctx context.Context, col *collection, price models.PriceRange) {
	for i, kw := range col.keywords {
		for _, src := range a.sources {
			if ctx.Err() != nil {
				a.log.Warn("collection interrupted", slog.String("keyword", kw), slog.Any("err", ctx.Err()))
				return
			}
			if col.softCapReached() {
				return
			}
			count := col.perKeyword[i]
			if count >= col.buffer {
				break
			}
			// Quota is only spent on keywords still below their share.
			if src.Name() == models.SourceMarketplace && count >= col.primary {
				continue
			}

			need := min(col.primary, col.buffer-count)
			items := a.fetch(ctx, src, source.Query{
				Keyword:  kw,
				Keywords: col.keywords,
				Hints:    col.hints,
				Price:    price,
				Need:     need,
				Exclude:  col.gate.storeIDs(),
			})

			added := 0
			for _, c := range items {
				if added == need {
					break
				}
				if col.gate.admit(c) == "" {
					added++
				}
			}
			col.perKeyword[i] += added
		}
	}
}

// fetch calls one source and absorbs its failure.
func (a *Aggregator) fetch(ctx context.Context, src source.Source, q source.Query) []models.Candidate {
	name := string(src.Name())
	items, err := src.Fetch(ctx, q)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			a.log.Info("source skipped, quota exhausted", slog.String("source", name), slog.String("keyword", q.Keyword))
			return nil
		}
		metrics.SourceFailures.WithLabelValues(name).Inc()
		a.log.Warn("source degraded", slog.String("source", name), slog.String("keyword", q.Keyword), slog.Any("err", err))
		return nil
	}
	metrics.SourceCandidates.WithLabelValues(name).Add(float64(len(items)))
	return items
}
