// Package recommend assembles fair, de-duplicated gift recommendations from
// the candidate sources.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/metrics"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// ErrInvalidRequest is returned for requests that cannot be served at all.
var ErrInvalidRequest = errors.New("invalid recommendation request")

// Status summarizes how complete a result is.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusEmpty   Status = "empty"
)

// Options tune the engine.
type Options struct {
	DefaultSize  int
	MaxSize      int
	MaxKeywords  int
	MaxPerSeller int
	MergeCutoff  float64
	TopUpSlack   float64
	BufferFactor int
	Timeout      time.Duration
}

func (o *Options) withDefaults() {
	if o.DefaultSize <= 0 {
		o.DefaultSize = 10
	}
	if o.MaxSize <= 0 {
		o.MaxSize = 50
	}
	if o.MaxKeywords <= 0 {
		o.MaxKeywords = 10
	}
	if o.MaxPerSeller <= 0 {
		o.MaxPerSeller = 2
	}
	if o.MergeCutoff <= 0 {
		o.MergeCutoff = textnorm.MergeCutoff
	}
	if o.TopUpSlack <= 0 {
		o.TopUpSlack = 0.15
	}
	if o.BufferFactor <= 0 {
		o.BufferFactor = 2
	}
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
}

// Request is one recommendation query.
type Request struct {
	Keywords []string          `json:"keywords"`
	Price    models.PriceRange `json:"price"`
	Size     int               `json:"size"`
	Hints    models.Hints      `json:"hints"`
}

// Result is the assembled recommendation.
type Result struct {
	RequestID      string                    `json:"request_id"`
	Status         Status                    `json:"status"`
	Target         int                       `json:"target"`
	Keywords       []string                  `json:"keywords"`
	Items          []models.Candidate        `json:"items"`
	SourceCounts   map[models.SourceKind]int `json:"source_counts"`
	UsedGlobalPool bool                      `json:"used_global_pool"`
	ToppedUp       bool                      `json:"topped_up"`
	Elapsed        time.Duration             `json:"-"`
}

// Service answers recommendation requests.
type Service struct {
	agg  *Aggregator
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// NewService creates the engine around an aggregator.
func NewService(agg *Aggregator, opts Options, logger *slog.Logger) *Service {
	opts.withDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{agg: agg, opts: opts, log: logger, now: time.Now}
}

// Recommend collects candidates for the request keywords and allocates them
// fairly. Degraded sources and short or empty results are reported through
// Result.Status; only a malformed request returns an error.
func (s *Service) Recommend(ctx context.Context, req Request) (*Result, error) {
	keywords, target, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	start := s.now()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	primary := (target + len(keywords) - 1) / len(keywords)
	col := &collection{
		keywords:   keywords,
		hints:      req.Hints,
		target:     target,
		primary:    primary,
		buffer:     primary * s.opts.BufferFactor,
		gate:       newFilterGate(keywords, s.opts.MergeCutoff, s.opts.MaxPerSeller, s.log),
		perKeyword: make([]int, len(keywords)),
	}

	s.agg.collect(ctx, col, req.Price)
	plan := Allocate(keywords, col.gate.accepted, target, col.primary, col.buffer)

	toppedUp := false
	if len(plan.Result) < target && ctx.Err() == nil {
		toppedUp = true
		s.agg.collect(ctx, col, req.Price.Loosen(s.opts.TopUpSlack))
		plan = Allocate(keywords, col.gate.accepted, target, col.primary, col.buffer)
	}

	res := &Result{
		RequestID:      uuid.NewString(),
		Status:         statusOf(len(plan.Result), target),
		Target:         target,
		Keywords:       keywords,
		Items:          plan.Result,
		SourceCounts:   make(map[models.SourceKind]int),
		UsedGlobalPool: col.usedPool,
		ToppedUp:       toppedUp,
		Elapsed:        s.now().Sub(start),
	}
	for _, c := range res.Items {
		res.SourceCounts[c.Source]++
	}

	metrics.RecommendResultSize.Observe(float64(len(res.Items)))
	metrics.RecommendDuration.Observe(res.Elapsed.Seconds())
	metrics.RecommendOutcome.WithLabelValues(string(res.Status)).Inc()

	s.log.Info("recommendation assembled",
		slog.String("request_id", res.RequestID),
		slog.String("status", string(res.Status)),
		slog.Int("keywords", len(keywords)),
		slog.Int("target", target),
		slog.Int("items", len(res.Items)),
		slog.Int("accepted", len(col.gate.accepted)),
		slog.Bool("global_pool", res.UsedGlobalPool),
		slog.Bool("top_up", res.ToppedUp),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (s *Service) validate(req Request) ([]string, int, error) {
	seen := make(map[string]struct{}, len(req.Keywords))
	keywords := make([]string, 0, len(req.Keywords))
	for _, kw := range req.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		keywords = append(keywords, kw)
	}

	switch {
	case len(keywords) == 0:
		return nil, 0, fmt.Errorf("%w: at least one keyword is required", ErrInvalidRequest)
	case len(keywords) > s.opts.MaxKeywords:
		return nil, 0, fmt.Errorf("%w: at most %d keywords are allowed", ErrInvalidRequest, s.opts.MaxKeywords)
	case req.Size < 0 || req.Size > s.opts.MaxSize:
		return nil, 0, fmt.Errorf("%w: size must be between 1 and %d", ErrInvalidRequest, s.opts.MaxSize)
	case req.Price.Min < 0 || req.Price.Max < 0:
		return nil, 0, fmt.Errorf("%w: prices must not be negative", ErrInvalidRequest)
	case req.Price.Max > 0 && req.Price.Min > req.Price.Max:
		return nil, 0, fmt.Errorf("%w: min price exceeds max price", ErrInvalidRequest)
	}

	target := req.Size
	if target == 0 {
		target = s.opts.DefaultSize
	}
	return keywords, target, nil
}

func statusOf(n, target int) Status {
	switch {
	case n == 0:
		return StatusEmpty
	case n < target:
		return StatusPartial
	default:
		return StatusOK
	}
}
