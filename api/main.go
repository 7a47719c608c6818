package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/config"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/elasticsearch"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/embedding"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/logger"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/marketplace"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/quota"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/recommend"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/source"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/store"
)

const maxBodyBytes = 64 << 10

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	products, err := store.New(ctx, cfg.DSN)
	if err != nil {
		log.Error("init store", slog.Any("err", err))
		os.Exit(1)
	}
	defer products.Close()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, cfg.Embedding.Dimension, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		// Vector search degrades to empty until the index exists.
		log.Warn("ensure vector index", slog.Any("err", err))
	}

	embedder, err := newEmbedder(cfg.Embedding, log)
	if err != nil {
		log.Error("init embedding", slog.Any("err", err))
		os.Exit(1)
	}

	gate, closeCounter, err := newGate(cfg, log)
	if err != nil {
		log.Error("init quota gate", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeCounter()

	market, err := marketplace.NewClient(marketplace.Options{
		BaseURL:      cfg.Marketplace.BaseURL,
		ClientID:     cfg.Marketplace.ClientID,
		ClientSecret: cfg.Marketplace.ClientSecret,
		Timeout:      cfg.Marketplace.Timeout,
		PageSize:     cfg.Marketplace.PageSize,
	}, log)
	if err != nil {
		log.Error("init marketplace", slog.Any("err", err))
		os.Exit(1)
	}

	recent := source.NewRecentIndex(products, cfg.Marketplace.RecentIndexSize, cfg.Marketplace.RecentIndexTTL)
	sources := []source.Source{
		source.NewExact(products),
		source.NewVector(embedder, esClient, products, cfg.Recommend.VectorMinSimilarity, log),
		source.NewMarketplace(market, gate, recent, source.MarketplaceOptions{
			MaxPages: cfg.Marketplace.MaxPages,
			Cutoff:   cfg.Recommend.MarketplaceCutoff,
		}, log),
	}
	agg := recommend.NewAggregator(sources, source.NewGlobalPool(products, cfg.Recommend.PoolLimit), log)
	svc := recommend.NewService(agg, recommend.Options{
		DefaultSize:  cfg.Recommend.DefaultSize,
		MaxSize:      cfg.Recommend.MaxSize,
		MaxKeywords:  cfg.Recommend.MaxKeywords,
		MaxPerSeller: cfg.Recommend.MaxPerSeller,
		MergeCutoff:  cfg.Recommend.MergeCutoff,
		TopUpSlack:   cfg.Recommend.TopUpSlack,
		BufferFactor: cfg.Recommend.BufferFactor,
		Timeout:      cfg.Recommend.Timeout,
	}, log)

	srv := &server{
		log:         log,
		recommender: svc,
		checks: map[string]healthCheck{
			"postgres":      products.Ping,
			"elasticsearch": esClient.Health,
		},
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Recommend.Timeout + 5*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := gate.RunDailyReset(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("api stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func newEmbedder(cfg config.Embedding, log *slog.Logger) (*embedding.Client, error) {
	opts := embedding.Options{
		Model:       cfg.Model,
		Dimension:   cfg.Dimension,
		CacheSize:   cfg.CacheSize,
		CacheTTL:    cfg.CacheTTL,
		CallTimeout: cfg.Timeout,
		Disabled:    !cfg.Enabled,
	}
	if !cfg.Enabled {
		log.Warn("embedding provider disabled, using synthetic vectors")
		return embedding.NewClient(nil, opts, log), nil
	}
	provider, err := embedding.NewHTTPProvider(cfg.URL, cfg.APIKey, cfg.Model, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return embedding.NewClient(provider, opts, log), nil
}

func newGate(cfg *config.API, log *slog.Logger) (*quota.Gate, func(), error) {
	loc, err := cfg.Quota.Location()
	if err != nil {
		return nil, nil, err
	}
	opts := quota.Options{
		RatePerSecond: cfg.Quota.RatePerSecond,
		DailyLimit:    cfg.Quota.DailyLimit,
		MaxWait:       cfg.Quota.MaxWait,
		Location:      loc,
	}

	if cfg.Quota.Backend == "memory" {
		log.Warn("quota counter kept in memory; replicas do not share the daily cap")
		return quota.NewGate(quota.NewMemoryCounter(), opts, log), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("close redis", slog.Any("err", err))
		}
	}
	return quota.NewGate(quota.NewRedisCounter(rdb, ""), opts, log), closeFn, nil
}

type recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Result, error)
}

type healthCheck func(ctx context.Context) error

type server struct {
	log         *slog.Logger
	recommender recommender
	checks      map[string]healthCheck
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/recommendations", s.handleRecommend)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type recommendRequest struct {
	Keywords []string     `json:"keywords"`
	MinPrice int          `json:"min_price"`
	MaxPrice int          `json:"max_price"`
	Size     int          `json:"size"`
	Hints    models.Hints `json:"hints"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

func (s *server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body: " + err.Error()})
		return
	}

	res, err := s.recommender.Recommend(r.Context(), recommend.Request{
		Keywords: req.Keywords,
		Price:    models.PriceRange{Min: req.MinPrice, Max: req.MaxPrice},
		Size:     req.Size,
		Hints: models.Hints{
			Age:        strings.TrimSpace(req.Hints.Age),
			Gender:     strings.TrimSpace(req.Hints.Gender),
			Occasion:   strings.TrimSpace(req.Hints.Occasion),
			Preference: strings.TrimSpace(req.Hints.Preference),
		},
	})
	if err != nil {
		if errors.Is(err, recommend.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.log.Error("recommend", slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
