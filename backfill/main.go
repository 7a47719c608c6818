package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/config"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/logger"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/store"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/vectorsync"
)

type productLister interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]models.Product, error)
}

type savedPublisher interface {
	PublishSaved(ctx context.Context, products ...models.Product) error
}

func main() {
	log := logger.New("backfill")
	cfg, err := config.LoadBackfill()
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

	writer := vectorsync.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer writer.Close()

	total, lastID, err := run(ctx, log, products, vectorsync.NewPublisher(writer), cfg.AfterID, cfg.BatchSize)
	if err != nil {
		// Resume with BACKFILL_AFTER_ID=<last_id>.
		log.Error("backfill stopped", slog.Any("err", err), slog.Int64("last_id", lastID), slog.Int("published", total))
		os.Exit(1)
	}
	log.Info("backfill finished", slog.Int("published", total), slog.Int64("last_id", lastID))
}

// run pages through the product table by id and publishes one saved event
// per product. It returns the count and the last id published.
func run(ctx context.Context, log *slog.Logger, src productLister, pub savedPublisher, afterID int64, batch int) (int, int64, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, afterID, err
		}
		page, err := src.ListAfter(ctx, afterID, batch)
		if err != nil {
			return total, afterID, fmt.Errorf("list products after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			return total, afterID, nil
		}
		if err := pub.PublishSaved(ctx, page...); err != nil {
			return total, afterID, err
		}
		total += len(page)
		afterID = page[len(page)-1].ID
		log.Info("backfill page published", slog.Int("count", len(page)), slog.Int64("last_id", afterID))
		if len(page) < batch {
			return total, afterID, nil
		}
	}
}
