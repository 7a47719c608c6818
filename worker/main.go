package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/config"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/elasticsearch"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/embedding"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/logger"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/vectorsync"
)

type eventSyncer interface {
	Sync(ctx context.Context, e vectorsync.Event) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, cfg.Embedding.Dimension, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Error("ensure vector index", slog.Any("err", err))
		os.Exit(1)
	}

	embedder, err := newEmbedder(cfg.Embedding, log)
	if err != nil {
		log.Error("init embedding", slog.Any("err", err))
		os.Exit(1)
	}

	syncer := vectorsync.NewSyncer(embedder, esClient, vectorsync.Options{
		MaxAttempts:    cfg.SyncAttempts,
		BaseDelay:      cfg.SyncBackoff,
		DedupeCapacity: cfg.DedupeCapacity,
		DedupeTTL:      cfg.DedupeTTL,
	}, log)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.KafkaTopic+"_dlq"),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, syncer, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if !sendToDLQ(ctx, log, dlqWriter, dlqMessage(msg, err, time.Now())) {
				if ctx.Err() != nil {
					return
				}
				// Leave the offset uncommitted so the message is redelivered on restart.
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
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
		log.Warn("embedding provider disabled, indexing synthetic vectors")
		return embedding.NewClient(nil, opts, log), nil
	}
	provider, err := embedding.NewHTTPProvider(cfg.URL, cfg.APIKey, cfg.Model, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return embedding.NewClient(provider, opts, log), nil
}

func processMessage(ctx context.Context, log *slog.Logger, syncer eventSyncer, msg kafka.Message) error {
	e, err := vectorsync.Decode(msg.Value)
	if err != nil {
		return err
	}
	log.Debug("sync event received",
		slog.String("id", e.ID),
		slog.String("op", string(e.Op)),
		slog.Int64("product_id", e.ProductID),
	)
	return syncer.Sync(ctx, e)
}

func dlqMessage(msg kafka.Message, cause error, at time.Time) kafka.Message {
	headers := append([]kafka.Header(nil), msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(at.UTC().Format(time.RFC3339))},
	)
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// sendToDLQ retries the write with exponential backoff and reports success.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message) bool {
	for attempt := 0; attempt < 5; attempt++ {
		dlqErr := w.WriteMessages(ctx, msg)
		if dlqErr == nil {
			log.Info("message sent to DLQ", slog.Int("attempt", attempt+1))
			return true
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}
