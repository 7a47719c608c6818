package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/config"
)

func TestLoadAPIDefaults(t *testing.T) {
	cfg, err := config.LoadAPI()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "product_vectors", cfg.ElasticsearchIndex)
	require.Equal(t, "0.0.0.0:8080", cfg.BindAddr)

	require.Equal(t, 10, cfg.Recommend.DefaultSize)
	require.Equal(t, 50, cfg.Recommend.MaxSize)
	require.Equal(t, 10, cfg.Recommend.MaxKeywords)
	require.Equal(t, 2, cfg.Recommend.MaxPerSeller)
	require.Equal(t, 0.85, cfg.Recommend.MergeCutoff)
	require.Equal(t, 0.90, cfg.Recommend.MarketplaceCutoff)
	require.Equal(t, 0.78, cfg.Recommend.VectorMinSimilarity)
	require.Equal(t, 1200, cfg.Recommend.PoolLimit)
	require.Equal(t, 0.15, cfg.Recommend.TopUpSlack)
	require.Equal(t, 8*time.Second, cfg.Recommend.Timeout)

	require.Equal(t, 10.0, cfg.Quota.RatePerSecond)
	require.EqualValues(t, 25000, cfg.Quota.DailyLimit)
	require.Equal(t, 2*time.Second, cfg.Quota.MaxWait)
	require.Equal(t, "redis", cfg.Quota.Backend)

	require.True(t, cfg.Embedding.Enabled)
	require.Equal(t, 1536, cfg.Embedding.Dimension)
	require.Equal(t, 50000, cfg.Embedding.CacheSize)
	require.Equal(t, 12*time.Hour, cfg.Embedding.CacheTTL)

	require.Equal(t, 40, cfg.Marketplace.PageSize)
	require.Equal(t, 2, cfg.Marketplace.MaxPages)
	require.Equal(t, 500, cfg.Marketplace.RecentIndexSize)
	require.Equal(t, 10*time.Minute, cfg.Marketplace.RecentIndexTTL)
}

func TestLoadAPIOverrides(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("RECOMMEND_DEFAULT_SIZE", "6")
	t.Setenv("RECOMMEND_MERGE_CUTOFF", "0.9")
	t.Setenv("QUOTA_BACKEND", "MEMORY")
	t.Setenv("QUOTA_RPS", "2.5")
	t.Setenv("EMBEDDING_ENABLED", "false")
	t.Setenv("MARKET_MAX_PAGES", "1")
	t.Setenv("REDIS_DB", "3")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 6, cfg.Recommend.DefaultSize)
	require.Equal(t, 0.9, cfg.Recommend.MergeCutoff)
	require.Equal(t, "memory", cfg.Quota.Backend)
	require.Equal(t, 2.5, cfg.Quota.RatePerSecond)
	require.False(t, cfg.Embedding.Enabled)
	require.Equal(t, 1, cfg.Marketplace.MaxPages)
	require.Equal(t, 3, cfg.RedisDB)

	loc, err := cfg.Quota.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoadAPIValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "default above max", key: "RECOMMEND_DEFAULT_SIZE", val: "60"},
		{name: "cutoff above one", key: "RECOMMEND_MERGE_CUTOFF", val: "1.5"},
		{name: "slack too wide", key: "RECOMMEND_TOPUP_SLACK", val: "1"},
		{name: "pool too large", key: "RECOMMEND_POOL_LIMIT", val: "5000"},
		{name: "unknown backend", key: "QUOTA_BACKEND", val: "etcd"},
		{name: "bad timezone", key: "QUOTA_TIMEZONE", val: "Mars/Olympus"},
		{name: "bad dimension", key: "EMBEDDING_DIM", val: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := config.LoadAPI()
			require.Error(t, err)
		})
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "custom_topic")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_SYNC_BACKOFF", "not-a-duration")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "custom_topic", cfg.KafkaTopic)
	require.Equal(t, "vector-sync-worker", cfg.KafkaConsumer)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 500*time.Millisecond, cfg.SyncBackoff)
	require.Equal(t, 3, cfg.SyncAttempts)
}

func TestLoadWorkerRejectsEmptyBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := config.LoadWorker()
	require.Error(t, err)
}

func TestLoadBackfill(t *testing.T) {
	t.Setenv("BACKFILL_BATCH_SIZE", "100")
	t.Setenv("BACKFILL_AFTER_ID", "42")

	cfg, err := config.LoadBackfill()
	require.NoError(t, err)
	require.Equal(t, 100, cfg.BatchSize)
	require.EqualValues(t, 42, cfg.AfterID)
	require.Equal(t, "product_saved", cfg.KafkaTopic)
}

func TestLoadHousekeeping(t *testing.T) {
	cfg, err := config.LoadHousekeeping()
	require.NoError(t, err)
	require.Equal(t, "redis:6379", cfg.RedisAddr)

	t.Setenv("QUOTA_BACKEND", "memory")
	_, err = config.LoadHousekeeping()
	require.Error(t, err)
}
