package config_test

import (
	"testing"
	"time"

	"github.com/DeafMist/post-search/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")
	t.Setenv("IMPORT_BATCH_SIZE", "")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "trump_posts", cfg.ElasticsearchIndex)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "post_imports", cfg.KafkaTopic)
	require.Equal(t, "post-import-worker", cfg.KafkaConsumer)
	require.Equal(t, 500, cfg.BatchSize)
	require.Equal(t, time.Hour, cfg.DedupeTTL)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("ELASTICSEARCH_INDEX", "custom")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "custom_topic")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "5")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("IMPORT_BATCH_SIZE", "3")
	t.Setenv("IMPORT_RECREATE_INDEX", "true")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, "custom", cfg.ElasticsearchIndex)
	require.Len(t, cfg.KafkaBrokers, 2)
	require.Equal(t, "broker-a:29092", cfg.KafkaBrokers[0])
	require.Equal(t, "custom_topic", cfg.KafkaTopic)
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
	require.True(t, cfg.RecreateIndex)
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("API_CORS_ORIGINS", "http://localhost:3000, http://example.com")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")
	t.Setenv("IMPORT_DEFAULT_FILE", "posts.csv")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, []string{"http://localhost:3000", "http://example.com"}, cfg.CORSOrigins)
	require.Equal(t, "http://api-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)
	require.Equal(t, "posts.csv", cfg.DefaultFile)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		load func() error
		want string
	}{
		{
			name: "page above max",
			env:  map[string]string{"API_PAGE_SIZE": "50", "API_MAX_PAGE_SIZE": "10"},
			load: func() error { _, err := config.LoadAPI(); return err },
			want: "API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE",
		},
		{
			name: "non-positive batch",
			env:  map[string]string{"IMPORT_BATCH_SIZE": "0"},
			load: func() error { _, err := config.LoadImporter(); return err },
			want: "IMPORT_BATCH_SIZE must be positive",
		},
		{
			name: "empty broker list",
			env:  map[string]string{"KAFKA_BROKERS": " , "},
			load: func() error { _, err := config.LoadWorker(); return err },
			want: "KAFKA_BROKERS must contain at least one broker",
		},
		{
			name: "zero dedupe capacity",
			env:  map[string]string{"WORKER_DEDUPE_CAPACITY": "0"},
			load: func() error { _, err := config.LoadWorker(); return err },
			want: "WORKER_DEDUPE_CAPACITY must be positive",
		},
		{
			name: "negative retention batch",
			env:  map[string]string{"RETENTION_BATCH_SIZE": "-1"},
			load: func() error { _, err := config.LoadRetention(); return err },
			want: "RETENTION_BATCH_SIZE must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			require.EqualError(t, tt.load(), tt.want)
		})
	}
}

func TestLoadImporterFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "lots")
	t.Setenv("IMPORT_RECREATE_INDEX", "maybe")
	t.Setenv("IMPORT_DEFAULT_FILE", "")

	cfg, err := config.LoadImporter()
	require.NoError(t, err)
	require.Equal(t, 500, cfg.BatchSize)
	require.False(t, cfg.RecreateIndex)
	require.Equal(t, "Facebook posts by DonaldTrump.csv", cfg.DefaultFile)
}

func TestLoadRetention(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://ret-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "ret-index")
	t.Setenv("RETENTION_CRON", "12h")
	t.Setenv("RETENTION_MAX_AGE", "36h")
	t.Setenv("RETENTION_BATCH_SIZE", "123")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 36*time.Hour, cfg.MaxAge)
	require.Equal(t, 123, cfg.BatchSize)
	require.Equal(t, "http://ret-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "ret-index", cfg.ElasticsearchIndex)
}
