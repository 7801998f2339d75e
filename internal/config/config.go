package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr     string
	ElasticsearchIndex    string
	ElasticsearchUsername string
	ElasticsearchPassword string
}

// Import controls the CSV ingestion pipeline.
type Import struct {
	BatchSize     int
	DefaultFile   string
	RecreateIndex bool
}

// Worker holds configuration for the Kafka import-request consumer.
type Worker struct {
	Common
	Import
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Import
	BindAddr    string
	DefaultPage int
	MaxPage     int
	CORSOrigins []string
}

// Importer configures the one-shot import CLI.
type Importer struct {
	Common
	Import
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	imp, err := loadImport()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         loadCommon(),
		Import:         imp,
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "post_imports"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "post-import-worker"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 1000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "1h"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	imp, err := loadImport()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:      loadCommon(),
		Import:      imp,
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:5000"),
		DefaultPage: getInt("API_PAGE_SIZE", 10),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
		CORSOrigins: splitAndTrim(getEnv("API_CORS_ORIGINS", "*")),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadImporter builds an Importer config from environment variables.
func LoadImporter() (*Importer, error) {
	imp, err := loadImport()
	if err != nil {
		return nil, err
	}
	return &Importer{Common: loadCommon(), Import: imp}, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "87600h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:     getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex:    getEnv("ELASTICSEARCH_INDEX", "trump_posts"),
		ElasticsearchUsername: getEnv("ELASTICSEARCH_USERNAME", ""),
		ElasticsearchPassword: getEnv("ELASTICSEARCH_PASSWORD", ""),
	}
}

func loadImport() (Import, error) {
	c := Import{
		BatchSize:     getInt("IMPORT_BATCH_SIZE", 500),
		DefaultFile:   getEnv("IMPORT_DEFAULT_FILE", "Facebook posts by DonaldTrump.csv"),
		RecreateIndex: getBool("IMPORT_RECREATE_INDEX", false),
	}

	if c.BatchSize <= 0 {
		return Import{}, fmt.Errorf("IMPORT_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
