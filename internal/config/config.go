package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Quality-control defaults, overridable per scene request.
	DefaultVariant  domain.Variant
	NightOnly       bool
	QualityFallback bool
	Workers         int
	ProductsFile    string
	// SceneCacheSize bounds the decoded-scene LRU; 0 disables it.
	SceneCacheSize int
	// AssessSceneRoot is the directory POST /assess may read local scenes
	// from. Empty limits it to s3:// scenes.
	AssessSceneRoot string

	// Optional stores. Empty values disable them.
	S3Region    string
	S3Endpoint  string
	PostgresDSN string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	variant, err := domain.ParseVariant(sharedcfg.EnvOrDefault("QC_DEFAULT_VARIANT", string(domain.SevenBand)))
	if err != nil {
		return nil, fmt.Errorf("invalid QC_DEFAULT_VARIANT: %w", err)
	}

	nightOnly, err := parseBool("QC_NIGHT_ONLY", true)
	if err != nil {
		return nil, err
	}
	fallback, err := parseBool("QC_QUALITY_FALLBACK", false)
	if err != nil {
		return nil, err
	}

	workers, err := strconv.Atoi(sharedcfg.EnvOrDefault("QC_WORKERS", "4"))
	if err != nil || workers <= 0 {
		return nil, errors.New("invalid QC_WORKERS")
	}

	cacheSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("QC_SCENE_CACHE_SIZE", "8"))
	if err != nil || cacheSize < 0 {
		return nil, errors.New("invalid QC_SCENE_CACHE_SIZE")
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "viirs-scene-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "viirs-quality-reports"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "viirs-qc"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DefaultVariant:  variant,
		NightOnly:       nightOnly,
		QualityFallback: fallback,
		Workers:         workers,
		ProductsFile:    os.Getenv("QC_PRODUCTS_FILE"),
		SceneCacheSize:  cacheSize,
		AssessSceneRoot: os.Getenv("QC_ASSESS_SCENE_ROOT"),

		S3Region:    sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}
