package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/analysis"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Digest backends.
const (
	DigestBackendFile   = "file"
	DigestBackendBadger = "badger"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedURL        string
	FeedTimeout    time.Duration
	WatchTimeout   time.Duration
	IngestInterval time.Duration
	WatchInterval  time.Duration

	DBPath        string
	DigestBackend string
	DigestPath    string

	NotifyBuffer       int
	RefreshMinInterval time.Duration

	RiskPolicy analysis.SelectionPolicy
	Anomaly    analysis.DetectorConfig

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		FeedURL:       sharedcfg.EnvOrDefault("FEED_URL", "http://www.koeri.boun.edu.tr/scripts/lst2.asp"),
		DBPath:        sharedcfg.EnvOrDefault("DB_PATH", "earthquakes.db"),
		DigestBackend: strings.ToLower(sharedcfg.EnvOrDefault("DIGEST_BACKEND", DigestBackendFile)),
		DigestPath:    sharedcfg.EnvOrDefault("DIGEST_PATH", "feed-digest.json"),
		KafkaEnabled:  os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:  sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    sharedcfg.EnvOrDefault("KAFKA_TOPIC", "seismic-events"),
		HTTPAddr:      sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:      sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),

		ShutdownTimeout: shutdownTimeout,
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"FEED_TIMEOUT", "30s", &cfg.FeedTimeout},
		{"WATCH_TIMEOUT", "15s", &cfg.WatchTimeout},
		{"INGEST_INTERVAL", "10m", &cfg.IngestInterval},
		{"WATCH_INTERVAL", "1m", &cfg.WatchInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parsePositiveDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	cfg.RefreshMinInterval, err = time.ParseDuration(sharedcfg.EnvOrDefault("REFRESH_MIN_INTERVAL", "5s"))
	if err != nil || cfg.RefreshMinInterval < 0 {
		return nil, errors.New("invalid REFRESH_MIN_INTERVAL")
	}

	if cfg.NotifyBuffer, err = parsePositiveInt("NOTIFY_BUFFER", 64); err != nil {
		return nil, err
	}

	if cfg.RiskPolicy, err = parseRiskPolicy(); err != nil {
		return nil, err
	}
	if cfg.Anomaly, err = parseAnomaly(); err != nil {
		return nil, err
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL is required")
	}
	if cfg.WatchInterval >= cfg.IngestInterval {
		return nil, errors.New("WATCH_INTERVAL must be shorter than INGEST_INTERVAL")
	}
	if cfg.DigestBackend != DigestBackendFile && cfg.DigestBackend != DigestBackendBadger {
		return nil, fmt.Errorf("invalid DIGEST_BACKEND %q: must be %q or %q", cfg.DigestBackend, DigestBackendFile, DigestBackendBadger)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseRiskPolicy() (analysis.SelectionPolicy, error) {
	policy := analysis.DefaultPolicy()
	policy.Kind = analysis.PolicyKind(strings.ToLower(sharedcfg.EnvOrDefault("RISK_POLICY", string(policy.Kind))))

	n, err := parsePositiveInt("RISK_TOP_N", policy.TopN)
	if err != nil {
		return policy, err
	}
	policy.TopN = n

	if s := os.Getenv("RISK_THRESHOLD"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return policy, errors.New("invalid RISK_THRESHOLD")
		}
		policy.Threshold = v
	}

	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid RISK_POLICY: %w", err)
	}
	return policy, nil
}

func parseAnomaly() (analysis.DetectorConfig, error) {
	cfg := analysis.DefaultDetectorConfig()

	features, err := analysis.ParseFeatures(sharedcfg.EnvOrDefault("ANOMALY_FEATURES", "lat,lng,depth,mag"))
	if err != nil {
		return cfg, fmt.Errorf("invalid ANOMALY_FEATURES: %w", err)
	}
	cfg.Features = features

	if s := os.Getenv("ANOMALY_CONTAMINATION"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v > 0.5 {
			return cfg, errors.New("invalid ANOMALY_CONTAMINATION: must be in (0, 0.5]")
		}
		cfg.Contamination = v
	}

	if s := os.Getenv("ANOMALY_SEED"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return cfg, errors.New("invalid ANOMALY_SEED")
		}
		cfg.Seed = v
	}
	return cfg, nil
}
