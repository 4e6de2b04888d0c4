package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port           string `env:"PORT" env-default:"8080"`
	LogLevel       string `env:"LOG_LEVEL" env-default:"info"`
	ServiceVersion string `env:"SERVICE_VERSION" env-default:"0.1.0"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`

	BackOffice BackOffice
	Drafts     Drafts
	Redis      Redis
	Kafka      Kafka
}

// Drafts untouched for IdleTTL are closed on the next sweep.
type Drafts struct {
	IdleTTL       time.Duration `env:"DRAFT_IDLE_TTL" env-default:"30m"`
	SweepInterval time.Duration `env:"DRAFT_SWEEP_INTERVAL" env-default:"1m"`
}

type BackOffice struct {
	URL                string        `env:"BACKOFFICE_API_URL" env-default:"http://127.0.0.1:5000"`
	Timeout            time.Duration `env:"BACKOFFICE_API_TIMEOUT" env-default:"10s"`
	BreakerMaxFailures uint32        `env:"BREAKER_MAX_FAILURES" env-default:"5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" env-default:"30s"`
}

// Redis caching is off when Addr is empty.
type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	CacheTTL time.Duration `env:"CATALOG_CACHE_TTL" env-default:"30s"`
}

// Kafka publishing is off when Brokers is empty.
type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `env:"KAFKA_TOPIC" env-default:"order.submitted"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	brokers := cfg.Kafka.Brokers[:0]
	for _, b := range cfg.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers

	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	if cfg.Drafts.IdleTTL <= 0 || cfg.Drafts.SweepInterval <= 0 {
		return nil, fmt.Errorf("DRAFT_IDLE_TTL and DRAFT_SWEEP_INTERVAL must be positive")
	}
	if cfg.BackOffice.URL == "" {
		return nil, fmt.Errorf("BACKOFFICE_API_URL must not be empty")
	}

	return &cfg, nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	return level, nil
}
