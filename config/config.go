package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"propval/internal/models"
)

// BatchProcessingConfig controls feed ingestion
type BatchProcessingConfig struct {
	// Maximum number of properties accepted in one batch
	MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"500"`

	// Number of batches the queue buffers before rejecting new ones
	QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"100"`

	// Number of concurrent batch processors
	ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

	// Maximum number of retries for failed batches
	MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

	// Delay between retries
	RetryDelay time.Duration `env:"BATCH_RETRY_DELAY" envDefault:"5s"`
}

type StoreConfig struct {
	// sqlite keeps models next to the feed, redis shares them between instances
	Backend     string        `env:"MODEL_STORE" envDefault:"sqlite"`
	RedisAddr   string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix string        `env:"REDIS_PREFIX" envDefault:"propval:"`
	RedisTTL    time.Duration `env:"REDIS_TTL" envDefault:"0s"`
}

type GeocoderConfig struct {
	Enabled     bool          `env:"GEOCODER_ENABLED" envDefault:"false"`
	BaseURL     string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org"`
	CountryCode string        `env:"GEOCODER_COUNTRY" envDefault:"nl"`
	UserAgent   string        `env:"GEOCODER_USER_AGENT" envDefault:"propval/1.0"`
	CacheFile   string        `env:"GEOCODER_CACHE_FILE" envDefault:"data/geocode_cache.json"`
	Interval    time.Duration `env:"GEOCODER_INTERVAL" envDefault:"1s"`
	Timeout     time.Duration `env:"GEOCODER_TIMEOUT" envDefault:"10s"`
}

type Config struct {
	Port     string `env:"PORT" envDefault:"5250"`
	DBPath   string `env:"DB_PATH" envDefault:"data/properties.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	GinMode  string `env:"GIN_MODE" envDefault:"release"`

	// Origins allowed by CORS, comma separated
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// YAML file listing markets and their appreciation rates
	MarketsFile string `env:"MARKETS_FILE" envDefault:"config/markets.yaml"`

	// Cron spec for retraining every model kind on the full feed, empty disables
	RetrainSchedule string `env:"RETRAIN_SCHEDULE" envDefault:"0 3 * * *"`

	// Cron spec for geocoding listings without coordinates, used when the
	// geocoder is enabled
	GeocodeSchedule string `env:"GEOCODE_SCHEDULE" envDefault:"@hourly"`

	ComparablesTopN int `env:"COMPARABLES_TOP_N" envDefault:"5"`
	ForecastMonths  int `env:"FORECAST_MONTHS" envDefault:"12"`

	BatchProcessing BatchProcessingConfig
	Store           StoreConfig
	Geocoder        GeocoderConfig
	Investment      models.InvestmentAssumptions `envPrefix:"INVEST_"`
}

// LoadConfig reads an optional .env file and then the environment. Values
// already set in the environment win over the file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid MODEL_STORE %q: want sqlite or redis", c.Store.Backend)
	}
	switch c.Investment.Amortization {
	case models.AmortizationLinear, models.AmortizationSchedule:
	default:
		return fmt.Errorf("invalid INVEST_AMORTIZATION %q: want linear or schedule", c.Investment.Amortization)
	}
	if c.BatchProcessing.ProcessorCount < 1 {
		return fmt.Errorf("BATCH_PROCESSOR_COUNT must be at least 1")
	}
	if c.BatchProcessing.QueueSize < 1 {
		return fmt.Errorf("BATCH_QUEUE_SIZE must be at least 1")
	}
	if c.BatchProcessing.MaxRetries < 0 {
		return fmt.Errorf("BATCH_MAX_RETRIES must not be negative")
	}
	return nil
}
