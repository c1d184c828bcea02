package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port string `env:"SERVER_PORT" envDefault:"5250"`

		// Origins allowed to call the API from a browser
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	}

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database struct {
		// sqlite or postgres
		Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
		DSN    string `env:"DATABASE_DSN" envDefault:"database/dealtracker.db"`
	}

	Census struct {
		// An empty key disables all external calls; markets are then served from the cache only
		APIKey  string `env:"CENSUS_API_KEY"`
		BaseURL string `env:"CENSUS_BASE_URL" envDefault:"https://api.census.gov/data"`

		// Most recent ACS 5-year vintage to request
		LatestYear int `env:"CENSUS_LATEST_YEAR" envDefault:"2023"`

		// Years before this are never requested
		MinYear int `env:"CENSUS_MIN_YEAR" envDefault:"2010"`
	}

	Geocoder struct {
		Enabled  bool   `env:"GEOCODER_ENABLED" envDefault:"true"`
		CacheDir string `env:"GEOCODER_CACHE_DIR" envDefault:"cache/geocoding"`
	}

	// Maintenance jobs; zero disables a job
	Scheduler struct {
		GeocodeInterval   time.Duration `env:"SCHEDULER_GEOCODE_INTERVAL" envDefault:"1h"`
		ReconcileInterval time.Duration `env:"SCHEDULER_RECONCILE_INTERVAL" envDefault:"6h"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of deals to accumulate before processing
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"100"`

		// Number of concurrent batch processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`

		// Capacity of the ingest queue, in batches
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"50"`
	}
}

// LoadConfig reads an optional .env file, then the process environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Census.MinYear > c.Census.LatestYear {
		return fmt.Errorf("census min year %d is after latest year %d", c.Census.MinYear, c.Census.LatestYear)
	}
	if c.BatchProcessing.MaxBatchSize <= 0 || c.BatchProcessing.ProcessorCount <= 0 {
		return errors.New("batch size and processor count must be positive")
	}
	return nil
}
