package jobqueue

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "JOBQUEUE_"

// Config represents job queue configuration.
type Config struct {
	// TTL for final journal records (default: 30 days).
	// Finished, cancelled and dropped records older than TTL are deleted by the Janitor.
	JournalTTL time.Duration `env:"TTL" envDefault:"30"`

	// Cleanup periodicity (default: 1 day).
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1"`

	// Directory of the BadgerDB journal. Empty means an in-memory journal.
	JournalPath string `env:"JOURNAL_PATH"`

	// Upper bound for a single journal write (default: 5s).
	JournalTimeout time.Duration `env:"JOURNAL_TIMEOUT" envDefault:"5s"`

	// Initial state of the start switch (default: true).
	StartEnabled bool `env:"START_ENABLED" envDefault:"true"`

	// Minimum log level (default: INFO).
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// LoadConfig loads job queue configuration from environment variables.
// It reads the following environment variables:
//   - JOBQUEUE_TTL: TTL for final journal records (default: 30 days)
//   - JOBQUEUE_CLEANUP_INTERVAL: Cleanup interval (default: 1 day)
//   - JOBQUEUE_JOURNAL_PATH: BadgerDB directory (default: in-memory journal)
//   - JOBQUEUE_JOURNAL_TIMEOUT: Journal write timeout (default: 5s)
//   - JOBQUEUE_START_ENABLED: Initial start switch state (default: true)
//   - JOBQUEUE_LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)
//
// Duration values can be specified as:
//   - Integer number of days (e.g., "30" = 30 days)
//   - Duration string (e.g., "24h", "1h30m")
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): parseDaysOrDuration,
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.JournalTTL <= 0 {
		return nil, fmt.Errorf("journal TTL must be > 0, got %v", cfg.JournalTTL)
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup interval must be > 0, got %v", cfg.CleanupInterval)
	}
	return cfg, nil
}

func parseDaysOrDuration(value string) (interface{}, error) {
	if days, err := strconv.Atoi(value); err == nil {
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}
