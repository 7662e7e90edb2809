package idemplug

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/danschultzer/idempotency-plug/types"
)

// Config is the configuration for the Tracker.
//
// All duration fields accept standard Go durations. Zero values are filled
// in with production defaults by NewTracker.
type Config struct {
	// TTL is the lifetime added to "now" to produce an entry's expiry.
	// Applied at creation and refreshed on the transition to a terminal
	// state. Default: 24 hours.
	TTL time.Duration `yaml:"ttl"`

	// PruneInterval is how often the pruner sweeps expired entries from the
	// store. Default: 60 seconds.
	PruneInterval time.Duration `yaml:"pruneInterval"`

	// OperationTimeout bounds individual store operations (lookup, insert,
	// update, prune). Default: 10 seconds.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// InstanceID identifies this tracker instance in owner labels and logs.
	// Defaults to "<hostname>-<random suffix>".
	InstanceID string `yaml:"instanceId"`

	// DisableAutoPrune skips starting the background pruner. Useful when an
	// external job owns eviction (e.g. a cron sweeping the shared table).
	DisableAutoPrune bool `yaml:"disableAutoPrune"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		TTL:              24 * time.Hour,
		PruneInterval:    60 * time.Second,
		OperationTimeout: 10 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = defaults.PruneInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "tracker"
		}
		cfg.InstanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
}

// Validate checks configuration constraints and returns an error for invalid
// values.
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.TTL <= 0 {
		return fmt.Errorf("TTL must be > 0, got %v", cfg.TTL)
	}
	if cfg.PruneInterval <= 0 {
		return fmt.Errorf("PruneInterval must be > 0, got %v", cfg.PruneInterval)
	}
	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("OperationTimeout must be > 0, got %v", cfg.OperationTimeout)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for
// non-recommended values.
//
// Called after Validate() in NewTracker() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger types.Logger) {
	// A prune interval above the TTL means entries linger for up to a full
	// extra interval after expiring.
	if cfg.PruneInterval > cfg.TTL {
		logger.Warn(
			"PruneInterval exceeds TTL, expired entries will linger",
			"pruneInterval", cfg.PruneInterval,
			"ttl", cfg.TTL,
		)
	}

	if cfg.TTL < time.Minute {
		logger.Warn(
			"TTL is very short, cached outcomes may expire before clients retry",
			"ttl", cfg.TTL,
			"recommended", "1h or higher",
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are far shorter than production defaults to enable rapid
// iteration. Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.TTL = 5 * time.Second
	cfg.PruneInterval = 100 * time.Millisecond
	cfg.OperationTimeout = 2 * time.Second

	return cfg
}
