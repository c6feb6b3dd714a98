package coconut

import (
	"fmt"
	"time"
)

// Config holds Service configuration
type Config struct {
	// Tier reports elevated vs standard access (default: standard)
	Tier AccessTier

	// Elevated is the admission policy under elevated access (default: 3 concurrent, 200ms spacing)
	Elevated Policy

	// Standard is the admission policy under standard access (default: 1 concurrent, 3s spacing)
	Standard Policy

	// Tracker is the quota tracker (default: the process-wide tracker)
	Tracker *QuotaTracker

	// Cache configures the in-memory tier of the asset cache
	Cache CacheConfig

	// CircuitBreaker protects the durable storage backend
	CircuitBreaker CircuitBreakerConfig

	// Logger is optional; defaults to NoopLogger
	Logger Logger

	// Metrics is optional; defaults to NoopMetrics
	Metrics Metrics
}

// CacheConfig holds in-memory cache configuration
type CacheConfig struct {
	// Disabled turns the in-memory tier off; every read goes to storage
	Disabled bool

	// MaxImages is the maximum number of images kept in memory (default: 64)
	MaxImages int

	// MaxMeta is the maximum number of metadata records kept in memory (default: 1000)
	MaxMeta int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// DefaultConfig returns a Config with the standard admission policies
func DefaultConfig() Config {
	return Config{
		Elevated: ElevatedPolicy,
		Standard: StandardPolicy,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Elevated.Ceiling < 0 || c.Standard.Ceiling < 0 {
		return fmt.Errorf("policy ceiling must not be negative")
	}
	if c.Elevated.Delay < 0 || c.Standard.Delay < 0 {
		return fmt.Errorf("policy delay must not be negative")
	}
	if c.Cache.MaxImages < 0 || c.Cache.MaxMeta < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Tier == nil {
		c.Tier = StaticTier(false)
	}
	if c.Elevated.Ceiling == 0 {
		c.Elevated = ElevatedPolicy
	}
	if c.Standard.Ceiling == 0 {
		c.Standard = StandardPolicy
	}
	if c.Tracker == nil {
		c.Tracker = DefaultQuotaTracker()
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
}
