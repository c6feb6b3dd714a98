package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

//go:embed sample_config.toml
var sampleConfig string

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendTiered   = "tiered"
)

type Server struct {
	Bind                  string `toml:"bind"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	// LockPath keeps a second server from sharing the cache; the quota
	// flag lives in process memory.
	LockPath string `toml:"lock_path"`
}

type Gemini struct {
	APIKey             string `toml:"api_key"`
	ElevatedKey        string `toml:"elevated_key"`
	BaseURL            string `toml:"base_url"`
	ImageModel         string `toml:"image_model"`
	ElevatedImageModel string `toml:"elevated_image_model"`
	NutritionModel     string `toml:"nutrition_model"`
	AnalysisModel      string `toml:"analysis_model"`
	ThinkingBudget     int    `toml:"thinking_budget"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// Scheduler holds the admission policy of each access tier.
type Scheduler struct {
	ElevatedConcurrency int `toml:"elevated_concurrency"`
	ElevatedDelayMS     int `toml:"elevated_delay_ms"`
	StandardConcurrency int `toml:"standard_concurrency"`
	StandardDelayMS     int `toml:"standard_delay_ms"`
}

// Storage selects and configures the durable cache backend. The tiered
// backend puts Redis in front of SQLite.
type Storage struct {
	Backend        string `toml:"backend"`
	SQLitePath     string `toml:"sqlite_path"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	RedisKeyPrefix string `toml:"redis_key_prefix"`
	RedisTTLHours  int    `toml:"redis_ttl_hours"`
	PostgresDSN    string `toml:"postgres_dsn"`
	PostgresPrefix string `toml:"postgres_table_prefix"`
}

type Cache struct {
	Disabled  bool `toml:"disabled"`
	MaxImages int  `toml:"max_images"`
	MaxMeta   int  `toml:"max_meta"`
}

type CircuitBreaker struct {
	Enabled             bool `toml:"enabled"`
	FailureThreshold    int  `toml:"failure_threshold"`
	ResetTimeoutSeconds int  `toml:"reset_timeout_seconds"`
}

type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the full daemon and CLI configuration.
type Config struct {
	Server         Server         `toml:"server"`
	Gemini         Gemini         `toml:"gemini"`
	Scheduler      Scheduler      `toml:"scheduler"`
	Storage        Storage        `toml:"storage"`
	Cache          Cache          `toml:"cache"`
	CircuitBreaker CircuitBreaker `toml:"circuit_breaker"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error; defaults and environment values apply.
func Load(path string) (*Config, string, bool, error) {
	loadDotenvIfPresent()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotenvIfPresent reads ./.env without overriding variables already set.
func loadDotenvIfPresent() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load(".env")
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigFile)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	if c.Gemini.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Gemini.APIKey = value
		}
	}
	if c.Gemini.ElevatedKey == "" {
		if value, ok := os.LookupEnv("COCONUT_ELEVATED_KEY"); ok {
			c.Gemini.ElevatedKey = value
		}
	}
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	c.Gemini.ElevatedKey = strings.TrimSpace(c.Gemini.ElevatedKey)
	c.Gemini.BaseURL = strings.TrimSpace(c.Gemini.BaseURL)
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = defaultGeminiBaseURL
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if value, ok := os.LookupEnv("COCONUT_POSTGRES_DSN"); ok && c.Storage.PostgresDSN == "" {
		c.Storage.PostgresDSN = value
	}
	var err error
	if c.Storage.SQLitePath, err = expandPath(c.Storage.SQLitePath); err != nil {
		return fmt.Errorf("storage.sqlite_path: %w", err)
	}
	if c.Server.LockPath, err = expandPath(c.Server.LockPath); err != nil {
		return fmt.Errorf("server.lock_path: %w", err)
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind must be set")
	}
	if strings.TrimSpace(c.Server.LockPath) == "" {
		return errors.New("server.lock_path must be set")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return errors.New("server.request_timeout_seconds must not be negative")
	}
	if c.Scheduler.ElevatedConcurrency < 1 || c.Scheduler.StandardConcurrency < 1 {
		return errors.New("scheduler concurrency must be at least 1")
	}
	if c.Scheduler.ElevatedDelayMS < 0 || c.Scheduler.StandardDelayMS < 0 {
		return errors.New("scheduler delays must not be negative")
	}
	if c.Cache.MaxImages < 0 || c.Cache.MaxMeta < 0 {
		return errors.New("cache sizes must not be negative")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold < 1 {
		return errors.New("circuit_breaker.failure_threshold must be at least 1 when enabled")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path must be set for the sqlite backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr must be set for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn must be set for the postgres backend. Set COCONUT_POSTGRES_DSN or edit the config file")
		}
	case BackendTiered:
		if c.Storage.RedisAddr == "" || c.Storage.SQLitePath == "" {
			return errors.New("storage.redis_addr and storage.sqlite_path must be set for the tiered backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

// RequireAPIKey reports an error when no Gemini credential is configured.
// Only commands that contact the provider call it.
func (c *Config) RequireAPIKey() error {
	if c.Gemini.APIKey == "" && c.Gemini.ElevatedKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("gemini.api_key is required. Set GEMINI_API_KEY env var or edit %s (create with 'coconut config init')", defaultPath)
	}
	return nil
}

// Policies converts the scheduler section into admission policies.
func (c *Config) Policies() (elevated, standard coconut.Policy) {
	elevated = coconut.Policy{
		Ceiling: c.Scheduler.ElevatedConcurrency,
		Delay:   time.Duration(c.Scheduler.ElevatedDelayMS) * time.Millisecond,
	}
	standard = coconut.Policy{
		Ceiling: c.Scheduler.StandardConcurrency,
		Delay:   time.Duration(c.Scheduler.StandardDelayMS) * time.Millisecond,
	}
	return elevated, standard
}

// ServiceConfig builds the library configuration. Tier, tracker, logger and
// metrics are wired by the caller.
func (c *Config) ServiceConfig() coconut.Config {
	elevated, standard := c.Policies()
	return coconut.Config{
		Elevated: elevated,
		Standard: standard,
		Cache: coconut.CacheConfig{
			Disabled:  c.Cache.Disabled,
			MaxImages: c.Cache.MaxImages,
			MaxMeta:   c.Cache.MaxMeta,
		},
		CircuitBreaker: coconut.CircuitBreakerConfig{
			Enabled:          c.CircuitBreaker.Enabled,
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			ResetTimeout:     time.Duration(c.CircuitBreaker.ResetTimeoutSeconds) * time.Second,
		},
	}
}

// RequestTimeout returns the per-request HTTP timeout, zero meaning none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RedisTTL returns the Redis entry lifetime, zero meaning entries never expire.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Storage.RedisTTLHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
