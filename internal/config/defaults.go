package config

const (
	defaultConfigPath         = "~/.config/coconut/config.toml"
	projectConfigFile         = "coconut.toml"
	defaultBind               = "127.0.0.1:8087"
	defaultRequestTimeout     = 60
	defaultLockPath           = "~/.local/share/coconut/coconut.lock"
	defaultStorageBackend     = BackendSQLite
	defaultSQLitePath         = "~/.local/share/coconut/cache.db"
	defaultRedisAddr          = "127.0.0.1:6379"
	defaultRedisKeyPrefix     = "coconut:"
	defaultPostgresPrefix     = "coconut_"
	defaultGeminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiTimeout      = 120
	defaultElevatedCeiling    = 3
	defaultElevatedDelayMS    = 200
	defaultStandardCeiling    = 1
	defaultStandardDelayMS    = 3000
	defaultCacheMaxImages     = 64
	defaultCacheMaxMeta       = 1000
	defaultBreakerThreshold   = 5
	defaultBreakerResetSecond = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Bind:                  defaultBind,
			RequestTimeoutSeconds: defaultRequestTimeout,
			LockPath:              defaultLockPath,
		},
		Gemini: Gemini{
			BaseURL:        defaultGeminiBaseURL,
			TimeoutSeconds: defaultGeminiTimeout,
		},
		Scheduler: Scheduler{
			ElevatedConcurrency: defaultElevatedCeiling,
			ElevatedDelayMS:     defaultElevatedDelayMS,
			StandardConcurrency: defaultStandardCeiling,
			StandardDelayMS:     defaultStandardDelayMS,
		},
		Storage: Storage{
			Backend:        defaultStorageBackend,
			SQLitePath:     defaultSQLitePath,
			RedisAddr:      defaultRedisAddr,
			RedisKeyPrefix: defaultRedisKeyPrefix,
			PostgresPrefix: defaultPostgresPrefix,
		},
		Cache: Cache{
			MaxImages: defaultCacheMaxImages,
			MaxMeta:   defaultCacheMaxMeta,
		},
		CircuitBreaker: CircuitBreaker{
			Enabled:             true,
			FailureThreshold:    defaultBreakerThreshold,
			ResetTimeoutSeconds: defaultBreakerResetSecond,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
