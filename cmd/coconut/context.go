package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Kokos14v/Ivan-Kosovych/gateway/gemini"
	"github.com/Kokos14v/Ivan-Kosovych/internal/catalog"
	"github.com/Kokos14v/Ivan-Kosovych/internal/config"
	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
	zerologadapter "github.com/Kokos14v/Ivan-Kosovych/pkg/coconut/logger/zerolog"
	"github.com/Kokos14v/Ivan-Kosovych/storage/memory"
	"github.com/Kokos14v/Ivan-Kosovych/storage/postgres"
	redisstorage "github.com/Kokos14v/Ivan-Kosovych/storage/redis"
	"github.com/Kokos14v/Ivan-Kosovych/storage/sqlite"
	"github.com/Kokos14v/Ivan-Kosovych/storage/tiered"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// newZerolog builds the process logger from the logging section.
func newZerolog(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Logging.Format == "json" {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !isTerminal(out)}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// runtime is everything a command needs to enrich recipes.
type runtime struct {
	cfg     *config.Config
	log     zerolog.Logger
	logger  coconut.Logger
	tracker *coconut.QuotaTracker
	creds   *coconut.CredentialTier
	recipes *catalog.Catalog
	storage coconut.Storage
	service *coconut.Service

	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	if r.service != nil {
		errs = append(errs, r.service.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// buildRuntime wires storage, gateway and service. metrics may be nil.
func (c *commandContext) buildRuntime(ctx context.Context, stderr io.Writer, metrics coconut.Metrics) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: newZerolog(cfg, stderr)}
	rt.logger = zerologadapter.NewLogger(&rt.log)
	rt.tracker = coconut.NewQuotaTracker()
	rt.creds = coconut.NewCredentialTier(cfg.Gemini.ElevatedKey, rt.tracker)

	if rt.recipes, err = catalog.Default(); err != nil {
		return nil, err
	}

	if rt.storage, err = c.openStorage(ctx, rt); err != nil {
		_ = rt.Close()
		return nil, err
	}

	gateway := gemini.NewClient(gemini.Config{
		APIKey:             cfg.Gemini.APIKey,
		BaseURL:            cfg.Gemini.BaseURL,
		ImageModel:         cfg.Gemini.ImageModel,
		ElevatedImageModel: cfg.Gemini.ElevatedImageModel,
		NutritionModel:     cfg.Gemini.NutritionModel,
		AnalysisModel:      cfg.Gemini.AnalysisModel,
		ThinkingBudget:     cfg.Gemini.ThinkingBudget,
		TimeoutSeconds:     cfg.Gemini.TimeoutSeconds,
	}, gemini.WithTier(rt.creds))

	svcCfg := cfg.ServiceConfig()
	svcCfg.Tier = rt.creds
	svcCfg.Tracker = rt.tracker
	svcCfg.Logger = rt.logger
	svcCfg.Metrics = metrics

	if rt.service, err = coconut.NewService(rt.storage, gateway, svcCfg); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// openStorage opens the configured backend and registers its closers on rt.
func (c *commandContext) openStorage(ctx context.Context, rt *runtime) (coconut.Storage, error) {
	cfg := rt.cfg
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return c.openSQLite(rt)
	case config.BackendRedis:
		return c.openRedis(ctx, rt)
	case config.BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Storage.PostgresDSN,
			TablePrefix:      cfg.Storage.PostgresPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		rt.closers = append(rt.closers, func() error { store.Close(); return nil })
		return store, nil
	case config.BackendTiered:
		cold, err := c.openSQLite(rt)
		if err != nil {
			return nil, err
		}
		hot, err := c.openRedis(ctx, rt)
		if err != nil {
			return nil, err
		}
		logger := rt.logger
		store, err := tiered.New(tiered.Config{
			Hot:          hot,
			Cold:         cold,
			AsyncHotFill: true,
			AsyncErrorHandler: func(err error) {
				logger.Warn("tiered storage hot fill failed", coconut.Field{Key: "error", Value: err})
			},
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("storage backend %q is not supported", cfg.Storage.Backend)
	}
}

func (c *commandContext) openSQLite(rt *runtime) (*sqlite.Storage, error) {
	store, err := sqlite.Open(rt.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite storage: %w", err)
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}

func (c *commandContext) openRedis(ctx context.Context, rt *runtime) (*redisstorage.Storage, error) {
	cfg := rt.cfg
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Storage.RedisAddr, err)
	}
	store, err := redisstorage.New(client, redisstorage.Config{
		KeyPrefix: cfg.Storage.RedisKeyPrefix,
		ImageTTL:  cfg.RedisTTL(),
		MetaTTL:   cfg.RedisTTL(),
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}
