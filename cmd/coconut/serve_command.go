package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Kokos14v/Ivan-Kosovych/internal/config"
	"github.com/Kokos14v/Ivan-Kosovych/pkg/api"
	prommetrics "github.com/Kokos14v/Ivan-Kosovych/pkg/coconut/metrics/prometheus"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := acquireServerLock(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			rt, err := ctx.buildRuntime(runCtx, cmd.ErrOrStderr(), prommetrics.NewMetrics(reg, "coconut"))
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					rt.log.Warn().Err(err).Msg("shutdown incomplete")
				}
			}()

			handler, err := api.NewHandler(api.Config{
				Service:        rt.service,
				Recipes:        rt.recipes,
				Credentials:    rt.creds,
				MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				Logger:         rt.logger,
			})
			if err != nil {
				return err
			}

			addr := rt.cfg.Server.Bind
			if bind != "" {
				addr = bind
			}
			var routes http.Handler = handler.Routes()
			if timeout := rt.cfg.RequestTimeout(); timeout > 0 {
				routes = http.TimeoutHandler(routes, timeout, `{"error":"request timed out"}`)
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           routes,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				rt.log.Info().
					Str("addr", addr).
					Str("storage", rt.cfg.Storage.Backend).
					Bool("elevated", rt.creds.Elevated(gctx)).
					Msg("coconut API listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				rt.log.Info().Msg("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override server.bind")
	return cmd
}

// acquireServerLock takes the single-server lock. Two servers over one cache
// would each keep their own quota flag.
func acquireServerLock(cfg *config.Config) (*flock.Flock, error) {
	path := cfg.Server.LockPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another coconut server is running (lock held at %s)", path)
	}
	return lock, nil
}
