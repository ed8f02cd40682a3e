package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zeusync/entsim/internal/core/actions"
	"github.com/zeusync/entsim/internal/core/attributes"
	"github.com/zeusync/entsim/internal/core/observability/log"
	"github.com/zeusync/entsim/internal/injector"
)

var (
	seedEntities int           // Entities created at startup
	heartbeat    time.Duration // Period of the per-entity heartbeat action
	runFor       time.Duration // Stop after this long, 0 waits for a signal
)

var beats = attributes.MustType[uint64]("heartbeats")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a world until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := injector.InitializeApp(cfg)
		if err != nil {
			return err
		}
		logger := app.Logger
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if runFor > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runFor)
			defer cancel()
		}

		var srv *http.Server
		if cfg.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry}))
			srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if zl, ok := logger.(*log.Logger); ok {
				srv.ErrorLog = zap.NewStdLog(zl.Zap().Named("metrics"))
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", log.Error(err))
					stop()
				}
			}()
			logger.Info("serving metrics", log.String("addr", cfg.Metrics.Addr))
		}

		w := app.World
		for range seedEntities {
			e, err := w.NewEntity()
			if err != nil {
				return fmt.Errorf("seed entities: %w", err)
			}
			if _, err := w.Schedule(beat, e, heartbeat); err != nil {
				return fmt.Errorf("schedule heartbeat: %w", err)
			}
		}
		if err := w.Start(); err != nil {
			return err
		}

		<-ctx.Done()
		logger.Info("shutting down", log.Uint64("ticks", w.Engine().Ticks()))

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", log.Error(err))
			}
		}
		return w.Stop()
	},
}

func beat(ctx *actions.Context) error {
	attrs := ctx.Entity().Attributes()
	n := attributes.Get(attrs, beats).OrElse(0)
	_, err := attributes.Add(attrs, beats, n+1)
	return err
}

func init() {
	runCmd.Flags().IntVar(&seedEntities, "entities", 0, "Entities created at startup, each with a heartbeat action")
	runCmd.Flags().DurationVar(&heartbeat, "heartbeat", time.Second, "Heartbeat period of seeded entities")
	runCmd.Flags().DurationVar(&runFor, "duration", 0, "Stop after this long (0 runs until interrupted)")
}
