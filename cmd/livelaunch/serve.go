package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/livelaunch/platform/pkg/api"
	"github.com/livelaunch/platform/pkg/common/kafka"
	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/common/models"
	"github.com/livelaunch/platform/pkg/observability/metrics"
	"github.com/livelaunch/platform/pkg/reconcile"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation loops and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), root)
		},
	}
}

func serve(parent context.Context, root *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := root.cfg
	metrics.Init()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	runners := []*reconcile.Runner{reconcile.NewRunner(a.engine, cfg.LL2Interval, cfg.CycleTimeout)}
	if a.sweep != nil {
		runners = append(runners, reconcile.NewRunner(a.sweep, cfg.RSSInterval, cfg.CycleTimeout))
	}
	loops := make([]api.Loop, 0, len(runners))
	for _, r := range runners {
		loops = append(loops, r)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      api.NewRouter(api.NewHandler(a.store, loops), cfg.AdminToken),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Run(ctx)
		}()
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSettingsTopic != "" {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaSettingsTopic, cfg.KafkaGroupID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			// Only the structured loop owns calendars.
			err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
				return runners[0].HandleSettingsEvent(ctx, event)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("Settings consumer stopped")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("LiveLaunch started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		logger.Log.WithError(err).Error("HTTP server failed")
		stop()
	}

	logger.Log.Info("Shutting down LiveLaunch...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Log.WithError(serr).Error("server forced to shutdown")
	}

	// In-flight cycles finish under their own timeout.
	wg.Wait()
	logger.Log.Info("LiveLaunch stopped")
	return err
}
