package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sessionsync/pkg/api"
	"github.com/cuemby/sessionsync/pkg/config"
	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation service and HTTP API",
	Long: `Run the reconciliation loop, the HTTP API and outbound webhooks.

Configuration comes from --config, sessionsync.yaml in the usual places and
SESSIONSYNC_* environment variables. Editing the config file adjusts the log
level and reconciliation interval without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides api.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.API.Addr = addr
	}
	logger := log.WithComponent("serve")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := newApp(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()

	health := metrics.NewHealthChecker(Version, metrics.ComponentStore)
	health.Update(metrics.ComponentStore, true, "")
	healthSub := trackHealth(a.broker, health)

	server, err := api.NewServer(api.Deps{
		Store:      a.store,
		Reconciler: a.reconciler,
		Instances:  a.provisioner,
		Status:     a.reconciler.StatusSynchronizer(),
		Health:     health,
		Broker:     a.broker,
	}, api.Config{
		Token:         cfg.API.Token,
		WebhookSecret: cfg.API.WebhookSecret,
		MaxSkew:       cfg.API.MaxSkew,
		MaxBodyBytes:  cfg.API.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	a.broker.Start()
	a.dispatcher.Start()
	collector := metrics.NewCollector(a.store, metrics.DefaultCollectInterval)
	collector.Start()
	if cfg.Reconcile.Enabled {
		a.reconciler.Start()
	} else {
		logger.Warn().Msg("Periodic reconciliation disabled; cycles run only on request")
	}

	config.Watch(v, func(next *config.Config) {
		log.SetLevel(log.Level(next.Log.Level))
		a.reconciler.SetInterval(next.Reconcile.Interval)
		logger.Info().
			Str("log_level", next.Log.Level).
			Dur("interval", next.Reconcile.Interval).
			Msg("Configuration reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	logger.Info().
		Str("addr", cfg.API.Addr).
		Str("host", cfg.Host.URL).
		Dur("interval", cfg.Reconcile.Interval).
		Msg("sessionsync running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after server failure")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown")
	}
	a.reconciler.Stop()
	collector.Stop()
	a.dispatcher.Stop()
	a.broker.Unsubscribe(healthSub)

	logger.Info().Msg("Shutdown complete")
	return runErr
}
