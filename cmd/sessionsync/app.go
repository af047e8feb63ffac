package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/sessionsync/pkg/config"
	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/provisioner"
	"github.com/cuemby/sessionsync/pkg/reconciler"
	"github.com/cuemby/sessionsync/pkg/retry"
	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const hostWebhookPath = "/v1/webhooks/session-host"

// app holds the wired components shared by serve and local reconcile
type app struct {
	cfg         *config.Config
	store       storage.Store
	host        sessionhost.Client
	broker      *events.Broker
	dispatcher  *events.Dispatcher
	reconciler  *reconciler.Reconciler
	provisioner *provisioner.Coordinator
}

// loadConfig reads and validates configuration and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, v, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	return cfg, v, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := storage.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	host, err := sessionhost.NewHTTPClient(sessionhost.Options{
		BaseURL:        cfg.Host.URL,
		Token:          cfg.Host.Token,
		ListTimeout:    cfg.Host.ListTimeout,
		RequestTimeout: cfg.Host.RequestTimeout,
		ProbeTimeout:   cfg.Host.ProbeTimeout,
		Retry: retry.Policy{
			Attempts:  cfg.Host.RetryAttempts,
			BaseDelay: cfg.Host.RetryBaseDelay,
			MaxDelay:  cfg.Host.RetryMaxDelay,
		},
		RateLimit: cfg.Host.RateLimit,
		Burst:     cfg.Host.Burst,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	broker := events.NewBroker()
	dispatcher := events.NewDispatcher(broker, events.WebhookConfig{
		URLs:    cfg.Webhooks.URLs,
		Secret:  cfg.Webhooks.Secret,
		Timeout: cfg.Webhooks.Timeout,
		Retry:   retry.DefaultPolicy(),
	})

	rec, err := reconciler.NewReconciler(host, store, broker, reconciler.Config{
		Interval:       cfg.Reconcile.Interval,
		CycleTimeout:   cfg.Reconcile.CycleTimeout,
		Workers:        cfg.Reconcile.Workers,
		DefaultOwnerID: cfg.Reconcile.DefaultOwnerID,
		ReconnectDelay: cfg.Reconcile.ReconnectDelay,
		RetryDegraded:  cfg.Reconcile.RetryDegraded,
		ConnectionType: types.ConnectionTypeWeb,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	prov, err := provisioner.NewCoordinator(host, store, broker, provisioner.Config{
		WebhookURL: hostWebhookURL(cfg.API.PublicURL),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rec.SetDegradedRetrier(prov)

	return &app{
		cfg:         cfg,
		store:       store,
		host:        host,
		broker:      broker,
		dispatcher:  dispatcher,
		reconciler:  rec,
		provisioner: prov,
	}, nil
}

// trackHealth mirrors each cycle's host reachability into the health
// checker until the subscription is closed
func trackHealth(broker *events.Broker, health *metrics.HealthChecker) events.Subscriber {
	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			if event.Type != events.EventReconciliationCompleted {
				continue
			}
			summary, ok := event.Data.(*types.ReconciliationSummary)
			if !ok {
				continue
			}
			if summary.HostHealthy {
				health.Update(metrics.ComponentSessionHost, true, "")
			} else {
				health.Update(metrics.ComponentSessionHost, false, "session listing failed")
			}
			health.Update(metrics.ComponentReconciler, !summary.Incomplete, event.Message)
		}
	}()
	return sub
}

func hostWebhookURL(publicURL string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + hostWebhookPath
}

func (a *app) Close() error {
	a.broker.Stop()
	return a.store.Close()
}
