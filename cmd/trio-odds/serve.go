package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/trio-odds/internal/api"
	"github.com/yourusername/trio-odds/internal/bridge"
	"github.com/yourusername/trio-odds/internal/cache"
	"github.com/yourusername/trio-odds/internal/health"
	"github.com/yourusername/trio-odds/internal/metrics"
	"github.com/yourusername/trio-odds/internal/odds"
	"github.com/yourusername/trio-odds/internal/scheduler"
	"github.com/yourusername/trio-odds/internal/service"
	"github.com/yourusername/trio-odds/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WebSocket feed and snapshot scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	appLog := newLogger(cfg)
	appLog.WithField("environment", cfg.App.Environment).Info("trio-odds starting")

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	traceCfg := tracing.FromConfig(cfg)
	if err := tracing.Initialize(traceCfg, appLog); err != nil {
		return err
	}

	conn, repos, closeStorage, err := openStorage(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer closeStorage()

	client, err := bridge.NewClientFromConfig(cfg.Bridge, appLog)
	if err != nil {
		return fmt.Errorf("failed to create bridge client: %w", err)
	}
	defer client.Close()

	poolCache := cache.NewPoolCache(cfg.Cache.TTL(), cfg.Cache.CleanupInterval(), cfg.Cache.MaxItems)
	svc := service.NewSyntheticOddsService(client, poolCache, repos.Odds, appLog)

	healthSrv := health.NewServer(health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Commit:      GitCommit,
		Logger:      appLog,
		Checks: map[string]health.Pinger{
			"database": conn,
			"bridge":   client,
		},
	})

	defaultMarket, _ := odds.ParseMarket(cfg.Bridge.DefaultMarket)
	server := api.NewServer(api.Options{
		Port:           cfg.Server.Port,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DefaultMarket:  defaultMarket,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Tracing:        traceCfg,
		Logger:         appLog,
	}, svc, repos.Race, healthSrv)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = startScheduler(cfg.Scheduler.Market, cfg.Scheduler.Watch, cfg.Scheduler.IntervalSeconds, svc, appLog)
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	healthSrv.SetReady(true)

	appLog.WithFields(logrus.Fields{
		"port":      cfg.Server.Port,
		"driver":    conn.Driver(),
		"bridge":    cfg.Bridge.BaseURL,
		"scheduler": cfg.Scheduler.Enabled,
		"tracing":   traceCfg.Enabled,
	}).Info("trio-odds is running")

	select {
	case <-ctx.Done():
		appLog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			appLog.WithError(err).Error("API server stopped")
			return err
		}
	}

	healthSrv.SetReady(false)
	if sched != nil {
		if err := sched.Stop(); err != nil {
			appLog.WithError(err).Error("Failed to stop scheduler")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("API server shutdown failed")
		return err
	}

	appLog.Info("trio-odds stopped")
	return nil
}

func startScheduler(marketName string, watch []string, interval int, svc scheduler.Snapshotter, appLog *logrus.Logger) (*scheduler.Scheduler, error) {
	if marketName == "" {
		marketName = odds.Trio.String()
	}
	market, err := odds.ParseMarket(marketName)
	if err != nil {
		return nil, err
	}

	sched := scheduler.NewScheduler(svc, market, appLog)
	if err := sched.Watch(watch...); err != nil {
		return nil, err
	}
	if err := sched.ScheduleSnapshots(interval); err != nil {
		return nil, err
	}
	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}
