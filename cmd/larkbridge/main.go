package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/larkbridge/pkg/config"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
)

var version = "dev"

var (
	configFile = flag.String("config", "", "Path to a YAML config file (overrides "+config.EnvConfigFile+")")
	syncOnce   = flag.Bool("sync-once", false, "Run one directory sync and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err := run(context.Background(), cfg, logger, *syncOnce); err != nil {
		logger.WithError(err).Fatal("larkbridge exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, syncOnly bool) error {
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = observability.ShutdownOTel(ctx, providers)
		return err
	}

	if syncOnly {
		return runSyncOnce(ctx, a, providers)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.Register("telemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})
	sm.Register("connections", func(context.Context) error {
		return a.close()
	})
	sm.Register("sync scheduler", a.scheduler.Stop)

	a.scheduler.Start()
	logger.WithFields(logrus.Fields{
		"addr":          server.Addr,
		"version":       version,
		"sync_schedule": cfg.Sync.Schedule,
	}).Info("Starting larkbridge")

	serverErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "http server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serverErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return sm.WaitForSignal(sigCtx)
}

// runSyncOnce performs a single reconciliation and reports it
func runSyncOnce(ctx context.Context, a *app, providers *observability.OTelProviders) error {
	defer a.close()
	defer func() {
		_ = observability.ShutdownOTel(context.Background(), providers)
	}()

	syncCtx, cancel := context.WithTimeout(ctx, a.cfg.Sync.Timeout)
	defer cancel()

	result, err := a.scheduler.RunNow(syncCtx)
	if result != nil {
		a.logger.WithFields(logrus.Fields{
			"departments_created": result.Departments.Created,
			"departments_updated": result.Departments.Updated,
			"departments_skipped": result.Departments.Skipped,
			"users_created":       result.Users.Created,
			"users_updated":       result.Users.Updated,
			"users_skipped":       result.Users.Skipped,
			"errors":              result.ErrorCount,
			"duration":            result.Duration(),
		}).Info("Directory sync finished")
		for _, itemErr := range result.Errors {
			a.logger.WithFields(logrus.Fields{
				"category":  itemErr.Category,
				"remote_id": itemErr.RemoteID,
			}).Warn(itemErr.Message)
		}
	}
	return err
}
