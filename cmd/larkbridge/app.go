package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/platinummonkey/larkbridge/pkg/config"
	"github.com/platinummonkey/larkbridge/pkg/directory"
	"github.com/platinummonkey/larkbridge/pkg/httputil"
	"github.com/platinummonkey/larkbridge/pkg/lark"
	"github.com/platinummonkey/larkbridge/pkg/notify"
	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/platinummonkey/larkbridge/pkg/sso"
	"github.com/platinummonkey/larkbridge/pkg/webhooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// contactEventPrefix marks organization change events that warrant a directory sync
	contactEventPrefix = "contact."
	maxBodyBytes       = 1 << 20
)

// store is satisfied by both the PostgreSQL and the in-memory store
type store interface {
	Accounts() accounts.AccountRepository
	Departments() accounts.DepartmentRepository
}

// app wires every component of the bridge
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db    *sql.DB
	redis *redis.Client
	store store

	client     *lark.Client
	scheduler  *directory.Scheduler
	bridge     *sso.Bridge
	dispatcher *notify.Dispatcher
	events     *webhooks.Handler
	health     *observability.HealthChecker
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Observability.MetricsEnabled {
		a.metrics = observability.NewMetrics(a.registry)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var tokenStore lark.TokenStore
	var dedupe webhooks.Deduper = webhooks.NewLRUDeduper(0, cfg.Webhooks.DedupeTTL)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		tokenStore = lark.NewRedisTokenStore(a.redis, cfg.Lark.AppID)
		dedupe = webhooks.NewRedisDeduper(a.redis, cfg.Webhooks.DedupeTTL)
		logger.WithField("addr", cfg.Redis.Addr).Info("Redis connected")
	}

	client, err := lark.NewClient(lark.Config{
		AppID:           cfg.Lark.AppID,
		AppSecret:       cfg.Lark.AppSecret,
		BaseURL:         cfg.Lark.BaseURL,
		AuthorizeURL:    cfg.Lark.AuthorizeURL,
		RedirectURL:     cfg.Lark.RedirectURL,
		Scopes:          cfg.Lark.Scopes,
		ApprovalURLBase: cfg.Lark.ApprovalURLBase,
		Timeout:         cfg.Lark.Timeout,
		SafetyMargin:    cfg.Lark.SafetyMargin,
		TokenStore:      tokenStore,
		Logger:          logger,
		Metrics:         a.metrics,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}
	a.client = client

	engine := directory.NewEngine(client, a.store.Accounts(), a.store.Departments(), directory.Config{
		MaxErrors:      cfg.Sync.MaxErrors,
		FallbackDomain: cfg.SSO.FallbackDomain,
	}, logger, a.metrics)
	a.scheduler, err = directory.NewScheduler(engine, directory.Options{
		SyncDepartments:       true,
		SyncUsers:             true,
		DepartmentScope:       cfg.Sync.DepartmentScope,
		IncludeSubDepartments: cfg.Sync.IncludeSubDepartments,
		ForceSync:             cfg.Sync.Force,
		TenantID:              cfg.Sync.TenantID,
		PageSize:              cfg.Sync.PageSize,
	}, cfg.Sync.Schedule, cfg.Sync.Timeout, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.bridge = sso.NewBridge(client, a.store.Accounts(), sso.Config{
		DefaultTenantID: cfg.SSO.DefaultTenantID,
		FallbackDomain:  cfg.SSO.FallbackDomain,
	}, logger, a.metrics)
	a.dispatcher = notify.NewDispatcher(client, a.store.Accounts(), logger, a.metrics)
	a.events = webhooks.NewHandler(webhooks.Config{
		Secret:            cfg.Webhooks.EncryptKey,
		VerificationToken: cfg.Webhooks.VerificationToken,
		MaxClockSkew:      cfg.Webhooks.MaxClockSkew,
		HandlerTimeout:    cfg.Webhooks.HandlerTimeout,
	}, a.handleEvent, dedupe, logger, a.metrics)

	a.health = observability.NewHealthChecker(version, a.db, a.redis)
	a.health.AddCheck("lark", false, func(ctx context.Context) error {
		_, err := client.Tokens().Get(ctx)
		return err
	})

	return a, nil
}

// openStore connects PostgreSQL and applies migrations, or falls back to memory
func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.URL == "" {
		a.logger.Warn("No database configured, accounts are kept in memory")
		a.store = accounts.NewMemoryStore()
		return nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(a.cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.Database.ConnMaxLife)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := accounts.RunMigrations(ctx, db, a.logger); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.db = db
	a.store = accounts.NewPostgresStore(db)
	return nil
}

// handleEvent reacts to verified platform events. Contact changes schedule a directory
// sync in the background so the platform gets its acknowledgement quickly.
func (a *app) handleEvent(ctx context.Context, event *webhooks.Event) error {
	log := a.logger.WithFields(logrus.Fields{
		"event_id":   event.Header.EventID,
		"event_type": event.Header.EventType,
	})

	if strings.HasPrefix(event.Header.EventType, contactEventPrefix) && a.cfg.Sync.SyncOnEvent {
		log.Info("Contact change received, scheduling directory sync")
		a.scheduler.Trigger(ctx, event.Header.EventType)
		return nil
	}

	log.Debug("Event ignored")
	return nil
}

// handler builds the HTTP routes
func (a *app) handler() http.Handler {
	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(observability.RecoveryMiddleware(a.logger))
	router.Use(httputil.LoggingMiddleware(a.logger))
	router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	router.Use(httputil.MaxBytesMiddleware(maxBodyBytes))

	sso.NewHandlers(a.bridge, a.logger, a.cfg.Server.PublicHTTPS).RegisterRoutes(router)
	a.events.RegisterRoutes(router)
	a.scheduler.RegisterRoutes(router)
	a.dispatcher.RegisterRoutes(router)
	observability.RegisterHealthRoutes(router, a.health)
	observability.RegisterMetricsEndpoint(router, a.registry)

	return otelhttp.NewHandler(router, "larkbridge")
}

// close releases the connections opened by newApp
func (a *app) close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
