// Package observability provides logrus logger construction, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for larkbridge.
//
// # Logging
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("tenant_id", 42).Info("Directory sync started")
//
// # Metrics
//
// Every recording method is safe on a nil *Metrics, so components take an optional
// metrics pointer and never check it:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordSyncItem("users", "created")
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "larkbridge",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers)
package observability
