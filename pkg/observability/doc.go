// Package observability provides logging, Prometheus metrics and
// OpenTelemetry tracing for the plugin runtime.
//
// # Overview
//
// Components accept an optional *logrus.Logger, *Metrics and trace.Tracer.
// A nil *Metrics is valid and records nothing, so libraries can be used
// without a registry.
//
// # Logging
//
//	log := observability.NewLogger("debug", "text")
//	log.WithField("plugin", d.ID()).Info("installed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordModuleLoad("lua", observability.ResultSuccess)
//
// # Tracing
//
//	providers, err := observability.InitTracing(ctx, cfg, log)
//	defer observability.ShutdownTracing(ctx, providers, log)
//
// # Health and Shutdown
//
// HealthChecker reports runtime health for the launcher's admin endpoint and
// ShutdownManager runs registered cleanup functions on SIGINT/SIGTERM.
package observability
