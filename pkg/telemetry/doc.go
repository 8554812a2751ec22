// Package telemetry provides observability instrumentation for the context
// resolver.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and lifecycle events into one
// bundle that the compute registry, the resolver and the host surfaces
// share.
//
// # Usage
//
// Initialize telemetry at process startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	errCh := make(chan error, 1)
//	srv := tel.StartMetricsServer(errCh)
//
// Libraries accept a *Telemetry through functional options. A nil bundle
// is valid and turns every instrument into a no-op, so tests can pass nil
// or NewNopTelemetry().
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("resolver")
//	logger.WithScope("REQUEST").WithRequestID(id).Info("resolving request context")
//
// Log levels: trace, debug, info, warn, error, fatal.
//
// # Tracing
//
// Each tree resolution pass is a "resolver.resolve_object" span. Each
// executed compute function is a child "compute.<name>" span carrying
// resolver.function and resolver.scope attributes. Cache hits do not open
// a span.
//
// Supported exporters: otlp (gRPC) and stdout.
//
// # Metrics
//
// All metrics live on a private registry exposed by Metrics.Handler:
//
//   - resolutions_total{scope,status}
//   - resolution_duration_seconds{scope}
//   - compute_calls_total{function,scope}
//   - compute_duration_seconds{function,scope}
//   - compute_errors_total{function,scope}
//   - compute_cache_hits_total{function}
//   - registered_functions
//   - errors_by_code_total{code}
//   - policy_decisions_total{kind,decision}
//   - config_reloads_total{status}
//
// # Events
//
// The EventPublisher emits function.registered, function.unregistered,
// cache.cleared, registry.cleared, resolution.failed, policy.denied and
// config.reloaded events. Delivery is synchronous unless
// EventsConfig.EnableAsync is set.
package telemetry
