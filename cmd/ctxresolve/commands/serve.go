package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openfroyo/ctxresolver/pkg/config"
	"github.com/openfroyo/ctxresolver/pkg/httpctx"
	"github.com/openfroyo/ctxresolver/pkg/policy"
	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	keyAddr         = "addr"
	keyWatch        = "watch"
	keyTraceExport  = "trace-exporter"
	keyOTLPEndpoint = "otlp-endpoint"

	// routeConfig serves the per-request resolved configuration.
	routeConfig = "/config"
	// routeMetrics serves Prometheus metrics.
	routeMetrics = "/metrics"
)

func newServeCommand(s *settings) *cobra.Command {
	var (
		sources         sourceFlags
		overwriteKey    string
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve [files...]",
		Short: "Serve resolved configuration over HTTP",
		Long: `Resolve the configuration at startup and serve it over HTTP.

Routes:
  GET /config                                    request-resolved configuration
  GET /healthz                                   liveness
  GET /healthz/admin/overwrite-from-context/...  status, json, keys
  GET /metrics                                   Prometheus metrics

With --watch, changes to the configuration files are reloaded (dropping
cached STARTUP results) and changes to --policy files recompile policies.`,
		Example: `  # Serve ./config on :8080 and reload on change
  ctxresolve serve --dir ./config --watch

  # Export traces to a collector
  ctxresolve serve app.yaml --trace-exporter otlp --otlp-endpoint otel:4317`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			loader, err := sources.loader(args)
			if err != nil {
				return err
			}
			raw, err := loader.Load(ctx)
			if err != nil {
				return err
			}

			rt, err := s.newRuntime(ctx, s.serveTelemetryConfig())
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			h, err := httpctx.New(httpctx.Options{
				Resolver:     rt.resolver,
				Raw:          raw,
				OverwriteKey: overwriteKey,
				Logger:       log.Logger,
				Telemetry:    rt.tel,
			})
			if err != nil {
				return err
			}
			if err := h.Startup(ctx); err != nil {
				return err
			}

			if s.v.GetBool(keyWatch) {
				stop, err := s.watch(ctx, loader, h, rt)
				if err != nil {
					return err
				}
				defer stop()
			}

			server := &http.Server{
				Addr:              s.v.GetString(keyAddr),
				Handler:           newServeMux(h, rt.tel),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return runServer(ctx, server, shutdownTimeout)
		},
	}

	sources.register(cmd)
	flags := cmd.Flags()
	flags.String(keyAddr, ":8080", "listen address")
	flags.Bool(keyWatch, false, "reload configuration and policies when files change")
	flags.String(keyTraceExport, "none", "trace exporter (none, stdout, otlp)")
	flags.String(keyOTLPEndpoint, "localhost:4317", "OTLP collector address")
	flags.StringVar(&overwriteKey, "overwrite-key", resolver.DefaultOverwriteKey, "key of the sections applied per request")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	for _, key := range []string{keyAddr, keyWatch, keyTraceExport, keyOTLPEndpoint} {
		if err := s.v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func (s *settings) serveTelemetryConfig() *telemetry.Config {
	cfg := s.telemetryConfig()
	if exporter := s.v.GetString(keyTraceExport); exporter != "" && exporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exporter
		cfg.Tracing.Endpoint = s.v.GetString(keyOTLPEndpoint)
	}
	// /metrics is mounted on the main listener.
	cfg.Metrics.ListenAddress = s.v.GetString(keyAddr)
	return cfg
}

// newServeMux mounts the admin routes, metrics and the config echo route.
func newServeMux(h *httpctx.Handler, tel *telemetry.Telemetry) *http.ServeMux {
	mux := http.NewServeMux()
	h.Mount(mux)
	mux.Handle("GET "+routeMetrics, tel.Metrics.Handler())
	mux.Handle("GET "+routeConfig, h.Middleware(http.HandlerFunc(serveConfig)))
	return mux
}

func serveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _ := httpctx.FromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

// watch starts the config watcher and, when policies were given, the
// policy watcher. The returned func stops both.
func (s *settings) watch(ctx context.Context, loader *config.Loader, h *httpctx.Handler, rt *runtime) (func(), error) {
	cw := config.NewWatcher(loader, h.Reload,
		config.WithWatcherLogger(log.Logger),
		config.WithWatcherTelemetry(rt.tel),
	)
	if err := cw.Start(ctx); err != nil {
		return nil, err
	}

	paths := s.v.GetStringSlice(keyPolicy)
	if len(paths) == 0 {
		return func() { _ = cw.Stop() }, nil
	}

	pl := policy.NewLoader(log.Logger)
	if err := pl.Watch(ctx, paths, rt.policy.ReloadPolicies); err != nil {
		_ = cw.Stop()
		return nil, err
	}

	return func() {
		_ = cw.Stop()
		_ = pl.StopWatching()
	}, nil
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, server *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Serving resolved configuration")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("Shutting down server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
