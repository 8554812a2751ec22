package httpctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

// ErrNotInitialized is returned before Startup has succeeded.
var ErrNotInitialized = errors.New("context resolver not initialized")

type contextKey int

const (
	configKey contextKey = iota
	requestIDKey
)

// FromContext returns the request-resolved configuration stored by
// Middleware.
func FromContext(ctx context.Context) (map[string]interface{}, bool) {
	cfg, ok := ctx.Value(configKey).(map[string]interface{})
	return cfg, ok
}

// RequestIDFromContext returns the request id assigned by Middleware.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// Options configures a Handler.
type Options struct {
	// Resolver resolves the raw tree; its registry backs the admin routes.
	Resolver *resolver.Resolver

	// Raw is the unresolved configuration tree.
	Raw map[string]interface{}

	// Env defaults to the process environment.
	Env map[string]string

	// State is exposed to templates as "state".
	State map[string]interface{}

	// OverwriteKey defaults to resolver.DefaultOverwriteKey.
	OverwriteKey string

	// Extenders add top-level keys to every context.
	Extenders []resolver.ContextExtender

	Logger    zerolog.Logger
	Telemetry *telemetry.Telemetry
}

// Handler resolves configuration once at startup and again per request.
type Handler struct {
	opts   Options
	logger zerolog.Logger

	// passMu is held for reading by every request resolution and for
	// writing by Startup and Reload, so STARTUP values cached while a
	// reload runs always come from the tree being installed.
	passMu sync.RWMutex

	mu       sync.RWMutex
	raw      map[string]interface{}
	resolved map[string]interface{}
	ready    bool
}

// New creates a Handler. Startup must succeed before requests are served.
func New(opts Options) (*Handler, error) {
	if opts.Resolver == nil {
		return nil, engine.NewValidationError("httpctx: resolver is required", nil)
	}
	if opts.OverwriteKey == "" {
		opts.OverwriteKey = resolver.DefaultOverwriteKey
	}
	if opts.Raw == nil {
		opts.Raw = map[string]interface{}{}
	}

	return &Handler{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "httpctx").Logger(),
		raw:    opts.Raw,
	}, nil
}

// Startup resolves the raw tree in STARTUP scope and keeps the result.
// Overwrite sections are left out of this pass; they are applied per
// request.
func (h *Handler) Startup(ctx context.Context) error {
	h.passMu.Lock()
	defer h.passMu.Unlock()

	h.mu.RLock()
	raw := h.raw
	h.mu.RUnlock()

	resolved, err := h.resolveStartup(ctx, raw)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.resolved = resolved
	h.ready = true
	h.mu.Unlock()

	h.logger.Info().
		Int("keys", len(resolved)).
		Strs("functions", h.opts.Resolver.Registry().List()).
		Msg("Startup configuration resolved")
	return nil
}

func (h *Handler) resolveStartup(ctx context.Context, raw map[string]interface{}) (map[string]interface{}, error) {
	data, err := resolver.BuildContext(ctx, resolver.ContextOptions{
		Env:    h.opts.Env,
		Config: raw,
		State:  h.opts.State,
	}, h.opts.Extenders...)
	if err != nil {
		return nil, err
	}

	view := resolver.StripOverwriteSections(raw, h.opts.OverwriteKey)
	resolved, err := h.opts.Resolver.ResolveStartup(ctx, view, data)
	if err != nil {
		return nil, fmt.Errorf("startup resolution failed: %w", err)
	}
	return resolved, nil
}

// Reload swaps in a new raw tree, drops cached STARTUP results and
// resolves again. On failure the previous tree stays in effect, although
// its STARTUP values are recomputed on next use. Requests wait while a
// reload runs.
func (h *Handler) Reload(ctx context.Context, raw map[string]interface{}) error {
	h.passMu.Lock()
	defer h.passMu.Unlock()

	h.opts.Resolver.Registry().ClearCache()

	resolved, err := h.resolveStartup(ctx, raw)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.raw = raw
	h.resolved = resolved
	h.ready = true
	h.mu.Unlock()

	h.logger.Info().Int("keys", len(resolved)).Msg("Configuration reloaded")
	return nil
}

// Resolved returns the STARTUP-resolved configuration.
func (h *Handler) Resolved() (map[string]interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.resolved, h.ready
}

// Raw returns the current unresolved configuration.
func (h *Handler) Raw() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.raw
}

// ResolveRequest resolves the raw tree in REQUEST scope for r and applies
// the overwrite sections.
func (h *Handler) ResolveRequest(ctx context.Context, r *http.Request, requestID string) (map[string]interface{}, error) {
	h.passMu.RLock()
	defer h.passMu.RUnlock()

	h.mu.RLock()
	raw, ready := h.raw, h.ready
	h.mu.RUnlock()
	if !ready {
		return nil, ErrNotInitialized
	}

	data, err := resolver.BuildContext(ctx, resolver.ContextOptions{
		Env:     h.opts.Env,
		Config:  raw,
		State:   h.opts.State,
		Request: RequestInfo(r, requestID),
	}, h.opts.Extenders...)
	if err != nil {
		return nil, err
	}

	resolved, err := h.opts.Resolver.ResolveRequest(ctx, raw, data)
	if err != nil {
		return nil, err
	}
	return resolver.ApplyOverwriteSection(resolved, h.opts.OverwriteKey), nil
}

// Middleware resolves the configuration for every request and stores it in
// the request context. The request id is read from X-Request-ID or
// generated, and echoed on the response. Failures end the request with a
// 500 JSON body {"error", "code"}.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		if h.opts.Telemetry != nil {
			ctx = h.opts.Telemetry.Log().WithRequestID(requestID).WithContext(ctx)
		}

		cfg, err := h.ResolveRequest(ctx, r, requestID)
		if err != nil {
			h.logger.Error().Err(err).
				Str("request_id", requestID).
				Str("path", r.URL.Path).
				Msg("Request configuration resolution failed")
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, configKey, cfg)))
	})
}

// RequestInfo describes r as the "request" context entry. Header names are
// lower-cased and only the first value of each header or query parameter is
// kept.
func RequestInfo(r *http.Request, requestID string) map[string]interface{} {
	headers := make(map[string]interface{}, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	query := make(map[string]interface{})
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}

	return map[string]interface{}{
		"id":      requestID,
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   query,
		"headers": headers,
		"host":    r.Host,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := string(engine.CodeOf(err))
	switch {
	case errors.Is(err, ErrNotInitialized):
		code = "ERR_NOT_INITIALIZED"
	case code == "":
		code = "ERR_INTERNAL"
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
