package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/openfroyo/ctxresolver/pkg/watch"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = watch.DefaultDelay

// ReloadFunc receives the freshly loaded raw tree.
type ReloadFunc func(ctx context.Context, tree map[string]interface{}) error

// Watcher reloads a Loader's sources when they change on disk.
type Watcher struct {
	loader   *Loader
	onReload ReloadFunc
	delay    time.Duration
	logger   zerolog.Logger
	tel      *telemetry.Telemetry

	mu sync.Mutex
	fs *watch.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay overrides DefaultReloadDelay.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger.With().Str("component", "config-watcher").Logger()
	}
}

// WithWatcherTelemetry records reload metrics and events.
func WithWatcherTelemetry(tel *telemetry.Telemetry) WatcherOption {
	return func(w *Watcher) {
		w.tel = tel
	}
}

// NewWatcher creates a watcher for loader's files.
func NewWatcher(loader *Loader, onReload ReloadFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		onReload: onReload,
		delay:    DefaultReloadDelay,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the loader's files, including optional overlays
// that do not exist yet. Watching stops when ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fs != nil {
		return fmt.Errorf("watcher already started")
	}

	fs := watch.New(w.Reload, watch.WithDelay(w.delay), watch.WithLogger(w.logger))
	files := w.loader.Files()
	if err := fs.Start(ctx, files); err != nil {
		return err
	}
	w.fs = fs

	w.logger.Info().Strs("files", files).Msg("Started watching configuration")
	return nil
}

// Stop stops watching and cancels a pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fs == nil {
		return nil
	}
	err := w.fs.Stop()
	w.fs = nil
	return err
}

// Reload loads the sources and hands the tree to the reload callback. A
// failed load leaves the callback uncalled.
func (w *Watcher) Reload(ctx context.Context) error {
	tree, err := w.loader.Load(ctx)
	if err == nil && w.onReload != nil {
		err = w.onReload(ctx, tree)
	}

	if w.tel != nil {
		w.tel.Metrics.RecordConfigReload(err)
		_ = w.tel.Events.PublishConfigReloaded("files", err)
	}
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	w.logger.Info().Int("keys", len(tree)).Msg("Configuration reloaded")
	return nil
}
