// Package watch turns bursts of file system events into single, debounced
// change callbacks. It backs configuration and policy hot reload.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay is the quiet period after the last event before the change
// callback runs.
const DefaultDelay = 500 * time.Millisecond

// ChangeFunc is called once per burst of relevant events.
type ChangeFunc func(ctx context.Context) error

// Watcher watches files and directory trees.
type Watcher struct {
	onChange ChangeFunc
	delay    time.Duration
	match    func(path string) bool
	logger   zerolog.Logger

	mu    sync.Mutex
	fw    *fsnotify.Watcher
	timer *time.Timer
	done  chan struct{}
	files map[string]bool
	trees []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithFilter limits which files inside watched directories count as a
// change. Explicitly watched files always count.
func WithFilter(match func(path string) bool) Option {
	return func(w *Watcher) {
		w.match = match
	}
}

// New creates a watcher that calls onChange after changes settle.
func New(onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		onChange: onChange,
		delay:    DefaultDelay,
		match:    func(string) bool { return true },
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches paths until ctx is cancelled or Stop is called.
//
// A directory is watched recursively, including subdirectories created
// later. For a file, its parent directory is watched so that files replaced
// by editors, or created after Start, are picked up.
func (w *Watcher) Start(ctx context.Context, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fw != nil {
		return fmt.Errorf("watcher already started")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.files = make(map[string]bool)
	w.trees = nil
	dirs := make(map[string]bool)

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}

		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			w.trees = append(w.trees, abs)
			if err := addTree(fw, abs); err != nil {
				w.logger.Warn().Err(err).Str("path", abs).Msg("Failed to watch directory tree")
			}
			continue
		}

		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
		}
	}

	w.fw = fw
	w.done = make(chan struct{})
	go w.run(ctx, fw, w.done)

	w.logger.Debug().
		Int("files", len(w.files)).
		Int("trees", len(w.trees)).
		Msg("Watching for changes")

	return nil
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// Stop stops watching and drops a pending callback. It is safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fw == nil {
		return nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	close(w.done)
	err := w.fw.Close()
	w.fw = nil
	return err
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return

		case <-done:
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			name, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}

			if event.Op&fsnotify.Create != 0 && w.inTree(name) {
				if info, err := os.Stat(name); err == nil && info.IsDir() {
					if err := addTree(fw, name); err != nil {
						w.logger.Warn().Err(err).Str("path", name).Msg("Failed to watch new directory")
					}
					continue
				}
			}

			if !w.relevant(name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("File changed")

			w.schedule(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) inTree(name string) bool {
	for _, root := range w.trees {
		if strings.HasPrefix(name, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) relevant(name string) bool {
	if w.files[name] {
		return true
	}
	return w.inTree(name) && w.match(name)
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fw == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if w.onChange == nil {
			return
		}
		if err := w.onChange(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Change handler failed")
		}
	})
}
