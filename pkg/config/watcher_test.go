package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/ctxresolver/pkg/telemetry"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "base.yml", "app:\n  name: one\n")

	loader, err := NewLoader(LoaderOptions{Files: []string{path}}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}

	trees := make(chan map[string]interface{}, 4)
	w := NewWatcher(loader, func(_ context.Context, tree map[string]interface{}) error {
		trees <- tree
		return nil
	}, WithReloadDelay(50*time.Millisecond), WithWatcherLogger(nopLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := w.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	// Unrelated files in the same directory are ignored.
	writeConfig(t, dir, "notes.txt", "ignored")
	if err := os.WriteFile(path, []byte("app:\n  name: two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case tree := <-trees:
		if got := tree["app"].(map[string]interface{})["name"]; got != "two" {
			t.Errorf("reloaded name = %v, want two", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not triggered")
	}
}

func TestWatcherReloadFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "base.yml", "app: [unterminated\n")

	loader, err := NewLoader(LoaderOptions{Files: []string{path}}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}

	tel, err := telemetry.NewTelemetry(telemetry.TestConfig())
	if err != nil {
		t.Fatal(err)
	}
	var events []telemetry.Event
	tel.Events.Subscribe(func(ev telemetry.Event) { events = append(events, ev) },
		telemetry.FilterByType(telemetry.EventTypeConfigReloaded))

	called := false
	w := NewWatcher(loader, func(context.Context, map[string]interface{}) error {
		called = true
		return nil
	}, WithWatcherTelemetry(tel))

	if err := w.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if called {
		t.Error("callback must not run when loading fails")
	}
	if len(events) != 1 || events[0].Level != telemetry.EventLevelError {
		t.Errorf("expected one error event, got %+v", events)
	}
}

func TestWatcherCallbackError(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "base.yml", "a: 1\n")
	loader, err := NewLoader(LoaderOptions{Files: []string{filepath.Clean(path)}}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	w := NewWatcher(loader, func(context.Context, map[string]interface{}) error { return boom })
	if err := w.Reload(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	loader, err := NewLoader(LoaderOptions{Files: []string{"x.yaml"}}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := NewWatcher(loader, nil).Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
