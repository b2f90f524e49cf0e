package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagcache.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounce(10 * time.Millisecond)

	changed := make(chan *Config, 16)
	w.OnChange(func(prev, next *Config) {
		select {
		case changed <- next:
		default:
		}
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if got := w.GetConfig().Logging.Level; got != "info" {
		t.Fatalf("expected initial level info, got %s", got)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A write may surface as several events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-changed:
			reloaded = cfg.Logging.Level == "debug"
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	if got := w.GetConfig().Logging.Level; got != "debug" {
		t.Errorf("GetConfig should return reloaded config, got level %s", got)
	}
}

func TestWatcherInvalidInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  scan_count: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWatcher(path); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagcache.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagcache.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("cache:\n  scan_count: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.reload()

	if got := w.GetConfig().Logging.Level; got != "warn" {
		t.Errorf("rejected reload replaced config: level %s", got)
	}
}

func TestRestartRequired(t *testing.T) {
	base := DefaultConfig()

	levelOnly := DefaultConfig()
	levelOnly.Logging.Level = "debug"
	if got := RestartRequired(base, levelOnly); len(got) != 0 {
		t.Errorf("level change should apply live, got %v", got)
	}

	moved := DefaultConfig()
	moved.Redis.Addresses = []string{"redis-2:6379"}
	moved.Server.Address = ":9090"
	moved.Logging.Output = "stderr"
	got := RestartRequired(base, moved)
	want := []string{"redis", "server", "logging.output"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}
