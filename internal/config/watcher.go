package config

import (
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/tagcache/internal/logging"
)

// ChangeFunc receives the configuration before and after a reload.
type ChangeFunc func(prev, next *Config)

// Watcher reloads the configuration file when it changes on disk. Only the
// logging section takes effect live; a change to any other section is
// reported as needing a restart.
type Watcher struct {
	fs       *fsnotify.Watcher
	loader   *Loader
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []ChangeFunc
	running   bool
	exited    chan struct{}
}

// NewWatcher loads path once and prepares to watch it.
func NewWatcher(path string) (*Watcher, error) {
	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fs:       fs,
		loader:   loader,
		path:     path,
		debounce: 500 * time.Millisecond,
		current:  cfg,
		exited:   make(chan struct{}),
	}, nil
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Start watches the file's directory, so editors that replace the file by
// rename are still seen.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.exited)

	name := filepath.Base(w.path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.getDebounce(), w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := w.loader.Load(w.path)
	if err != nil {
		logging.Error("Config reload rejected, keeping previous settings",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	callbacks := append([]ChangeFunc(nil), w.callbacks...)
	w.mu.Unlock()

	if sections := RestartRequired(prev, next); len(sections) > 0 {
		logging.Warn("Config sections changed that only apply after a restart",
			zap.Strings("sections", sections))
	}
	logging.Info("Config reloaded", zap.String("path", w.path))

	for _, fn := range callbacks {
		fn(prev, next)
	}
}

// RestartRequired lists the sections that differ between prev and next and
// cannot be applied to a running process.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
		}
	}
	check("redis", prev.Redis, next.Redis)
	check("cache", prev.Cache, next.Cache)
	check("server", prev.Server, next.Server)
	check("metrics", prev.Metrics, next.Metrics)
	check("tracing", prev.Tracing, next.Tracing)
	check("logging.output", loggingSink(prev.Logging), loggingSink(next.Logging))
	return changed
}

// loggingSink is the part of the logging section fixed at startup.
func loggingSink(l LoggingConfig) LoggingConfig {
	l.Level = ""
	return l
}

// GetConfig returns the most recently loaded configuration.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop closes the watcher and waits for the watch loop to exit.
func (w *Watcher) Stop() error {
	err := w.fs.Close()
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()
	if running {
		<-w.exited
	}
	return err
}

// SetDebounce sets how long the watcher waits for writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

func (w *Watcher) getDebounce() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.debounce
}
