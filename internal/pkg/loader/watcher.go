package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/endorses/filterkit/internal/pkg/logger"
)

// WatcherConfig configures the filter directory watcher.
type WatcherConfig struct {
	// PollInterval is the rescan interval when fsnotify is unavailable.
	// Default: 30 seconds
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval: 30 * time.Second,
	}
}

// Watcher reloads the loader whenever a plugin file appears or changes in
// its directory.
type Watcher struct {
	config    WatcherConfig
	loader    *Loader
	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	wg        sync.WaitGroup
	running   bool
}

// NewWatcher creates a watcher for loader's directory.
func NewWatcher(loader *Loader, config WatcherConfig) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWatcherConfig().PollInterval
	}
	return &Watcher{
		config: config,
		loader: loader,
	}
}

// Start begins watching. The watcher stops when ctx is cancelled; Wait
// blocks until it has.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if !w.config.ForcePolling {
		fsWatcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		} else if err := fsWatcher.Add(w.loader.Dir()); err != nil {
			logger.Warn("Failed to watch filter directory, falling back to polling",
				"dir", w.loader.Dir(),
				"error", err)
			if cerr := fsWatcher.Close(); cerr != nil {
				logger.Error("failed to close fsnotify watcher", "error", cerr)
			}
		} else {
			w.fsWatcher = fsWatcher
		}
	}

	w.running = true
	w.wg.Add(1)
	if w.fsWatcher != nil {
		go w.fsWatchLoop(ctx)
		logger.Info("Started filter directory watcher", "dir", w.loader.Dir(), "mode", "fsnotify")
		return nil
	}
	go w.pollLoop(ctx)
	logger.Info("Started filter directory watcher",
		"dir", w.loader.Dir(),
		"mode", "polling",
		"interval", w.config.PollInterval)
	return nil
}

// Wait blocks until the watch loop has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) fsWatchLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if err := w.fsWatcher.Close(); err != nil {
			logger.Error("failed to close fsnotify watcher", "error", err)
		}
		w.mu.Lock()
		w.running = false
		w.fsWatcher = nil
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".so" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				logger.Debug("Plugin file changed", "file", event.Name, "op", event.Op.String())
				w.reload()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	changed, err := w.loader.Load()
	if err != nil {
		logger.Warn("Filter reload failed", "dir", w.loader.Dir(), "error", err)
		return
	}
	if changed {
		logger.Info("New filters loaded from plugin directory", "dir", w.loader.Dir())
	}
}
