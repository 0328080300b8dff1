package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"sync"

	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/pkg/dispatch"
	"github.com/endorses/filterkit/pkg/filters"
)

// FiltersSymbol is the function every filter plugin exports:
//
//	func Filters() []*filters.Filter
const FiltersSymbol = "Filters"

// AttachSymbol is the function a plugin may export to receive the host's
// dispatcher once its filters are loaded:
//
//	func Attach(d *dispatch.Dispatcher)
const AttachSymbol = "Attach"

// ErrSourceNotFound is returned when the filter directory is missing or is
// not a directory. The registry is left untouched.
var ErrSourceNotFound = errors.New("loader: filter source not found")

// LoadError records a plugin file that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("filter plugin %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Plugin is what one plugin file provides.
type Plugin struct {
	Filters []*filters.Filter
	// Attach is nil when the plugin does not export AttachSymbol.
	Attach func(*dispatch.Dispatcher)
}

// Opener opens one plugin file.
type Opener func(path string) (Plugin, error)

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces plugin.Open based loading.
func WithOpener(open Opener) Option {
	return func(l *Loader) {
		l.open = open
	}
}

// WithDispatcher hands d to the Attach function of every plugin opened
// from now on. Without it Attach functions are not called.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(l *Loader) {
		l.dispatcher = d
	}
}

// WithManifest sets the manifest file name inside the filter directory.
// An empty name disables the manifest.
func WithManifest(name string) Option {
	return func(l *Loader) {
		l.manifestName = name
	}
}

// Loader discovers filter plugins in a directory and loads their filters
// into a registry.
type Loader struct {
	registry     *filters.Registry
	dir          string
	manifestName string
	open         Opener
	dispatcher   *dispatch.Dispatcher

	mu          sync.Mutex
	loadedPaths map[string]bool
	failures    []*LoadError
}

// New creates a loader for the *.so files in dir.
func New(registry *filters.Registry, dir string, opts ...Option) *Loader {
	l := &Loader{
		registry:     registry,
		dir:          dir,
		manifestName: DefaultManifestName,
		open:         openPlugin,
		loadedPaths:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the directory scanned for plugins.
func (l *Loader) Dir() string {
	return l.dir
}

// Load opens every plugin file not opened before and loads all of their
// filters with a single registry load, then calls their Attach functions.
// It reports whether the registry gained filters. Files that fail to open
// are skipped and reported by Failures; they are retried on the next Load.
func (l *Loader) Load() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.dir)
	if err != nil || !info.IsDir() {
		return false, fmt.Errorf("%w: %s", ErrSourceNotFound, l.dir)
	}

	manifest, err := l.manifest()
	if err != nil {
		return false, err
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.so"))
	if err != nil {
		return false, fmt.Errorf("failed to find plugin files: %w", err)
	}
	slices.Sort(files)

	var found []*filters.Filter
	var opened []string
	attach := make(map[string]func(*dispatch.Dispatcher))
	l.failures = nil
	for _, file := range files {
		if l.loadedPaths[file] {
			logger.Debug("Plugin file already loaded", "file", file)
			continue
		}
		p, err := l.openFile(file)
		if err != nil {
			loadErr := &LoadError{Path: file, Err: err}
			l.failures = append(l.failures, loadErr)
			logger.Error("Failed to load plugin file", "file", file, "error", err)
			continue
		}
		opened = append(opened, file)
		found = append(found, p.Filters...)
		if p.Attach != nil {
			attach[file] = p.Attach
		}
		logger.Info("Filter plugin opened", "file", file, "filters", len(p.Filters))
	}

	changed := l.register(found, manifest)
	for _, file := range opened {
		l.loadedPaths[file] = true
		if fn := attach[file]; fn != nil && l.dispatcher != nil {
			if err := l.attach(fn); err != nil {
				l.failures = append(l.failures, &LoadError{Path: file, Err: err})
				logger.Error("Plugin attach failed", "file", file, "error", err)
			}
		}
	}
	return changed, nil
}

// LoadBuiltin loads compiled-in filters, applying the manifest like Load.
func (l *Loader) LoadBuiltin(fs ...*filters.Filter) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	manifest, err := l.manifest()
	if err != nil {
		return false, err
	}
	changed := l.register(fs, manifest)
	logger.Info("Built-in filters loaded", "filters", len(fs), "changed", changed)
	return changed, nil
}

// Failures returns the files that failed during the last Load.
func (l *Loader) Failures() []*LoadError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.failures)
}

// LoadedFiles returns the plugin files opened so far.
func (l *Loader) LoadedFiles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := make([]string, 0, len(l.loadedPaths))
	for f := range l.loadedPaths {
		files = append(files, f)
	}
	slices.Sort(files)
	return files
}

func (l *Loader) manifest() (*Manifest, error) {
	if l.manifestName == "" {
		return nil, nil
	}
	return LoadManifest(filepath.Join(l.dir, l.manifestName))
}

// register presets the manifest settings of the filters that are new, then
// loads fs.
func (l *Loader) register(fs []*filters.Filter, manifest *Manifest) bool {
	for _, f := range fs {
		if f == nil {
			continue
		}
		if _, exists := l.registry.Get(f.ID()); exists {
			continue
		}
		entry, ok := manifest.Lookup(f)
		if !ok {
			continue
		}
		priority, active := entry.apply(f)
		if err := f.Preset(priority, active); err != nil {
			logger.Warn("Failed to apply manifest entry", "filter", f.Description(), "error", err)
		}
	}
	return l.registry.Load(fs...)
}

func (l *Loader) attach(fn func(*dispatch.Dispatcher)) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin attach panicked: %v", rec)
		}
	}()
	fn(l.dispatcher)
	return nil
}

func (l *Loader) openFile(path string) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panicked: %v", rec)
		}
	}()
	return l.open(path)
}

func openPlugin(path string) (Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return Plugin{}, fmt.Errorf("failed to open plugin file: %w", err)
	}

	sym, err := p.Lookup(FiltersSymbol)
	if err != nil {
		return Plugin{}, fmt.Errorf("plugin missing %s symbol: %w", FiltersSymbol, err)
	}
	fn, ok := sym.(func() []*filters.Filter)
	if !ok {
		return Plugin{}, fmt.Errorf("%s has incorrect type %T", FiltersSymbol, sym)
	}

	var attach func(*dispatch.Dispatcher)
	if sym, err := p.Lookup(AttachSymbol); err == nil {
		if attach, ok = sym.(func(*dispatch.Dispatcher)); !ok {
			return Plugin{}, fmt.Errorf("%s has incorrect type %T", AttachSymbol, sym)
		}
	}
	return Plugin{Filters: fn(), Attach: attach}, nil
}
