// Package serve implements `filterkit serve`, the long-running host for a
// filter registry, its dispatcher and the management API.
package serve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/filterkit/internal/pkg/config"
	"github.com/endorses/filterkit/internal/pkg/loader"
	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/internal/pkg/management"
	"github.com/endorses/filterkit/internal/pkg/monitoring"
	"github.com/endorses/filterkit/internal/pkg/signals"
	"github.com/endorses/filterkit/internal/pkg/version"
	"github.com/endorses/filterkit/pkg/dispatch"
	"github.com/endorses/filterkit/pkg/filters"
)

// ServeCmd runs the filter host until SIGINT or SIGTERM.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load filters and serve the management API",
	Long: `Load filter plugins from a directory into a registry and serve the
management API (filters, dispatch cache, console, metrics).

Filters are re-read on SIGHUP, on POST /api/v1/filters/reload, and, with
--watch, whenever a plugin file appears in the directory.

A plugin exporting "func Attach(*dispatch.Dispatcher)" receives the host's
dispatcher after its filters are loaded and routes its service calls
through it; those calls show up in the cache endpoints and the
filterkit_dispatch_* metrics.

Examples:
  filterkit serve --dir /opt/filterkit/filters --watch
  FILTERKIT_MANAGEMENT_ADDR=0.0.0.0:9464 filterkit serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cleanup := signals.SetupHandler(ctx, cancel)
		defer cleanup()

		return Run(ctx, cfg)
	},
}

func init() {
	ServeCmd.Flags().String("dir", "", "Filter plugin directory")
	ServeCmd.Flags().String("manifest", "", "Manifest file name inside the plugin directory")
	ServeCmd.Flags().Bool("watch", false, "Reload when plugin files change")
	ServeCmd.Flags().Duration("poll-interval", 0, "Rescan interval when file notifications are unavailable")
	ServeCmd.Flags().Bool("no-cache", false, "Start with the dispatch cache off")
	ServeCmd.Flags().Int("cache-size", 0, "Maximum cached dispatch targets")
	ServeCmd.Flags().String("listen", "", "Management API address (host:port)")
	ServeCmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace collector URL")

	_ = viper.BindPFlag("filters.dir", ServeCmd.Flags().Lookup("dir"))
	_ = viper.BindPFlag("filters.manifest", ServeCmd.Flags().Lookup("manifest"))
	_ = viper.BindPFlag("filters.watch", ServeCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("filters.poll_interval", ServeCmd.Flags().Lookup("poll-interval"))
	_ = viper.BindPFlag("dispatch.cache.size", ServeCmd.Flags().Lookup("cache-size"))
	_ = viper.BindPFlag("management.addr", ServeCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("tracing.endpoint", ServeCmd.Flags().Lookup("otlp-endpoint"))

	ServeCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
			viper.Set("dispatch.cache.enabled", false)
		}
	}
}

// Run wires the registry, loader, dispatcher, metrics, tracing and
// management server from cfg and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	var console *logger.ConsoleBuffer
	if cfg.Log.Console > 0 {
		console = logger.EnableConsole(cfg.Log.Console)
	}

	shutdownTracing, err := monitoring.InitTracing(ctx, monitoring.TracingConfig{
		Endpoint: cfg.Tracing.Endpoint,
		Insecure: cfg.Tracing.Insecure,
		Version:  version.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	registry := filters.NewRegistry()

	exporter := monitoring.NewPrometheusExporter()
	if cfg.Metrics.Enabled {
		exporter.Enable()
		exporter.BindRegistry(registry)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithCacheSize(cfg.Dispatch.CacheSize),
		dispatch.WithObserver(exporter),
	}
	if !cfg.Dispatch.CacheEnabled {
		dispatchOpts = append(dispatchOpts, dispatch.WithCacheDisabled())
	}
	dispatcher, err := dispatch.New(registry, dispatchOpts...)
	if err != nil {
		return err
	}
	defer dispatcher.Close()
	if cfg.Metrics.Enabled {
		exporter.BindCache(dispatcher.CacheLen)
	}

	ld := loader.New(registry, cfg.Filters.Dir,
		loader.WithManifest(cfg.Filters.Manifest),
		loader.WithDispatcher(dispatcher))
	reload := func() {
		if _, err := ld.Load(); err != nil {
			logger.Error("Filter reload failed", "dir", ld.Dir(), "error", err)
		}
	}

	if _, err := ld.Load(); err != nil {
		if !errors.Is(err, loader.ErrSourceNotFound) {
			return err
		}
		// The directory may be created later; reload and the watcher's
		// polling pick it up then.
		logger.Warn("Filter directory not found, starting with no filters", "dir", ld.Dir())
	}
	stats := registry.Stats()
	logger.Info("Filters loaded",
		"dir", ld.Dir(),
		"loaded", stats.Loaded,
		"active", stats.Active,
		"failures", len(ld.Failures()))

	if cfg.Filters.Watch {
		watcher := loader.NewWatcher(ld, loader.WatcherConfig{PollInterval: cfg.Filters.PollInterval})
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start filter watcher: %w", err)
		}
		defer watcher.Wait()
	}

	stopReload := signals.OnReload(ctx, reload)
	defer stopReload()

	opts := []management.Option{
		management.WithReloader(ld),
		management.WithTracing(cfg.Tracing.Endpoint != ""),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, management.WithMetrics(exporter.Handler()))
	}
	if console != nil {
		opts = append(opts, management.WithConsole(console))
	}
	server := management.NewServer(registry, dispatcher, opts...)

	logger.Info("filterkit started",
		"version", version.GetFullVersion(),
		"management", cfg.Management.Addr,
		"cache", cfg.Dispatch.CacheEnabled)
	err = server.ListenAndServe(ctx, cfg.Management.Addr)
	// Stop the watcher and SIGHUP handler before their deferred waits.
	cancel()
	return err
}
