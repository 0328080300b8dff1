package monitoring

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/pkg/dispatch"
	"github.com/endorses/filterkit/pkg/filters"
)

// PrometheusExporter exports dispatch and registry metrics to Prometheus.
type PrometheusExporter struct {
	enabled  atomic.Bool
	registry *prometheus.Registry
	mu       sync.Mutex
	cacheFn  func() int

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	rebuildsTotal    prometheus.Counter
	filtersLoaded    prometheus.Gauge
	activeSlots      prometheus.Gauge
}

// NewPrometheusExporter creates an exporter with its own registry. It is
// disabled until Enable is called.
func NewPrometheusExporter() *PrometheusExporter {
	registry := prometheus.NewRegistry()

	// Add Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	p := &PrometheusExporter{
		registry: registry,
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filterkit_dispatch_total",
				Help: "Total number of dispatched calls by path",
			},
			[]string{"path"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filterkit_dispatch_duration_seconds",
				Help:    "Time spent dispatching a call, including the target method",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"path"},
		),
		rebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filterkit_registry_rebuilds_total",
			Help: "Total number of filter view rebuilds",
		}),
		filtersLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "filterkit_filters_loaded",
			Help: "Number of loaded filters",
		}),
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "filterkit_filters_active_slots",
			Help: "Number of contract operations currently claimed by a filter",
		}),
	}

	registry.MustRegister(p.dispatchTotal, p.dispatchDuration, p.rebuildsTotal, p.filtersLoaded, p.activeSlots)
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "filterkit_dispatch_cache_entries",
			Help: "Number of cached dispatch targets",
		},
		p.cacheEntries,
	))

	// Pre-create every path so dashboards see zeros.
	for _, path := range dispatch.Paths {
		p.dispatchTotal.WithLabelValues(path.String())
	}
	return p
}

// Enable starts recording.
func (p *PrometheusExporter) Enable() {
	p.enabled.Store(true)
	logger.Info("Prometheus metrics enabled")
}

// Disable stops recording; collected values are kept.
func (p *PrometheusExporter) Disable() {
	p.enabled.Store(false)
	logger.Info("Prometheus metrics disabled")
}

// IsEnabled returns whether recording is enabled
func (p *PrometheusExporter) IsEnabled() bool {
	return p.enabled.Load()
}

// ObserveDispatch implements dispatch.Observer.
func (p *PrometheusExporter) ObserveDispatch(path dispatch.Path, elapsed time.Duration) {
	if !p.enabled.Load() {
		return
	}
	p.dispatchTotal.WithLabelValues(path.String()).Inc()
	p.dispatchDuration.WithLabelValues(path.String()).Observe(elapsed.Seconds())
}

// BindRegistry keeps the registry gauges current and counts rebuilds.
func (p *PrometheusExporter) BindRegistry(r *filters.Registry) {
	p.setStats(r.Stats())
	r.OnRebuild(func(uint64) {
		if p.enabled.Load() {
			p.rebuildsTotal.Inc()
		}
		p.setStats(r.Stats())
	})
}

// BindCache reports the size of a dispatch cache.
func (p *PrometheusExporter) BindCache(size func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cacheFn = size
}

// Handler serves the metrics in the Prometheus exposition format.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusExporter) setStats(s filters.Stats) {
	p.filtersLoaded.Set(float64(s.Loaded))
	p.activeSlots.Set(float64(s.Slots))
}

func (p *PrometheusExporter) cacheEntries() float64 {
	p.mu.Lock()
	fn := p.cacheFn
	p.mu.Unlock()
	if fn == nil {
		return 0
	}
	return float64(fn())
}
