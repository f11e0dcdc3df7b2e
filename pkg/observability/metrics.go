package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultMiss    = "miss"
)

// Result maps an error to a result label
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver.
type Metrics struct {
	// Context metrics
	PluginsInstalled       prometheus.Gauge
	PluginTransitionsTotal *prometheus.CounterVec
	HookInvocationsTotal   *prometheus.CounterVec

	// Loader metrics
	ModuleLoadsTotal       *prometheus.CounterVec
	ModuleLoadDuration     *prometheus.HistogramVec
	ModuleCacheHitsTotal   prometheus.Counter
	SymbolResolutionsTotal *prometheus.CounterVec

	// Archive metrics
	ArchiveReadsTotal *prometheus.CounterVec

	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		PluginsInstalled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hinge_plugins_installed",
				Help: "Number of plugins currently installed",
			},
		),
		PluginTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinge_plugin_transitions_total",
				Help: "Total number of plugin state transitions",
			},
			[]string{"state"},
		),
		HookInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinge_hook_invocations_total",
				Help: "Total number of lifecycle hook callback invocations",
			},
			[]string{"hook", "result"},
		),
		ModuleLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinge_module_loads_total",
				Help: "Total number of module load attempts",
			},
			[]string{"kind", "result"},
		),
		ModuleLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hinge_module_load_duration_seconds",
				Help:    "Module construction duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"kind"},
		),
		ModuleCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hinge_module_cache_hits_total",
				Help: "Total number of module loads served from the cache",
			},
		),
		SymbolResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinge_symbol_resolutions_total",
				Help: "Total number of symbol resolutions",
			},
			[]string{"result"},
		),
		ArchiveReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinge_archive_reads_total",
				Help: "Total number of descriptor archive reads",
			},
			[]string{"format", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinge_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hinge_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.PluginsInstalled,
		m.PluginTransitionsTotal,
		m.HookInvocationsTotal,
		m.ModuleLoadsTotal,
		m.ModuleLoadDuration,
		m.ModuleCacheHitsTotal,
		m.SymbolResolutionsTotal,
		m.ArchiveReadsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// SetInstalled records the number of installed plugins
func (m *Metrics) SetInstalled(n int) {
	if m == nil {
		return
	}
	m.PluginsInstalled.Set(float64(n))
}

// RecordTransition counts a transition into state
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.PluginTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordHook counts a hook callback invocation
func (m *Metrics) RecordHook(hook, result string) {
	if m == nil {
		return
	}
	m.HookInvocationsTotal.WithLabelValues(hook, result).Inc()
}

// RecordModuleLoad counts a module load attempt
func (m *Metrics) RecordModuleLoad(kind, result string) {
	if m == nil {
		return
	}
	m.ModuleLoadsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveModuleLoad records how long constructing a module took
func (m *Metrics) ObserveModuleLoad(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModuleLoadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordCacheHit counts a module load served from the cache
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.ModuleCacheHitsTotal.Inc()
}

// RecordResolution counts a symbol resolution
func (m *Metrics) RecordResolution(result string) {
	if m == nil {
		return
	}
	m.SymbolResolutionsTotal.WithLabelValues(result).Inc()
}

// RecordArchiveRead counts a descriptor archive read
func (m *Metrics) RecordArchiveRead(format, result string) {
	if m == nil {
		return
	}
	m.ArchiveReadsTotal.WithLabelValues(format, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments admin requests, labelled by route
// template rather than raw path
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
