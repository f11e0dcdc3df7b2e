package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.SetInstalled(3)
	m.RecordTransition("INSTALLED")
	m.RecordTransition("INSTALLED")
	m.RecordHook("start", ResultSuccess)
	m.RecordModuleLoad("lua", ResultSuccess)
	m.ObserveModuleLoad("lua", 10*time.Millisecond)
	m.RecordCacheHit()
	m.RecordResolution(ResultFailure)
	m.RecordArchiveRead("xml", ResultSuccess)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.PluginsInstalled))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PluginTransitionsTotal.WithLabelValues("INSTALLED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HookInvocationsTotal.WithLabelValues("start", ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ModuleLoadsTotal.WithLabelValues("lua", ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ModuleCacheHitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SymbolResolutionsTotal.WithLabelValues(ResultFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ArchiveReadsTotal.WithLabelValues("xml", ResultSuccess)))
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetInstalled(1)
		m.RecordTransition("INSTALLED")
		m.RecordHook("run", ResultFailure)
		m.RecordModuleLoad("so", ResultFailure)
		m.ObserveModuleLoad("so", time.Second)
		m.RecordCacheHit()
		m.RecordResolution(ResultSuccess)
		m.RecordArchiveRead("yaml", ResultFailure)
	})
}

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultFailure, Result(errors.New("boom")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/plugins/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins/org.app.a", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/plugins/{id}", "404"),
	))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hinge_http_requests_total"))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(nil))
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
