package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		err      error
		expected string
	}{
		{"healthy", true, nil, StatusHealthy},
		{"critical failure", true, errors.New("down"), StatusUnhealthy},
		{"non-critical failure", false, errors.New("slow"), StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker()
			checker.AddCheck("ok", true, func(ctx context.Context) error { return nil })
			checker.AddCheck("subject", tt.critical, func(ctx context.Context) error { return tt.err })

			status := checker.Check(context.Background())
			assert.Equal(t, tt.expected, status.Status)
			assert.Len(t, status.Checks, 2)
			assert.Equal(t, StatusHealthy, status.Checks["ok"].Status)
		})
	}
}

func TestHealthChecker_DegradedDoesNotMaskUnhealthy(t *testing.T) {
	checker := NewHealthChecker()
	checker.AddCheck("a", true, func(ctx context.Context) error { return errors.New("down") })
	checker.AddCheck("b", false, func(ctx context.Context) error { return errors.New("slow") })

	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)
}

func TestHealthRoutes(t *testing.T) {
	checker := NewHealthChecker()
	failing := true
	checker.AddCheck("plugins", true, func(ctx context.Context) error {
		if failing {
			return errors.New("no plugins")
		}
		return nil
	})

	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "no plugins", status.Checks["plugins"].Message)

	failing = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
