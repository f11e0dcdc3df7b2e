package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every HINGE_ variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "HINGE_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Empty(t, cfg.Runtime.PluginPath)
	assert.Equal(t, archive.KeyByID, cfg.Runtime.KeyPolicy)
	assert.Equal(t, 4, cfg.Runtime.AsyncWorkers)
	assert.Equal(t, 64, cfg.Runtime.SymbolCacheSize)
	assert.True(t, cfg.Runtime.ModuleCache)
	assert.Zero(t, cfg.Runtime.LuaTimeout)

	assert.Empty(t, cfg.Admin.Addr)
	assert.Equal(t, 30*time.Second, cfg.Admin.ShutdownTimeout)
	assert.Empty(t, cfg.Save.File)

	assert.Equal(t, logrus.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HINGE_PLUGIN_PATH", strings.Join([]string{"/a", "", "/b"}, string(filepath.ListSeparator)))
	t.Setenv("HINGE_KEY_POLICY", "alias")
	t.Setenv("HINGE_ASYNC_WORKERS", "0")
	t.Setenv("HINGE_LUA_TIMEOUT", "2s")
	t.Setenv("HINGE_MODULE_CACHE", "false")
	t.Setenv("HINGE_ADMIN_ADDR", ":9090")
	t.Setenv("HINGE_SAVE_FILE", "/tmp/state.yaml")
	t.Setenv("HINGE_SAVE_SCHEDULE", "*/5 * * * *")
	t.Setenv("HINGE_LOG_LEVEL", "DEBUG")
	t.Setenv("HINGE_LOG_FORMAT", "JSON")
	t.Setenv("HINGE_METRICS_ENABLED", "false")
	t.Setenv("HINGE_OTEL_ENABLED", "1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b"}, cfg.Runtime.PluginPath)
	assert.Equal(t, archive.KeyByAlias, cfg.Runtime.KeyPolicy)
	assert.Equal(t, 0, cfg.Runtime.AsyncWorkers)
	assert.Equal(t, 2*time.Second, cfg.Runtime.LuaTimeout)
	assert.False(t, cfg.Runtime.ModuleCache)
	assert.Equal(t, ":9090", cfg.Admin.Addr)
	assert.Equal(t, "/tmp/state.yaml", cfg.Save.File)
	assert.Equal(t, "*/5 * * * *", cfg.Save.Schedule)
	assert.Equal(t, logrus.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.False(t, cfg.Observability.MetricsEnabled)

	tracing := cfg.Observability.Tracing()
	assert.True(t, tracing.Enabled)
	assert.Equal(t, "localhost:4317", tracing.Endpoint)
	assert.Equal(t, "hinge-launch", tracing.ServiceName)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown key policy", env: map[string]string{"HINGE_KEY_POLICY": "hash"}},
		{name: "negative workers", env: map[string]string{"HINGE_ASYNC_WORKERS": "-1"}},
		{name: "bad log format", env: map[string]string{"HINGE_LOG_FORMAT": "xml"}},
		{name: "schedule without file", env: map[string]string{"HINGE_SAVE_SCHEDULE": "@hourly"}},
		{name: "bad schedule", env: map[string]string{
			"HINGE_SAVE_FILE":     "/tmp/s.yaml",
			"HINGE_SAVE_SCHEDULE": "every tuesday",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidate_OTel(t *testing.T) {
	cfg := &Config{
		Runtime:       RuntimeConfig{SymbolCacheSize: 1},
		Observability: ObservabilityConfig{LogFormat: "text", OTelEnabled: true},
	}
	assert.Error(t, cfg.Validate(), "endpoint required")

	cfg.Observability.OTelEndpoint = "collector:4317"
	assert.Error(t, cfg.Validate(), "service name required")

	cfg.Observability.OTelServiceName = "hinge"
	assert.NoError(t, cfg.Validate())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("HINGE_TEST_INT", "12")
	t.Setenv("HINGE_TEST_BAD_INT", "twelve")
	t.Setenv("HINGE_TEST_BOOL", "TRUE")
	t.Setenv("HINGE_TEST_DURATION", "150ms")

	assert.Equal(t, 12, getEnvInt("HINGE_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("HINGE_TEST_BAD_INT", 1))
	assert.True(t, getEnvBool("HINGE_TEST_BOOL", false))
	assert.True(t, getEnvBool("HINGE_TEST_UNSET_BOOL", true))
	assert.Equal(t, 150*time.Millisecond, getEnvDuration("HINGE_TEST_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("HINGE_TEST_UNSET", "fallback"))
	assert.Equal(t, logrus.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, parseLogLevel("loud"))
}
