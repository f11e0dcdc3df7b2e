package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/platinummonkey/hinge/pkg/config"
	"github.com/platinummonkey/hinge/pkg/datastore"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterXML = `<?xml version="1.0" encoding="UTF-8"?>
<archive version="1.0">
  <plugin id="org.app.counter" name="Counter" version="1.0" module="counter.lua" symbol="start">
    <extpoint id="total" name="Run count"/>
  </plugin>
</archive>
`

const counterLua = `
local count = 0

function start(plugin)
  plugin:on("run", function() count = count + 1 end)
  plugin:on("save", function(store) store:set("count", count) end)
  plugin:on("restore", function(store)
    local saved = store:get("count")
    if saved ~= nil then count = saved end
  end)
end

function total(plugin)
  return count
end
`

func writePluginDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter.xml"), []byte(counterXML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter.lua"), []byte(counterLua), 0644))
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "HINGE_") {
			t.Setenv(key, "")
		}
	}
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	clearEnv(t)
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("hinge-launch", flag.ContinueOnError)
	opts, err := parseFlags(fs, []string{
		"-start", "org.app.a", "-start", "org.app.b",
		"-recursive", "-watch",
		"-admin", ":0",
		"-save", "state.yaml",
		"-save-schedule", "*/5 * * * *",
		"-log-level", "debug",
		"-path", "/opt/a" + string(os.PathListSeparator) + "/opt/b",
		"plugins", "more",
	})
	require.NoError(t, err)

	assert.Equal(t, stringList{"org.app.a", "org.app.b"}, opts.starts)
	assert.Equal(t, "org.app.a,org.app.b", opts.starts.String())
	assert.True(t, opts.recursive)
	assert.True(t, opts.watch)
	assert.Equal(t, []string{"plugins", "more"}, opts.targets)

	cfg := loadConfig(t)
	require.NoError(t, opts.apply(cfg))
	assert.Equal(t, ":0", cfg.Admin.Addr)
	assert.Equal(t, "state.yaml", cfg.Save.File)
	assert.Equal(t, "*/5 * * * *", cfg.Save.Schedule)
	assert.Equal(t, logrus.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, []string{"/opt/a", "/opt/b"}, cfg.Runtime.PluginPath)
}

func TestOptionsApply_Invalid(t *testing.T) {
	cfg := loadConfig(t)
	assert.Error(t, (&options{logLevel: "loud"}).apply(cfg))

	cfg = loadConfig(t)
	assert.Error(t, (&options{schedule: "not a schedule", save: "state.yaml"}).apply(cfg))

	cfg = loadConfig(t)
	require.NoError(t, (&options{silent: true, logLevel: "debug"}).apply(cfg))
	assert.Equal(t, logrus.ErrorLevel, cfg.Observability.LogLevel)
}

func TestRun_SavesAndRestoresState(t *testing.T) {
	dir := writePluginDir(t)
	state := filepath.Join(t.TempDir(), "state.yaml")
	log, _ := test.NewNullLogger()

	cfg := loadConfig(t)
	cfg.Save.File = state
	opts := &options{targets: []string{dir}, silent: true}

	for want := int64(1); want <= 2; want++ {
		require.NoError(t, run(t.Context(), cfg, opts, log))

		store, err := datastore.LoadFile(state)
		require.NoError(t, err)
		counter, ok := store.Store("org.app.counter")
		require.True(t, ok)
		count, _ := counter.Int("count")
		assert.Equal(t, want, count)
	}
}

func TestRun_StartsRequestedOnly(t *testing.T) {
	dir := writePluginDir(t)
	log, _ := test.NewNullLogger()

	cfg := loadConfig(t)
	cfg.Save.File = filepath.Join(t.TempDir(), "state.yaml")
	opts := &options{targets: []string{dir}, starts: stringList{"hinge.core.loader"}, silent: true}

	require.NoError(t, run(t.Context(), cfg, opts, log))

	// the counter never started, so it registered no save hook
	store, err := datastore.LoadFile(cfg.Save.File)
	require.NoError(t, err)
	assert.Empty(t, store.Keys())
}

func TestLauncher_PrintPlugins(t *testing.T) {
	dir := writePluginDir(t)
	log, _ := test.NewNullLogger()
	cfg := loadConfig(t)

	l, err := newLauncher(t.Context(), cfg, &options{targets: []string{dir}}, log)
	require.NoError(t, err)
	defer l.close()

	l.loadTargets(t.Context())
	l.startPlugins(t.Context())

	var out bytes.Buffer
	l.printPlugins(&out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, out.String(), "org.app.counter")
	assert.Contains(t, lines[3], "started")
	assert.Contains(t, lines[3], dir)
}
