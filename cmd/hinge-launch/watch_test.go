package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/hinge/pkg/plugins"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notesXML = `<?xml version="1.0" encoding="UTF-8"?>
<archive version="1.0">
  <plugin id="org.app.notes" name="Notes" version="1.0"/>
</archive>
`

func newTestWatcher(t *testing.T, dir string, recursive bool) (*plugins.Context, *watcher) {
	t.Helper()
	log, _ := test.NewNullLogger()
	c, err := plugins.NewContext(plugins.WithLogger(log), plugins.WithoutCorePlugins())
	require.NoError(t, err)

	w, err := newWatcher(c, log, []string{dir}, recursive)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	t.Cleanup(func() { w.Close() })
	return c, w
}

func TestWatcher_Install(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.xml")
	require.NoError(t, os.WriteFile(path, []byte(notesXML), 0644))

	c, w := newTestWatcher(t, dir, false)
	require.NoError(t, w.install(t.Context(), path))

	_, ok := c.Query("org.app.notes")
	require.True(t, ok)
	assert.True(t, c.Started("org.app.notes"))
	assert.True(t, w.loaded[path])

	// a second read of the same file conflicts and leaves it marked loaded
	assert.Error(t, w.install(t.Context(), path))
	assert.True(t, w.loaded[path])
}

func TestWatcher_InstallParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte("<archive version=1.0>"), 0644))

	c, w := newTestWatcher(t, dir, false)
	assert.Error(t, w.install(t.Context(), path))
	assert.False(t, w.loaded[path])
	assert.Equal(t, 0, c.Len())
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	c, w := newTestWatcher(t, dir, false)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.xml"), []byte(notesXML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0644))

	assert.Eventually(t, func() bool {
		return c.Started("org.app.notes")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, c.Len())
}

func TestWatcher_RunRecursive(t *testing.T) {
	dir := t.TempDir()
	c, w := newTestWatcher(t, dir, true)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go w.Run(ctx)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	// the new directory is picked up by the event loop before it is added
	assert.Eventually(t, func() bool {
		for _, name := range w.fs.WatchList() {
			if name == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "notes.xml"), []byte(notesXML), 0644))
	assert.Eventually(t, func() bool {
		_, ok := c.Query("org.app.notes")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}
