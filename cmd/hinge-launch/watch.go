package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/async"
	"github.com/platinummonkey/hinge/pkg/plugins"
	"github.com/sirupsen/logrus"
)

const (
	// watchDebounce lets a new descriptor file settle before it is read
	watchDebounce = 500 * time.Millisecond
	// installTimeout bounds loading and starting one descriptor file
	installTimeout = time.Minute
)

// watcher installs and starts descriptor files that appear in the plugin
// directories while the launcher runs
type watcher struct {
	ctx       *plugins.Context
	log       *logrus.Logger
	fs        *fsnotify.Watcher
	recursive bool
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	loaded  map[string]bool
}

func newWatcher(c *plugins.Context, log *logrus.Logger, targets []string, recursive bool) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor watcher: %w", err)
	}

	w := &watcher{
		ctx:       c,
		log:       log,
		fs:        fsw,
		recursive: recursive,
		debounce:  watchDebounce,
		pending:   make(map[string]*time.Timer),
		loaded:    make(map[string]bool),
	}
	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := w.addDir(target); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addDir watches dir, and its subdirectories when recursive
func (w *watcher) addDir(dir string) error {
	if !w.recursive {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.log.Debugf("Watching %s for descriptor files", dir)
		return nil
	}

	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.log.Debugf("Watching %s for descriptor files", path)
		return nil
	})
}

// Run processes events until ctx is done or the watcher is closed
func (w *watcher) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warnf("Descriptor watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 && w.recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDir(event.Name); err != nil {
				w.log.Warnf("Failed to watch new directory: %v", err)
			}
			return
		}
	}

	if !archive.IsArchiveFile(event.Name) {
		return
	}

	path := event.Name
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loaded[path] {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		async.SafeGo(ctx, w.log, installTimeout, "install "+path, func(ctx context.Context) error {
			return w.install(ctx, path)
		})
	})
}

// install loads one descriptor file and starts what it installed. A file
// that installed at least one plugin is not read again.
func (w *watcher) install(ctx context.Context, path string) error {
	installed, err := w.ctx.LoadPlugins(ctx, path, false)
	if len(installed) > 0 {
		w.mu.Lock()
		w.loaded[path] = true
		w.mu.Unlock()
	}

	for _, d := range installed {
		if err := w.ctx.Start(ctx, d.ID()); err != nil {
			w.log.Errorf("Failed to start plugin %s: %v", d.ID(), err)
			continue
		}
		w.log.Infof("Installed and started plugin %s from %s", d, path)
	}
	return err
}

// Close stops watching and drops pending installs
func (w *watcher) Close() error {
	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.fs.Close()
}
