package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/async"
	"github.com/platinummonkey/hinge/pkg/config"
	"github.com/platinummonkey/hinge/pkg/datastore"
	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/platinummonkey/hinge/pkg/loader/lua"
	"github.com/platinummonkey/hinge/pkg/loader/native"
	"github.com/platinummonkey/hinge/pkg/observability"
	"github.com/platinummonkey/hinge/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// asyncTaskTimeout bounds each runnable submitted through Context.AsyncRun
const asyncTaskTimeout = 5 * time.Minute

// stringList collects a repeatable flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// options are the command line settings layered over config.Config
type options struct {
	starts    stringList
	silent    bool
	recursive bool
	watch     bool
	admin     string
	save      string
	schedule  string
	logLevel  string
	path      string
	targets   []string
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.Var(&opts.starts, "start", "Plugin id to start (repeatable). Default: all installed plugins")
	fs.BoolVar(&opts.silent, "silent", false, "Only log errors and do not print the installed plugins")
	fs.BoolVar(&opts.recursive, "recursive", false, "Descend into subdirectories of plugin directories")
	fs.BoolVar(&opts.watch, "watch", false, "Install descriptor files added to plugin directories while running")
	fs.StringVar(&opts.admin, "admin", "", "Admin server listen address, e.g. :8081 (overrides HINGE_ADMIN_ADDR)")
	fs.StringVar(&opts.save, "save", "", "State file restored at startup and written at shutdown (overrides HINGE_SAVE_FILE)")
	fs.StringVar(&opts.schedule, "save-schedule", "", "Cron schedule for periodic saves (overrides HINGE_SAVE_SCHEDULE)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides HINGE_LOG_LEVEL)")
	fs.StringVar(&opts.path, "path", "", "Additional plugin search paths, separated like PATH")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.targets = fs.Args()
	return opts, nil
}

// apply layers the flags over cfg
func (o *options) apply(cfg *config.Config) error {
	if o.admin != "" {
		cfg.Admin.Addr = o.admin
	}
	if o.save != "" {
		cfg.Save.File = o.save
	}
	if o.schedule != "" {
		cfg.Save.Schedule = o.schedule
	}
	if o.logLevel != "" {
		level, err := logrus.ParseLevel(o.logLevel)
		if err != nil {
			return fmt.Errorf("invalid -log-level: %w", err)
		}
		cfg.Observability.LogLevel = level
	}
	if o.silent {
		cfg.Observability.LogLevel = logrus.ErrorLevel
	}
	if o.path != "" {
		cfg.Runtime.PluginPath = append(cfg.Runtime.PluginPath, filepath.SplitList(o.path)...)
	}
	return cfg.Validate()
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := opts.apply(cfg); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel.String(), cfg.Observability.LogFormat)
	if err := run(context.Background(), cfg, opts, log); err != nil {
		log.Fatalf("hinge-launch failed: %v", err)
	}
}

// launcher holds the components assembled by run
type launcher struct {
	cfg  *config.Config
	opts *options
	log  *logrus.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	pool     *async.Pool
	ctx      *plugins.Context
}

func run(ctx context.Context, cfg *config.Config, opts *options, log *logrus.Logger) error {
	tp, err := observability.InitTracing(ctx, cfg.Observability.Tracing(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer observability.ShutdownTracing(context.Background(), tp, log)

	l, err := newLauncher(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer l.close()

	l.loadTargets(ctx)
	if err := l.ctx.RegisterContributedBackends(ctx); err != nil {
		log.Warnf("Some contributed backends were not registered: %v", err)
	}
	l.startPlugins(ctx)
	l.restore(ctx)
	if err := l.ctx.RunPlugins(ctx); err != nil {
		log.Warnf("Some plugins failed to run: %v", err)
	}
	if !opts.silent {
		l.printPlugins(os.Stdout)
	}

	if err := l.serve(ctx); err != nil {
		return err
	}

	l.save(ctx)
	if err := l.ctx.Destroy(ctx); err != nil {
		log.Warnf("Errors while destroying plugin context: %v", err)
	}
	return nil
}

func newLauncher(ctx context.Context, cfg *config.Config, opts *options, log *logrus.Logger) (*launcher, error) {
	l := &launcher{cfg: cfg, opts: opts, log: log}

	if cfg.Observability.MetricsEnabled {
		l.registry = prometheus.NewRegistry()
		l.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		l.metrics = observability.NewMetrics(l.registry)
	}

	mods := loader.NewLoader(
		loader.WithLogger(log),
		loader.WithMetrics(l.metrics),
		loader.WithTracer(observability.Tracer()),
		loader.WithSymbolCacheSize(cfg.Runtime.SymbolCacheSize),
		loader.WithModuleCache(cfg.Runtime.ModuleCache),
	)
	backends := []loader.Backend{
		lua.Backend(lua.WithLogger(log), lua.WithTimeout(cfg.Runtime.LuaTimeout)),
		native.Backend(),
		native.WildcardBackend(),
	}
	for _, b := range backends {
		if err := mods.RegisterBackend(b); err != nil {
			return nil, fmt.Errorf("failed to register %q backend: %w", b.Kind, err)
		}
	}

	contextOpts := []plugins.ContextOption{
		plugins.WithLogger(log),
		plugins.WithMetrics(l.metrics),
		plugins.WithTracer(observability.Tracer()),
		plugins.WithLoader(mods),
		plugins.WithArchiveOptions(archive.WithKeyPolicy(cfg.Runtime.KeyPolicy)),
		plugins.WithPolicy(plugins.ValidIdentifiers),
	}
	if cfg.Runtime.AsyncWorkers > 0 {
		l.pool = async.NewPool(ctx, cfg.Runtime.AsyncWorkers, "plugin runnables", asyncTaskTimeout,
			async.WithLogger(log),
			async.WithErrorHandler(func(err error) { log.Warnf("Asynchronous plugin task failed: %v", err) }),
		)
		contextOpts = append(contextOpts, plugins.WithAsyncPool(l.pool))
	}

	c, err := plugins.NewContext(contextOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin context: %w", err)
	}
	l.ctx = c

	if exe, err := os.Executable(); err == nil {
		c.AddPath(filepath.Dir(exe))
	}
	c.AddPaths(strings.Join(cfg.Runtime.PluginPath, string(os.PathListSeparator)))
	return l, nil
}

func (l *launcher) close() {
	if l.pool != nil {
		if err := l.pool.Shutdown(l.cfg.Admin.ShutdownTimeout); err != nil {
			l.log.Warnf("Failed to drain async pool: %v", err)
		}
	}
	if err := l.ctx.Loader().Close(); err != nil {
		l.log.Warnf("Failed to close modules: %v", err)
	}
}

// targets returns the plugin files and directories to load. Without
// arguments the plugins directory next to the executable is used.
func (l *launcher) targets() []string {
	if len(l.opts.targets) > 0 {
		return l.opts.targets
	}
	exe, err := os.Executable()
	if err != nil {
		return []string{"plugins"}
	}
	return []string{filepath.Join(filepath.Dir(exe), "plugins")}
}

func (l *launcher) loadTargets(ctx context.Context) {
	for _, target := range l.targets() {
		installed, err := l.ctx.LoadPlugins(ctx, target, l.opts.recursive)
		if err != nil {
			l.log.Warnf("Problems loading plugins from %s: %v", target, err)
		}
		l.log.Debugf("Installed %d plugins from %s", len(installed), target)
	}
}

// startPlugins starts the requested plugins, or every installed one
func (l *launcher) startPlugins(ctx context.Context) {
	ids := []string(l.opts.starts)
	if len(ids) == 0 {
		for _, d := range l.ctx.QueryAll(nil) {
			ids = append(ids, d.ID())
		}
	}
	for _, id := range ids {
		if err := l.ctx.Start(ctx, id); err != nil {
			l.log.Errorf("Failed to start plugin %s: %v", id, err)
		}
	}
}

func (l *launcher) restore(ctx context.Context) {
	file := l.cfg.Save.File
	if file == "" {
		return
	}
	store, err := datastore.LoadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Debugf("No saved state at %s", file)
		} else {
			l.log.Warnf("Failed to read saved state: %v", err)
		}
		return
	}
	if err := l.ctx.Restore(ctx, store); err != nil {
		l.log.Warnf("Some plugins failed to restore: %v", err)
	}
}

func (l *launcher) save(ctx context.Context) {
	file := l.cfg.Save.File
	if file == "" {
		return
	}
	store := datastore.New()
	if err := l.ctx.Save(ctx, store); err != nil {
		l.log.Warnf("Some plugins failed to save: %v", err)
	}
	if err := store.SaveFile(file); err != nil {
		l.log.Errorf("Failed to write state to %s: %v", file, err)
		return
	}
	l.log.Debugf("Saved state of %d plugins to %s", store.Len(), file)
}

// serve runs the admin server, the descriptor watcher and the save
// schedule until a signal arrives. It returns at once when none of them
// is enabled.
func (l *launcher) serve(ctx context.Context) error {
	if l.cfg.Admin.Addr == "" && !l.opts.watch {
		return nil
	}

	shutdown := observability.NewShutdownManager(l.log, l.cfg.Admin.ShutdownTimeout)
	g, gctx := errgroup.WithContext(ctx)

	if l.cfg.Save.File != "" && l.cfg.Save.Schedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(l.cfg.Save.Schedule, func() { l.save(gctx) }); err != nil {
			return fmt.Errorf("failed to schedule saves: %w", err)
		}
		scheduler.Start()
		l.log.Infof("Saving plugin state on schedule %q", l.cfg.Save.Schedule)
		shutdown.Register("save schedule", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if l.opts.watch {
		w, err := newWatcher(l.ctx, l.log, l.targets(), l.opts.recursive)
		if err != nil {
			return err
		}
		shutdown.Register("descriptor watcher", func(context.Context) error { return w.Close() })
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	if addr := l.cfg.Admin.Addr; addr != "" {
		server := &http.Server{
			Addr:         addr,
			Handler:      newAdminHandler(l.ctx, l.log, l.metrics, l.gatherer()),
			ReadTimeout:  l.cfg.Admin.ReadTimeout,
			WriteTimeout: l.cfg.Admin.WriteTimeout,
		}
		shutdown.Register("admin server", server.Shutdown)
		g.Go(func() error {
			l.log.Infof("Admin server listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error { return shutdown.Wait(gctx) })
	return g.Wait()
}

// gatherer returns the metrics registry, or nil when metrics are disabled
func (l *launcher) gatherer() prometheus.Gatherer {
	if l.registry == nil {
		return nil
	}
	return l.registry
}
