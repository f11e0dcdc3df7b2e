package plugins

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/async"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/platinummonkey/hinge/pkg/loader/lua"
	"github.com/platinummonkey/hinge/pkg/loader/native"
	"github.com/platinummonkey/hinge/pkg/loader/static"
	"github.com/platinummonkey/hinge/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Context is the live registry of installed plugins. It owns their
// registration, keeps the extension point index current and drives their
// lifecycle hooks. A Context is safe for concurrent use.
type Context struct {
	id string

	// notifyMu orders each mutation together with its notifications
	notifyMu sync.Mutex

	mu         sync.RWMutex
	plugins    map[string]*descriptor.Descriptor
	extpoints  map[string]*descriptor.ExtPoint
	hooks      map[string]map[Hook][]hookEntry
	observers  []observerEntry
	started    map[string]bool
	resolved   map[string]bool
	startOrder []string
	paths      []string
	nextID     uint64

	starts singleflight.Group

	loader      *loader.Loader
	statics     *static.Registry
	policy      InstallPolicy
	pool        *async.Pool
	archiveOpts []archive.Option
	core        bool
	luaOpts     []lua.Option
	lastErr     *errdefs.Slot

	log     *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

type hookEntry struct {
	id uint64
	fn HookFunc
}

type observerEntry struct {
	id uint64
	fn Observer
}

// ContextOption configures a Context
type ContextOption func(*Context)

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) ContextOption {
	return func(c *Context) { c.log = log }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) ContextOption {
	return func(c *Context) { c.metrics = metrics }
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) ContextOption {
	return func(c *Context) { c.tracer = tracer }
}

// WithLoader uses l instead of a loader with the native, Lua and static
// backends. The Context still registers its static backend on l.
func WithLoader(l *loader.Loader) ContextOption {
	return func(c *Context) { c.loader = l }
}

// WithArchiveOptions sets the options used when reading descriptor files
func WithArchiveOptions(opts ...archive.Option) ContextOption {
	return func(c *Context) { c.archiveOpts = append(c.archiveOpts, opts...) }
}

// WithPolicy sets the install policy. The default accepts everything.
func WithPolicy(policy InstallPolicy) ContextOption {
	return func(c *Context) { c.policy = policy }
}

// WithoutCorePlugins skips installing the built-in plugins
func WithoutCorePlugins() ContextOption {
	return func(c *Context) { c.core = false }
}

// WithAsyncPool runs AsyncRun tasks on pool instead of inline
func WithAsyncPool(pool *async.Pool) ContextOption {
	return func(c *Context) { c.pool = pool }
}

// WithLuaOptions configures the Lua backend of the default loader
func WithLuaOptions(opts ...lua.Option) ContextOption {
	return func(c *Context) { c.luaOpts = append(c.luaOpts, opts...) }
}

// NewContext creates a Context. Unless WithoutCorePlugins is given, the
// built-in loader and archive plugins are installed before it returns.
func NewContext(opts ...ContextOption) (*Context, error) {
	c := &Context{
		id:        uuid.New().String(),
		plugins:   make(map[string]*descriptor.Descriptor),
		extpoints: make(map[string]*descriptor.ExtPoint),
		hooks:     make(map[string]map[Hook][]hookEntry),
		started:   make(map[string]bool),
		resolved:  make(map[string]bool),
		statics:   static.NewRegistry(),
		policy:    AllowAll,
		core:      true,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logrus.New()
	}
	if c.tracer == nil {
		c.tracer = observability.Tracer()
	}
	c.lastErr = errdefs.NewSlot("context "+c.id, c.log)

	if c.loader == nil {
		c.loader = loader.NewLoader(
			loader.WithLogger(c.log),
			loader.WithMetrics(c.metrics),
			loader.WithTracer(c.tracer),
		)
		luaOpts := append([]lua.Option{lua.WithLogger(c.log)}, c.luaOpts...)
		for _, b := range []loader.Backend{lua.Backend(luaOpts...), native.Backend(), native.WildcardBackend()} {
			if err := c.loader.RegisterBackend(b); err != nil {
				return nil, fmt.Errorf("failed to register %q backend: %w", b.Kind, err)
			}
		}
	}
	if err := c.loader.RegisterBackend(c.statics.Backend()); err != nil {
		return nil, fmt.Errorf("failed to register static backend: %w", err)
	}

	provideCoreModules(c.statics)
	if c.core {
		for _, d := range corePlugins() {
			if err := c.Install(d); err != nil {
				return nil, fmt.Errorf("failed to install core plugin %s: %w", d.ID(), err)
			}
		}
	}

	c.logger().Debugf("Created plugin context with %d plugins", c.Len())
	return c, nil
}

// ID returns the context's unique id. It implements descriptor.Owner.
func (c *Context) ID() string { return c.id }

// Loader returns the loader modules are loaded through
func (c *Context) Loader() *loader.Loader { return c.loader }

// Statics returns the registry of in-process modules
func (c *Context) Statics() *static.Registry { return c.statics }

// LastError returns the error recorded by the most recent failing call
// whose result cannot carry one, such as ResolveExtPoint. It is not reset
// by successful calls.
func (c *Context) LastError() error { return c.lastErr.Last() }

// ClearError resets LastError
func (c *Context) ClearError() { c.lastErr.Clear() }

// ErrorSeq counts the errors recorded so far. Comparing it around a call
// tells whether that call recorded one.
func (c *Context) ErrorSeq() uint64 { return c.lastErr.Seq() }

func (c *Context) logger() *logrus.Entry {
	return c.log.WithField("context", c.id)
}

// Install registers d. It fails with errdefs.ErrInvalidID for an empty
// id, errdefs.ErrConflict when the id or one of its extension point ids
// is taken and errdefs.ErrPolicy when the install policy refuses d.
// Observers are notified of the Uninstalled to Installed transition
// before Install returns.
func (c *Context) Install(d *descriptor.Descriptor) error {
	if d == nil || d.ID() == "" {
		return fmt.Errorf("%w: plugin id is empty", errdefs.ErrInvalidID)
	}
	if err := c.policy.Check(c, d); err != nil {
		c.logger().Warnf("Install policy refused plugin %s: %v", d.ID(), err)
		if !errors.Is(err, errdefs.ErrPolicy) {
			err = fmt.Errorf("%w: %w", errdefs.ErrPolicy, err)
		}
		return err
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if _, exists := c.plugins[d.ID()]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: plugin already installed: %s", errdefs.ErrConflict, d.ID())
	}
	eps := d.ExtPoints()
	for _, ep := range eps {
		if _, exists := c.extpoints[ep.ID()]; exists {
			c.mu.Unlock()
			return fmt.Errorf("%w: extension point already declared: %s", errdefs.ErrConflict, ep.ID())
		}
	}

	if holder, ok := d.ClaimOwner(c); !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: plugin %s is installed in context %s", errdefs.ErrConflict, d.ID(), holder.ID())
	}

	c.plugins[d.ID()] = d
	for _, ep := range eps {
		c.extpoints[ep.ID()] = ep
	}
	count := len(c.plugins)
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	c.metrics.SetInstalled(count)
	c.metrics.RecordTransition(Installed.String())
	c.logger().Infof("Installed plugin %s", d)

	c.notify(observers, d, Uninstalled, Installed)
	return nil
}

// InstallAt installs d with its path resolved against dir. An empty path
// becomes dir and a relative one is joined to it.
func (c *Context) InstallAt(dir string, d *descriptor.Descriptor) error {
	if d != nil && dir != "" {
		d.SetPath(joinPath(dir, d.Path()))
	}
	return c.Install(d)
}

// Uninstall removes the plugin called id. It fails with
// errdefs.ErrNotFound when no such plugin is installed. The descriptor's
// owner, runtime instance and hooks are cleared before observers see the
// Installed to Uninstalled transition.
func (c *Context) Uninstall(id string) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	d, exists := c.plugins[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: plugin not installed: %s", errdefs.ErrNotFound, id)
	}

	delete(c.plugins, id)
	for _, ep := range d.ExtPoints() {
		if c.extpoints[ep.ID()] == ep {
			delete(c.extpoints, ep.ID())
		}
	}
	delete(c.hooks, id)
	delete(c.started, id)
	delete(c.resolved, id)
	c.startOrder = slices.DeleteFunc(c.startOrder, func(s string) bool { return s == id })
	d.ReleaseOwner(c)
	d.SetRuntime(nil)
	count := len(c.plugins)
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	c.metrics.SetInstalled(count)
	c.metrics.RecordTransition(Uninstalled.String())
	c.logger().Infof("Uninstalled plugin %s", d)

	c.notify(observers, d, Installed, Uninstalled)
	return nil
}

// Query returns the installed plugin called id
func (c *Context) Query(id string) (*descriptor.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.plugins[id]
	return d, ok
}

// QueryAll returns the installed plugins selected by filter, ordered by
// id. A nil filter selects all of them.
func (c *Context) QueryAll(filter Filter) []*descriptor.Descriptor {
	c.mu.RLock()
	all := slices.Collect(maps.Values(c.plugins))
	c.mu.RUnlock()

	if filter != nil {
		all = slices.DeleteFunc(all, func(d *descriptor.Descriptor) bool { return !filter(d) })
	}
	slices.SortFunc(all, func(a, b *descriptor.Descriptor) int { return cmp.Compare(a.ID(), b.ID()) })
	return all
}

// Len returns the number of installed plugins
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plugins)
}

// QueryExtPoint returns the installed extension point with the given
// global id
func (c *Context) QueryExtPoint(globalID string) (*descriptor.ExtPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.extpoints[globalID]
	return ep, ok
}

// QueryExtPoints returns every installed extension point ordered by
// global id
func (c *Context) QueryExtPoints() []*descriptor.ExtPoint {
	c.mu.RLock()
	eps := slices.Collect(maps.Values(c.extpoints))
	c.mu.RUnlock()

	slices.SortFunc(eps, func(a, b *descriptor.ExtPoint) int { return cmp.Compare(a.ID(), b.ID()) })
	return eps
}

// QueryExtensions returns the installed extensions contributing to the
// extension point with the given global id, ordered by their global id.
// The extension point itself need not be installed.
func (c *Context) QueryExtensions(extpointID string) []*descriptor.Extension {
	var exts []*descriptor.Extension
	for _, d := range c.QueryAll(nil) {
		for _, ext := range d.Extensions() {
			if ext.ExtPointID() == extpointID {
				exts = append(exts, ext)
			}
		}
	}
	slices.SortFunc(exts, func(a, b *descriptor.Extension) int { return cmp.Compare(a.ID(), b.ID()) })
	return exts
}

// Subscribe registers fn for install state transitions. Observers are
// called in registration order. The returned function unsubscribes.
func (c *Context) Subscribe(fn Observer) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.observers = append(c.observers, observerEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers = slices.DeleteFunc(c.observers, func(o observerEntry) bool { return o.id == id })
	}
}

func (c *Context) notify(observers []observerEntry, d *descriptor.Descriptor, old, new State) {
	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger().Warnf("Observer panicked on %s (%s -> %s): %v", d.ID(), old, new, r)
				}
			}()
			o.fn(d, old, new)
		}()
	}
}
