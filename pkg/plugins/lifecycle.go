package plugins

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/platinummonkey/hinge/pkg/datastore"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/platinummonkey/hinge/pkg/loader/lua"
	"github.com/platinummonkey/hinge/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Host is the argument passed to a plugin's entry symbol. Through it the
// plugin's code registers its lifecycle hooks. It also satisfies lua.Host
// so Lua entry functions get the same capability.
type Host struct {
	ctx *Context
	d   *descriptor.Descriptor
}

// Context returns the Context the plugin is installed in
func (h *Host) Context() *Context { return h.ctx }

// Descriptor returns the plugin being started
func (h *Host) Descriptor() *descriptor.Descriptor { return h.d }

// OnHook registers fn for hook on the plugin being started
func (h *Host) OnHook(hook Hook, fn HookFunc) (remove func(), err error) {
	return h.ctx.On(h.d.ID(), hook, fn)
}

// On registers a Lua callback. It implements lua.Host.
func (h *Host) On(hook string, fn lua.HookFunc) error {
	parsed, err := ParseHook(hook)
	if err != nil {
		return err
	}
	_, err = h.ctx.On(h.d.ID(), parsed, func(ctx context.Context, _ *descriptor.Descriptor, store *datastore.Store) error {
		return fn(ctx, store)
	})
	return err
}

// On registers fn for hook on the plugin called pluginID. It fails with
// errdefs.ErrNotFound when the plugin is not installed. The returned
// function removes the registration.
func (c *Context) On(pluginID string, hook Hook, fn HookFunc) (remove func(), err error) {
	if fn == nil {
		return nil, fmt.Errorf("nil %s hook for plugin %s", hook, pluginID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.plugins[pluginID]; !ok {
		return nil, fmt.Errorf("%w: plugin not installed: %s", errdefs.ErrNotFound, pluginID)
	}

	byHook, ok := c.hooks[pluginID]
	if !ok {
		byHook = make(map[Hook][]hookEntry)
		c.hooks[pluginID] = byHook
	}
	c.nextID++
	id := c.nextID
	byHook[hook] = append(byHook[hook], hookEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if byHook, ok := c.hooks[pluginID]; ok {
			byHook[hook] = slices.DeleteFunc(byHook[hook], func(e hookEntry) bool { return e.id == id })
		}
	}, nil
}

// HasHook reports whether any callback is registered for hook on the
// plugin called pluginID
func (c *Context) HasHook(pluginID string, hook Hook) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hooks[pluginID][hook]) > 0
}

// Fire invokes the callbacks registered for hook on the plugin called
// pluginID in registration order. Every callback runs; their errors are
// joined. A panicking callback is reported as an error.
func (c *Context) Fire(ctx context.Context, pluginID string, hook Hook, store *datastore.Store) error {
	c.mu.RLock()
	d, ok := c.plugins[pluginID]
	entries := slices.Clone(c.hooks[pluginID][hook])
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: plugin not installed: %s", errdefs.ErrNotFound, pluginID)
	}

	var errs []error
	for _, e := range entries {
		errs = append(errs, c.invokeHook(ctx, d, hook, e.fn, store))
	}
	err := errors.Join(errs...)
	if len(entries) > 0 {
		c.metrics.RecordHook(string(hook), observability.Result(err))
	}
	return err
}

func (c *Context) invokeHook(ctx context.Context, d *descriptor.Descriptor, hook Hook, fn HookFunc, store *datastore.Store) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook of %s panicked: %v", hook, d.ID(), r)
		}
		if err != nil {
			observability.WithTraceContext(ctx, c.logger()).Warnf("Hook %s of plugin %s failed: %v", hook, d.ID(), err)
		}
	}()
	return fn(ctx, d, store)
}

// Start resolves the entry symbol of the plugin called id and fires its
// start hook. Installed requires are started first; a missing optional
// require is skipped and a missing mandatory one fails with
// errdefs.ErrNotFound. Starting a started plugin does nothing.
func (c *Context) Start(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, "plugins.Start", trace.WithAttributes(
		attribute.String("plugins.context", c.id),
		attribute.String("plugin.id", id),
	))
	defer span.End()

	if err := c.start(ctx, id, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Context) start(ctx context.Context, id string, chain []string) error {
	if slices.Contains(chain, id) {
		return nil
	}

	c.mu.RLock()
	d, ok := c.plugins[id]
	started := c.started[id]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: plugin not installed: %s", errdefs.ErrNotFound, id)
	}
	if started {
		return nil
	}

	chain = append(chain, id)
	for _, r := range d.Requires() {
		if _, ok := c.Query(r.PluginID); !ok {
			if r.Optional {
				c.logger().Debugf("Skipping optional require %s of %s", r.PluginID, id)
				continue
			}
			return fmt.Errorf("%w: plugin %s requires %s", errdefs.ErrNotFound, id, r.PluginID)
		}
		if err := c.start(ctx, r.PluginID, chain); err != nil {
			return fmt.Errorf("failed to start %s required by %s: %w", r.PluginID, id, err)
		}
	}

	_, err, _ := c.starts.Do(id, func() (any, error) {
		if c.isStarted(id) {
			return nil, nil
		}
		if err := c.resolveEntry(ctx, d); err != nil {
			return nil, err
		}
		if err := c.Fire(ctx, id, HookStart, nil); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.plugins[id] == d && !c.started[id] {
			c.started[id] = true
			c.startOrder = append(c.startOrder, id)
		}
		c.mu.Unlock()

		c.logger().Infof("Started plugin %s", d)
		return nil, nil
	})
	return err
}

func (c *Context) isStarted(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started[id]
}

// Started reports whether the plugin called id has been started
func (c *Context) Started(id string) bool { return c.isStarted(id) }

// resolveEntry loads the plugin's module and calls its entry symbol with
// a Host. This happens once per install, so restarting a stopped plugin
// does not register its hooks again. Plugins without an entry symbol have
// nothing to resolve.
func (c *Context) resolveEntry(ctx context.Context, d *descriptor.Descriptor) error {
	if d.Symbol() == "" {
		return nil
	}

	c.mu.RLock()
	done := c.resolved[d.ID()]
	c.mu.RUnlock()
	if done {
		return nil
	}

	h, err := c.loadModule(ctx, d)
	if err != nil {
		return err
	}
	instance, err := h.ResolveContext(ctx, d.Symbol(), &Host{ctx: c, d: d}, loader.WithCache(false))
	if err != nil {
		return err
	}
	d.SetRuntime(instance)

	c.mu.Lock()
	if c.plugins[d.ID()] == d {
		c.resolved[d.ID()] = true
	}
	c.mu.Unlock()
	return nil
}

// loadModule loads the plugin's module, trying it relative to the
// plugin's install path before the loader search paths
func (c *Context) loadModule(ctx context.Context, d *descriptor.Descriptor) (*loader.Handle, error) {
	if d.Module() == "" {
		return nil, fmt.Errorf("%w: plugin %s has no module", errdefs.ErrResolution, d.ID())
	}

	var refs []string
	if d.Path() != "" && !filepath.IsAbs(d.Module()) {
		refs = append(refs, filepath.Join(d.Path(), d.Module()))
	}
	refs = append(refs, d.Module())

	var errs []error
	for _, ref := range refs {
		h, err := c.loader.LoadContext(ctx, ref)
		if err == nil {
			return h, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// ResolveExtPoint resolves the extension point with the given global id to
// an instance: the owning plugin's module is loaded and the extension
// point's local id is called as a symbol with the owning descriptor. It
// returns nil on failure and records the reason in LastError.
func (c *Context) ResolveExtPoint(ctx context.Context, globalID string, opts ...loader.ResolveOption) any {
	ep, ok := c.QueryExtPoint(globalID)
	if !ok {
		c.lastErr.Set(fmt.Errorf("%w: extension point not installed: %s", errdefs.ErrNotFound, globalID))
		return nil
	}

	d := ep.Plugin()
	if d == nil {
		c.lastErr.Set(fmt.Errorf("%w: extension point %s has no owning plugin", errdefs.ErrNotFound, globalID))
		return nil
	}

	h, err := c.loadModule(ctx, d)
	if err != nil {
		c.lastErr.Set(fmt.Errorf("failed to resolve extension point %s: %w", globalID, err))
		return nil
	}
	instance, err := h.ResolveContext(ctx, ep.LocalID(), d, opts...)
	if err != nil {
		c.lastErr.Set(fmt.Errorf("failed to resolve extension point %s: %w", globalID, err))
		return nil
	}
	return instance
}

// Stop fires the stop hook of a started plugin and marks it stopped. The
// plugin stays installed and keeps its hooks and runtime instance.
func (c *Context) Stop(ctx context.Context, id string) error {
	if _, ok := c.Query(id); !ok {
		return fmt.Errorf("%w: plugin not installed: %s", errdefs.ErrNotFound, id)
	}
	if !c.isStarted(id) {
		return nil
	}

	err := c.Fire(ctx, id, HookStop, nil)

	c.mu.Lock()
	delete(c.started, id)
	c.startOrder = slices.DeleteFunc(c.startOrder, func(s string) bool { return s == id })
	c.mu.Unlock()

	c.logger().Infof("Stopped plugin %s", id)
	return err
}

// RunPlugins fires the run hook of every installed plugin in id order
func (c *Context) RunPlugins(ctx context.Context) error {
	var errs []error
	for _, d := range c.QueryAll(nil) {
		if err := c.Fire(ctx, d.ID(), HookRun, nil); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Save fires the save hook of every plugin that registered one, each with
// the child of store named by its id. A nil store is refused.
func (c *Context) Save(ctx context.Context, store *datastore.Store) error {
	if store == nil {
		return errors.New("save requires a store")
	}

	var errs []error
	for _, d := range c.QueryAll(nil) {
		if !c.HasHook(d.ID(), HookSave) {
			continue
		}
		if err := c.Fire(ctx, d.ID(), HookSave, store.Child(d.ID())); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore fires the restore hook of every plugin that registered one with
// the child of store named by its id. Plugins with no saved state receive
// an empty store, as do all of them when store is nil.
func (c *Context) Restore(ctx context.Context, store *datastore.Store) error {
	if store == nil {
		store = datastore.New()
	}

	var errs []error
	for _, d := range c.QueryAll(nil) {
		if !c.HasHook(d.ID(), HookRestore) {
			continue
		}
		child, ok := store.Store(d.ID())
		if !ok {
			child = datastore.New()
		}
		if err := c.Fire(ctx, d.ID(), HookRestore, child); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destroy stops started plugins in reverse start order, then uninstalls
// every plugin
func (c *Context) Destroy(ctx context.Context) error {
	c.mu.RLock()
	order := slices.Clone(c.startOrder)
	c.mu.RUnlock()

	var errs []error
	for _, id := range slices.Backward(order) {
		if err := c.Stop(ctx, id); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, err)
		}
	}

	all := c.QueryAll(nil)
	for _, d := range slices.Backward(all) {
		if err := c.Uninstall(d.ID()); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, err)
		}
	}

	c.logger().Infof("Destroyed plugin context (%d plugins)", len(all))
	return errors.Join(errs...)
}

// AsyncRun runs fn on the Context's pool, or inline when none is
// configured
func (c *Context) AsyncRun(fn func(context.Context) error) error {
	if c.pool == nil {
		return fn(context.Background())
	}
	return c.pool.Submit(fn)
}
