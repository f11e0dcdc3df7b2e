package loader

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Handle is a loaded module as returned by Loader.Load. It remembers the
// instances resolved from its symbols.
type Handle struct {
	kind   string
	path   string
	module Module
	loader *Loader

	instances *lru.Cache[string, any]
	group     singleflight.Group

	closeOnce sync.Once
	closeErr  error
}

func newHandle(l *Loader, kind, path string, module Module) *Handle {
	instances, err := lru.New[string, any](l.symbolCacheSize)
	if err != nil {
		instances, _ = lru.New[string, any](DefaultSymbolCacheSize)
	}
	return &Handle{
		kind:      kind,
		path:      path,
		module:    module,
		loader:    l,
		instances: instances,
	}
}

// Kind returns the backend kind that produced the module
func (h *Handle) Kind() string { return h.kind }

// Path returns the resolved path the module was loaded from
func (h *Handle) Path() string { return h.path }

// Name returns the backend's name for the module
func (h *Handle) Name() string { return h.module.Name() }

// Module returns the backend module
func (h *Handle) Module() Module { return h.module }

// Resolve looks up symbol and calls it with arg. Lookup failures, errors
// returned by the symbol and panics raised by it are all reported as an
// error wrapping errdefs.ErrResolution; nothing propagates past this call.
func (h *Handle) Resolve(symbol string, arg any, opts ...ResolveOption) (any, error) {
	return h.ResolveContext(context.Background(), symbol, arg, opts...)
}

// ResolveContext is Resolve with a parent context for tracing
func (h *Handle) ResolveContext(ctx context.Context, symbol string, arg any, opts ...ResolveOption) (any, error) {
	o := resolveOptions{cache: true}
	for _, opt := range opts {
		opt(&o)
	}

	_, span := h.loader.tracer.Start(ctx, "loader.Resolve", trace.WithAttributes(
		attribute.String("module.path", h.path),
		attribute.String("module.symbol", symbol),
		attribute.Bool("resolve.cache", o.cache),
	))
	defer span.End()

	instance, err := h.resolve(symbol, arg, o)
	h.loader.metrics.RecordResolution(observability.Result(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.loader.log.Debugf("Failed to resolve %s in %s: %v", symbol, h.path, err)
		return nil, err
	}
	return instance, nil
}

func (h *Handle) resolve(symbol string, arg any, o resolveOptions) (any, error) {
	if !o.cache {
		return h.invoke(symbol, arg)
	}

	if instance, ok := h.instances.Get(symbol); ok {
		return instance, nil
	}

	v, err, _ := h.group.Do(symbol, func() (any, error) {
		if instance, ok := h.instances.Get(symbol); ok {
			return instance, nil
		}
		instance, err := h.invoke(symbol, arg)
		if err != nil {
			return nil, err
		}
		h.instances.Add(symbol, instance)
		return instance, nil
	})
	return v, err
}

func (h *Handle) invoke(symbol string, arg any) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = fmt.Errorf("%w: symbol %s in %s panicked: %v", errdefs.ErrResolution, symbol, h.path, r)
		}
	}()

	sym, err := h.module.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrResolution, err)
	}
	if sym == nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrResolution, NoSymbol(h.path, symbol))
	}

	instance, err = sym(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: symbol %s in %s failed: %w", errdefs.ErrResolution, symbol, h.path, err)
	}
	return instance, nil
}

// Forget drops the remembered instance for symbol
func (h *Handle) Forget(symbol string) {
	h.instances.Remove(symbol)
}

// Close releases the backend module. It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.instances.Purge()
		h.closeErr = h.module.Close()
	})
	return h.closeErr
}
