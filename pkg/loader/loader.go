package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Loader turns module references into live module handles. Handles are
// cached by resolved path so loading the same path twice yields the same
// handle and constructs the module once.
type Loader struct {
	mu       sync.RWMutex
	paths    []string
	backends []Backend

	cacheEnabled    bool
	cache           *archive.Archive
	group           singleflight.Group
	symbolCacheSize int

	log     *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewLoader creates a loader with no backends registered
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		cacheEnabled:    true,
		cache:           archive.New(),
		symbolCacheSize: DefaultSymbolCacheSize,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.log == nil {
		l.log = logrus.New()
	}
	if l.tracer == nil {
		l.tracer = observability.Tracer()
	}

	return l
}

// AddPaths appends every entry of a platform path list, such as the value
// of an environment variable, in the given order
func (l *Loader) AddPaths(list string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, dir := range filepath.SplitList(list) {
		l.addPathLocked(dir)
	}
}

// AddPath appends dir to the search paths. Empty and already present
// entries are ignored.
func (l *Loader) AddPath(dir string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addPathLocked(dir)
}

func (l *Loader) addPathLocked(dir string) bool {
	if dir == "" || slices.Contains(l.paths, dir) {
		return false
	}
	l.paths = append(l.paths, dir)
	return true
}

// Paths returns a copy of the search paths
func (l *Loader) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.paths)
}

// Register adds a factory for modules of the given kind. An empty kind
// registers the wildcard factory.
func (l *Loader) Register(kind string, factory Factory, arg any) error {
	return l.RegisterBackend(Backend{Kind: kind, Factory: factory, Arg: arg})
}

// RegisterBackend adds a backend. Registering a kind twice fails with
// errdefs.ErrConflict and keeps the first registration.
func (l *Loader) RegisterBackend(b Backend) error {
	if b.Factory == nil {
		return fmt.Errorf("cannot register nil factory for kind %q", b.Kind)
	}
	b.Kind = strings.TrimPrefix(b.Kind, ".")

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.backends {
		if existing.Kind == b.Kind {
			return fmt.Errorf("%w: backend already registered for kind %q", errdefs.ErrConflict, b.Kind)
		}
	}

	if b.Kind == "" {
		l.backends = append(l.backends, b)
	} else {
		l.backends = append([]Backend{b}, l.backends...)
	}

	l.log.Debugf("Registered module backend for kind %q", b.Kind)
	return nil
}

// Unregister removes the backend for kind. Modules it already produced
// stay cached.
func (l *Loader) Unregister(kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.backends {
		if b.Kind == kind {
			l.backends = slices.Delete(l.backends, i, i+1)
			return true
		}
	}
	return false
}

// Kinds returns the registered kinds, wildcard last
func (l *Loader) Kinds() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kinds := make([]string, 0, len(l.backends))
	for _, b := range l.backends {
		kinds = append(kinds, b.Kind)
	}
	return kinds
}

// kindOf returns the suffix of ref without the dot
func kindOf(ref string) string {
	return strings.TrimPrefix(filepath.Ext(ref), ".")
}

// selectBackend picks the backend serving ref: the one registered for its
// suffix, else a virtual backend that claims the name, else the wildcard
func (l *Loader) selectBackend(ref string) (Backend, []string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := slices.Clone(l.paths)
	kind := kindOf(ref)

	if kind != "" {
		for _, b := range l.backends {
			if b.Kind == kind {
				return b, paths, true
			}
		}
	}
	for _, b := range l.backends {
		if b.Virtual && b.Locate != nil {
			if _, ok := b.Locate(ref, paths); ok {
				return b, paths, true
			}
		}
	}
	for _, b := range l.backends {
		if b.Kind == "" {
			return b, paths, true
		}
	}
	return Backend{}, nil, false
}

// Load returns the module handle for ref. It fails with an error wrapping
// errdefs.ErrResolution when no backend serves ref, the module cannot be
// found on the search paths or the backend fails to construct it.
func (l *Loader) Load(ref string) (*Handle, error) {
	return l.LoadContext(context.Background(), ref)
}

// LoadContext is Load with a parent context for tracing
func (l *Loader) LoadContext(ctx context.Context, ref string) (*Handle, error) {
	_, span := l.tracer.Start(ctx, "loader.Load", trace.WithAttributes(attribute.String("module.ref", ref)))
	defer span.End()

	h, err := l.load(ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("module.path", h.Path()), attribute.String("module.kind", h.Kind()))
	return h, nil
}

func (l *Loader) load(ref string) (*Handle, error) {
	backend, paths, ok := l.selectBackend(ref)
	if !ok {
		l.metrics.RecordModuleLoad(kindOf(ref), observability.ResultMiss)
		return nil, fmt.Errorf("%w: %w: %s", errdefs.ErrResolution, errdefs.ErrNoBackend, ref)
	}

	locate := backend.Locate
	if locate == nil {
		locate = func(ref string, paths []string) (string, bool) { return LocateFile(ref, paths) }
	}
	path, ok := locate(ref, paths)
	if !ok {
		l.metrics.RecordModuleLoad(backend.Kind, observability.ResultMiss)
		return nil, fmt.Errorf("%w: %w: module %s not found in search paths %v",
			errdefs.ErrResolution, errdefs.ErrNotFound, ref, paths)
	}

	if !l.cacheEnabled {
		return l.construct(backend, path)
	}

	if h, ok := archive.Lookup[*Handle](l.cache, path); ok {
		l.metrics.RecordCacheHit()
		return h, nil
	}

	v, err, _ := l.group.Do(path, func() (any, error) {
		if h, ok := archive.Lookup[*Handle](l.cache, path); ok {
			return h, nil
		}
		h, err := l.construct(backend, path)
		if err != nil {
			return nil, err
		}
		stored, added := l.cache.AddOrGet(path, h)
		if !added {
			h.Close()
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (l *Loader) construct(backend Backend, path string) (h *Handle, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: backend %q panicked loading %s: %v", errdefs.ErrResolution, backend.Kind, path, r)
		}
		l.metrics.RecordModuleLoad(backend.Kind, observability.Result(err))
		if err != nil {
			l.log.Warnf("Failed to load module %s: %v", path, err)
		}
	}()

	module, err := backend.Factory(path, backend.Arg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load module %s: %w", errdefs.ErrResolution, path, err)
	}
	if module == nil {
		return nil, fmt.Errorf("%w: backend %q returned no module for %s", errdefs.ErrResolution, backend.Kind, path)
	}

	l.metrics.ObserveModuleLoad(backend.Kind, time.Since(start))
	l.log.Debugf("Loaded module %s (kind: %q)", path, backend.Kind)
	return newHandle(l, backend.Kind, path, module), nil
}

// Cached returns the cached handle for a resolved path
func (l *Loader) Cached(path string) (*Handle, bool) {
	return archive.Lookup[*Handle](l.cache, path)
}

// QueryCached returns every cached handle ordered by path
func (l *Loader) QueryCached() []*Handle {
	return archive.Collect[*Handle](l.cache)
}

// Close closes and forgets every cached module
func (l *Loader) Close() error {
	var errs []error
	for _, key := range l.cache.Keys() {
		h, ok := archive.Lookup[*Handle](l.cache, key)
		l.cache.Remove(key)
		if !ok {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d modules: %v", len(errs), errs)
	}
	return nil
}
