package descriptor

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Owner is the registry a descriptor is installed into. The descriptor
// only holds the handle; the owner sets it on install and clears it on
// uninstall.
type Owner interface {
	ID() string
}

// Descriptor describes one installable plugin
type Descriptor struct {
	id         string
	name       string
	version    string
	provider   string
	module     string
	symbol     string
	requires   []Require
	extpoints  []*ExtPoint
	extensions []*Extension

	mu      sync.RWMutex
	path    string
	owner   Owner
	runtime any
}

// Option configures a Descriptor built by New
type Option func(*Descriptor)

// WithName sets the human readable name
func WithName(name string) Option {
	return func(d *Descriptor) { d.name = name }
}

// WithVersion sets the version string
func WithVersion(version string) Option {
	return func(d *Descriptor) { d.version = version }
}

// WithProvider sets the provider string
func WithProvider(provider string) Option {
	return func(d *Descriptor) { d.provider = provider }
}

// WithPath sets the install path or URI
func WithPath(path string) Option {
	return func(d *Descriptor) { d.path = path }
}

// WithModule sets the module reference handed to the loader
func WithModule(module string) Option {
	return func(d *Descriptor) { d.module = module }
}

// WithSymbol sets the entry symbol resolved when the plugin starts
func WithSymbol(symbol string) Option {
	return func(d *Descriptor) { d.symbol = symbol }
}

// WithRequires sets the dependency list. Passing no arguments records an
// explicitly empty list, which HasRequires distinguishes from omitting the
// option altogether.
func WithRequires(requires ...Require) Option {
	return func(d *Descriptor) {
		d.requires = make([]Require, 0, len(requires))
		d.requires = append(d.requires, requires...)
	}
}

// WithExtPoints adds extension points
func WithExtPoints(extpoints ...*ExtPoint) Option {
	return func(d *Descriptor) { d.extpoints = append(d.extpoints, extpoints...) }
}

// WithExtensions adds extensions
func WithExtensions(extensions ...*Extension) Option {
	return func(d *Descriptor) { d.extensions = append(d.extensions, extensions...) }
}

// New builds a descriptor. Global identifiers of extension points and
// extensions are derived here and never recomputed. Entries sharing a local
// identifier are collapsed to the first one.
func New(id string, opts ...Option) *Descriptor {
	d := &Descriptor{id: id}
	for _, opt := range opts {
		opt(d)
	}

	eps := make([]*ExtPoint, 0, len(d.extpoints))
	for _, ep := range uniqueBy(d.extpoints, (*ExtPoint).LocalID) {
		eps = append(eps, ep.attach(d))
	}
	d.extpoints = eps

	exts := make([]*Extension, 0, len(d.extensions))
	for _, ext := range uniqueBy(d.extensions, (*Extension).LocalID) {
		exts = append(exts, ext.attach(d))
	}
	d.extensions = exts

	return d
}

func uniqueBy[T any](items []*T, key func(*T) string) []*T {
	out := make([]*T, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item == nil || seen[key(item)] {
			continue
		}
		seen[key(item)] = true
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b *T) int {
		return cmp.Compare(key(a), key(b))
	})
	return out
}

// ID returns the plugin identifier
func (d *Descriptor) ID() string { return d.id }

// Name returns the human readable name
func (d *Descriptor) Name() string { return d.name }

// Version returns the version string
func (d *Descriptor) Version() string { return d.version }

// Provider returns the provider string
func (d *Descriptor) Provider() string { return d.provider }

// Module returns the module reference
func (d *Descriptor) Module() string { return d.module }

// Symbol returns the entry symbol name
func (d *Descriptor) Symbol() string { return d.symbol }

// Path returns the install path or URI
func (d *Descriptor) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

// SetPath replaces the install path. The installing Context uses it to
// anchor relative paths to the directory a descriptor was read from.
func (d *Descriptor) SetPath(path string) {
	d.mu.Lock()
	d.path = path
	d.mu.Unlock()
}

// HasRequires reports whether a dependency list was supplied at all
func (d *Descriptor) HasRequires() bool { return d.requires != nil }

// Requires returns a copy of the dependency list. It is nil when no list
// was supplied.
func (d *Descriptor) Requires() []Require {
	if d.requires == nil {
		return nil
	}
	return slices.Clone(d.requires)
}

// ExtPoints returns the extension points sorted by local identifier
func (d *Descriptor) ExtPoints() []*ExtPoint { return slices.Clone(d.extpoints) }

// Extensions returns the extensions sorted by local identifier
func (d *Descriptor) Extensions() []*Extension { return slices.Clone(d.extensions) }

// ExtPoint looks up an extension point by local identifier
func (d *Descriptor) ExtPoint(localID string) (*ExtPoint, bool) {
	i, ok := slices.BinarySearchFunc(d.extpoints, localID, func(ep *ExtPoint, id string) int {
		return cmp.Compare(ep.localID, id)
	})
	if !ok {
		return nil, false
	}
	return d.extpoints[i], true
}

// Extension looks up an extension by local identifier
func (d *Descriptor) Extension(localID string) (*Extension, bool) {
	i, ok := slices.BinarySearchFunc(d.extensions, localID, func(ext *Extension, id string) int {
		return cmp.Compare(ext.localID, id)
	})
	if !ok {
		return nil, false
	}
	return d.extensions[i], true
}

// Owner returns the registry the descriptor is installed into, or nil
func (d *Descriptor) Owner() Owner {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.owner
}

// ClaimOwner records owner as the installing registry. When another
// registry already holds the descriptor it is returned with false and
// nothing changes.
func (d *Descriptor) ClaimOwner(owner Owner) (Owner, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != nil && d.owner != owner {
		return d.owner, false
	}
	d.owner = owner
	return owner, true
}

// ReleaseOwner clears the owner if it is still owner
func (d *Descriptor) ReleaseOwner(owner Owner) {
	d.mu.Lock()
	if d.owner == owner {
		d.owner = nil
	}
	d.mu.Unlock()
}

// Runtime returns the instance produced by resolving the entry symbol
func (d *Descriptor) Runtime() any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runtime
}

// SetRuntime records the resolved entry instance. Passing nil clears it.
func (d *Descriptor) SetRuntime(runtime any) {
	d.mu.Lock()
	d.runtime = runtime
	d.mu.Unlock()
}

// String implements fmt.Stringer
func (d *Descriptor) String() string {
	if d.version == "" {
		return d.id
	}
	return fmt.Sprintf("%s@%s", d.id, d.version)
}
