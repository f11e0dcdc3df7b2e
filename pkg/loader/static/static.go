// Package static provides in-process modules registered by name. They
// stand in for modules that are compiled into the host, such as the
// built-in archive readers.
package static

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/platinummonkey/hinge/pkg/loader"
)

// Kind is the loader kind static modules are registered under
const Kind = "static"

// Prefix marks resolved paths of static modules
const Prefix = "static:"

// Registry holds named in-process modules
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]loader.Symbol
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]map[string]loader.Symbol)}
}

// Provide registers or extends the module called name. Later exports
// replace earlier ones with the same symbol name.
func (r *Registry) Provide(name string, exports map[string]loader.Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()

	module, ok := r.modules[name]
	if !ok {
		module = make(map[string]loader.Symbol, len(exports))
		r.modules[name] = module
	}
	maps.Copy(module, exports)
}

// Names returns the provided module names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.modules))
}

// Locate claims references naming a provided module, with or without the
// static: prefix
func (r *Registry) Locate(ref string, _ []string) (string, bool) {
	name := strings.TrimPrefix(ref, Prefix)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.modules[name]; !ok {
		return "", false
	}
	return Prefix + name, true
}

// Open is the loader factory for static modules
func (r *Registry) Open(path string, _ any) (loader.Module, error) {
	name := strings.TrimPrefix(path, Prefix)

	r.mu.RLock()
	defer r.mu.RUnlock()

	exports, ok := r.modules[name]
	if !ok {
		return nil, loader.NoSymbol(path, "*")
	}
	return &module{name: name, exports: maps.Clone(exports)}, nil
}

// Backend returns the loader backend serving this registry
func (r *Registry) Backend() loader.Backend {
	return loader.Backend{
		Kind:    Kind,
		Factory: r.Open,
		Locate:  r.Locate,
		Virtual: true,
	}
}

type module struct {
	name    string
	exports map[string]loader.Symbol
}

func (m *module) Name() string { return Prefix + m.name }

func (m *module) Lookup(symbol string) (loader.Symbol, error) {
	sym, ok := m.exports[symbol]
	if !ok {
		return nil, loader.NoSymbol(m.Name(), symbol)
	}
	return sym, nil
}

func (m *module) Close() error { return nil }
