// Package native loads Go plugins built with -buildmode=plugin.
//
// Exported functions become resolvable symbols when they have one of the
// shapes accepted by Adapt. Go plugins cannot be unloaded, so Close only
// drops the module's references.
package native

import (
	"fmt"
	"plugin"
	"runtime"
	"sync"

	"github.com/platinummonkey/hinge/pkg/loader"
)

// Kind is the loader kind native modules are registered under
const Kind = "so"

// Suffix is appended to references that have none
const Suffix = ".so"

// Open is the loader factory for native modules
func Open(path string, _ any) (loader.Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open native module %s (%s/%s): %w", path, runtime.GOOS, runtime.GOARCH, err)
	}
	return &module{path: path, lookup: p.Lookup}, nil
}

// Locate resolves ref on the search paths, appending the platform
// suffix when ref has none
func Locate(ref string, paths []string) (string, bool) {
	return loader.LocateFile(ref, paths, Suffix)
}

// Backend returns the backend serving .so files
func Backend() loader.Backend {
	return loader.Backend{Kind: Kind, Factory: Open, Locate: Locate}
}

// WildcardBackend returns the same backend registered for references of
// any otherwise unclaimed kind
func WildcardBackend() loader.Backend {
	return loader.Backend{Kind: "", Factory: Open, Locate: Locate}
}

type module struct {
	path   string
	mu     sync.RWMutex
	lookup func(string) (plugin.Symbol, error)
}

func (m *module) Name() string { return m.path }

func (m *module) Lookup(symbol string) (loader.Symbol, error) {
	m.mu.RLock()
	lookup := m.lookup
	m.mu.RUnlock()

	if lookup == nil {
		return nil, fmt.Errorf("native module %s is closed", m.path)
	}

	sym, err := lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loader.NoSymbol(m.path, symbol), err)
	}
	return Adapt(sym)
}

func (m *module) Close() error {
	m.mu.Lock()
	m.lookup = nil
	m.mu.Unlock()
	return nil
}

// Adapt converts an exported plugin value into a loader.Symbol. Accepted
// function shapes are
//
//	func(any) (any, error)
//	func(any) any
//	func(any) error
//	func() (any, error)
//	func() any
//	func()
//
// and pointers to loader.Symbol. Any other exported variable resolves to
// itself.
func Adapt(sym any) (loader.Symbol, error) {
	switch fn := sym.(type) {
	case nil:
		return nil, fmt.Errorf("nil symbol")
	case loader.Symbol:
		return fn, nil
	case *loader.Symbol:
		if fn == nil || *fn == nil {
			return nil, fmt.Errorf("nil symbol")
		}
		return *fn, nil
	case func(any) (any, error):
		return fn, nil
	case func(any) any:
		return func(arg any) (any, error) { return fn(arg), nil }, nil
	case func(any) error:
		return func(arg any) (any, error) { return nil, fn(arg) }, nil
	case func() (any, error):
		return func(any) (any, error) { return fn() }, nil
	case func() any:
		return func(any) (any, error) { return fn(), nil }, nil
	case func():
		return func(any) (any, error) {
			fn()
			return nil, nil
		}, nil
	default:
		return func(any) (any, error) { return sym, nil }, nil
	}
}
