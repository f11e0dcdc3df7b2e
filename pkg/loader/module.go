package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinummonkey/hinge/pkg/errdefs"
)

// Symbol is an exported entry point or constructor. It receives the
// argument supplied to Handle.Resolve.
type Symbol func(arg any) (any, error)

// Module is a loaded unit of code produced by a backend
type Module interface {
	// Name returns a short description, usually the resolved path
	Name() string
	// Lookup returns the named export or an error wrapping errdefs.ErrNoSymbol
	Lookup(symbol string) (Symbol, error)
	// Close releases backend resources
	Close() error
}

// Factory constructs a module from a resolved path. arg is the value bound
// when the factory was registered.
type Factory func(path string, arg any) (Module, error)

// LocateFunc maps a module reference to a resolved path using the loader
// search paths
type LocateFunc func(ref string, paths []string) (string, bool)

// Backend is a registered factory together with the rules that decide
// which references it serves
type Backend struct {
	// Kind is the file suffix served, without the dot. Empty is the wildcard.
	Kind string
	// Factory builds modules
	Factory Factory
	// Arg is passed to every Factory call
	Arg any
	// Locate overrides file-based path resolution
	Locate LocateFunc
	// Virtual backends are consulted by name before the wildcard, for
	// references whose suffix no backend serves
	Virtual bool
}

// NoSymbol builds the error modules return from Lookup for missing exports
func NoSymbol(module, symbol string) error {
	return fmt.Errorf("%w: %s in %s", errdefs.ErrNoSymbol, symbol, module)
}

// LocateFile resolves ref to an absolute path of an existing regular file.
// Absolute references are checked as is; relative references are tried as
// given, then under each search path in order. Each candidate is also tried
// with every suffix appended.
func LocateFile(ref string, paths []string, suffixes ...string) (string, bool) {
	if ref == "" {
		return "", false
	}

	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		for _, dir := range paths {
			candidates = append(candidates, filepath.Join(dir, ref))
		}
	}

	for _, candidate := range candidates {
		if path, ok := regularFile(candidate); ok {
			return path, true
		}
		for _, suffix := range suffixes {
			if path, ok := regularFile(candidate + suffix); ok {
				return path, true
			}
		}
	}
	return "", false
}

func regularFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, true
	}
	return abs, true
}
