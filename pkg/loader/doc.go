// Package loader resolves module references to live, resolvable units of
// code.
//
// # Overview
//
// A Loader holds ordered search paths, a set of backends keyed by module
// kind (the file suffix without its dot, or the empty wildcard) and a cache
// of loaded modules keyed by resolved path.
//
//	l := loader.NewLoader(loader.WithLogger(log))
//	l.AddPaths(os.Getenv("HINGE_PLUGIN_PATH"))
//	_ = l.RegisterBackend(lua.Backend())
//
//	h, err := l.Load("editor.lua")
//	instance, err := h.Resolve("setup", d)
//
// # Backends
//
// Backends implement Module (Name, Lookup, Close). The native, lua and
// static subpackages provide Go plugins, gopher-lua scripts and in-process
// modules. A backend may override path resolution with Locate and may mark
// itself Virtual to claim references by name, which is how static modules
// such as "xmlarchive-1.0" are found.
//
// # Caching
//
// Loading the same resolved path always returns the same *Handle; the
// factory runs at most once per path even under concurrent loads. Resolve
// remembers the instance built for each symbol unless called with
// WithCache(false), which always builds a fresh instance.
package loader
